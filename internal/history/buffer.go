// ABOUTME: Bounded per-channel buffer of unaddressed group messages.
// ABOUTME: Entries are replayed as context when the bot is finally addressed.

package history

import (
	"sync"
)

// Entry is one buffered group message.
type Entry struct {
	SenderID  string
	Body      string
	Timestamp int64
	MessageID string
}

// Store keeps a bounded, insertion-ordered message buffer per channel.
// Each account's pipeline owns exactly one Store; channels are never
// shared across accounts or sessions.
type Store struct {
	mu       sync.Mutex
	channels map[string][]Entry
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{
		channels: make(map[string][]Entry),
	}
}

// Append adds an entry to a channel's buffer, evicting the oldest entry
// when the buffer is at the given capacity. The limit is passed per call
// because it is resolved from configuration per event.
func (s *Store) Append(channelID string, e Entry, limit int) {
	if limit <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.channels[channelID]
	entries = append(entries, e)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	s.channels[channelID] = entries
}

// Snapshot returns a copy of a channel's buffered entries in insertion order.
func (s *Store) Snapshot(channelID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.channels[channelID]
	if len(entries) == 0 {
		return nil
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Clear drops a channel's buffer. Called only after a successful downstream
// dispatch so a failed dispatch preserves the context for retry.
func (s *Store) Clear(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels, channelID)
}

// Len returns the number of buffered entries for a channel.
func (s *Store) Len(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channels[channelID])
}
