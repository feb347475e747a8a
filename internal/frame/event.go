// ABOUTME: Normalized inbound event model decoded from Event (0) frame payloads.
// ABOUTME: Covers the message subset the bridge consumes: text, kmarkdown, card.

package frame

import (
	"encoding/json"
	"fmt"
)

// Channel types carried on inbound events.
const (
	ChannelGroup     = "GROUP"
	ChannelDirect    = "PERSON"
	ChannelBroadcast = "BROADCAST"
)

// Message types. System (255) events carry platform housekeeping, not chat.
const (
	MessageText      = 1
	MessageKMarkdown = 9
	MessageCard      = 10
	MessageSystem    = 255
)

// Author describes the sender of a message, as embedded in event extras.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Bot      bool   `json:"bot"`
}

// Quote is an optional reference to a replied-to message.
type Quote struct {
	MsgID   string  `json:"rong_id"`
	Content string  `json:"content"`
	Author  *Author `json:"author"`
}

// Extra holds the type-dependent trailing fields of an event.
type Extra struct {
	GuildID    string   `json:"guild_id"`
	Mention    []string `json:"mention"`
	MentionAll bool     `json:"mention_all"`
	Author     *Author  `json:"author"`
	Quote      *Quote   `json:"quote"`
}

// Event is a normalized inbound gateway event.
type Event struct {
	ChannelType string `json:"channel_type"`
	Type        int    `json:"type"`
	TargetID    string `json:"target_id"`
	AuthorID    string `json:"author_id"`
	Content     string `json:"content"`
	MsgID       string `json:"msg_id"`
	Timestamp   int64  `json:"msg_timestamp"`
	Nonce       string `json:"nonce"`
	Extra       Extra  `json:"extra"`
}

// ParseEvent decodes an Event (0) frame payload.
func ParseEvent(payload json.RawMessage) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}
	return &e, nil
}

// Mentions reports whether the event explicitly mentions the given user.
func (e *Event) Mentions(userID string) bool {
	for _, id := range e.Extra.Mention {
		if id == userID {
			return true
		}
	}
	return false
}

// IsDirect reports whether the event arrived over a direct (person) channel.
func (e *Event) IsDirect() bool {
	return e.ChannelType == ChannelDirect
}
