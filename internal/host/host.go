// ABOUTME: Host runtime capability interfaces consumed by the bridge.
// ABOUTME: Routing, notification, envelope formatting, and reply dispatch.

package host

import (
	"context"
)

// Peer identifies the remote party a message came from, in enough detail
// for the host runtime to derive a stable conversation route.
type Peer struct {
	AccountID   string
	ChannelType string
	ChannelID   string
	GuildID     string
	SenderID    string
}

// ReplyContext carries one addressed message, already enveloped, to the
// host runtime for dispatch.
type ReplyContext struct {
	SessionKey string
	Body       string
	Peer       Peer
	MessageID  string
}

// DispatchResult summarizes what the host runtime produced for a dispatch.
type DispatchResult struct {
	QueuedFinal bool
	Counts      map[string]int
}

// ReplyFunc delivers one reply text back to the originating platform.
type ReplyFunc func(ctx context.Context, text string) error

// Runtime is the host messaging/orchestration surface the bridge consumes.
// Implementations are external collaborators; the bridge holds them as
// injected capabilities and never reaches for process-wide state.
type Runtime interface {
	// ResolveRoute maps a peer to the host-side session key.
	ResolveRoute(ctx context.Context, peer Peer) (string, error)

	// EnqueueNotification hands the host a non-conversational notice,
	// such as a pairing request awaiting approval.
	EnqueueNotification(ctx context.Context, text string, peer Peer) error

	// FormatEnvelope builds the dispatch body from the addressed message
	// and any buffered channel context lines.
	FormatEnvelope(peer Peer, content string, history []string) string

	// DispatchReply runs the host's reply pipeline for the enveloped
	// message, delivering outbound text through the given ReplyFunc.
	DispatchReply(ctx context.Context, rc ReplyContext, deliver ReplyFunc) (DispatchResult, error)
}
