// ABOUTME: Per-account message handler sitting behind the admission pipeline.
// ABOUTME: Applies policy, manages pending history, and dispatches replies.

package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/kook-bridge/internal/account"
	"github.com/2389/kook-bridge/internal/frame"
	"github.com/2389/kook-bridge/internal/history"
	"github.com/2389/kook-bridge/internal/host"
	"github.com/2389/kook-bridge/internal/policy"
)

// Replier delivers outbound text to the platform.
type Replier interface {
	SendChannelMessage(ctx context.Context, targetID, content, quote string) (string, error)
	SendDirectMessage(ctx context.Context, targetID, content, quote string) (string, error)
}

// Dispatcher handles admitted events for one account: policy evaluation,
// history buffering, and reply dispatch through the host runtime.
type Dispatcher struct {
	accountID string
	resolver  *account.Resolver
	gate      *policy.Gate
	history   *history.Store
	runtime   host.Runtime
	replier   Replier
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher for one account. The history store is
// owned by this dispatcher; nothing else mutates it.
func NewDispatcher(accountID string, resolver *account.Resolver, gate *policy.Gate,
	store *history.Store, runtime host.Runtime, replier Replier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		accountID: accountID,
		resolver:  resolver,
		gate:      gate,
		history:   store,
		runtime:   runtime,
		replier:   replier,
		logger:    logger,
	}
}

// HandleMessage processes one admitted event. The account view is resolved
// fresh for every event so configuration changes apply immediately.
func (d *Dispatcher) HandleMessage(ctx context.Context, botID string, evt *frame.Event) error {
	view := d.resolver.Resolve(d.accountID)

	verdict, err := d.gate.Evaluate(ctx, view, botID, evt)
	if err != nil {
		return err
	}

	switch verdict {
	case policy.VerdictReject:
		d.logger.Debug("event rejected by policy",
			"channel", evt.TargetID,
			"sender", evt.AuthorID,
		)
		return nil

	case policy.VerdictBuffer:
		d.history.Append(evt.TargetID, history.Entry{
			SenderID:  evt.AuthorID,
			Body:      evt.Content,
			Timestamp: evt.Timestamp,
			MessageID: evt.MsgID,
		}, view.HistoryLimit)
		return nil

	case policy.VerdictPending:
		peer := d.peer(evt)
		text := fmt.Sprintf("pairing request from %s on account %s", evt.AuthorID, d.accountID)
		if err := d.runtime.EnqueueNotification(ctx, text, peer); err != nil {
			return fmt.Errorf("enqueueing pairing notification: %w", err)
		}
		return nil

	case policy.VerdictAccept:
		return d.dispatch(ctx, evt)

	default:
		return nil
	}
}

// dispatch routes an accepted event through the host runtime, prepending
// any buffered channel context, and clears the buffer only on success.
func (d *Dispatcher) dispatch(ctx context.Context, evt *frame.Event) error {
	peer := d.peer(evt)

	sessionKey, err := d.runtime.ResolveRoute(ctx, peer)
	if err != nil {
		return fmt.Errorf("resolving route: %w", err)
	}

	entries := d.history.Snapshot(evt.TargetID)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.SenderID, e.Body))
	}

	rc := host.ReplyContext{
		SessionKey: sessionKey,
		Body:       d.runtime.FormatEnvelope(peer, evt.Content, lines),
		Peer:       peer,
		MessageID:  evt.MsgID,
	}

	result, err := d.runtime.DispatchReply(ctx, rc, d.deliverFunc(evt))
	if err != nil {
		// History stays buffered so a retry still has its context.
		return fmt.Errorf("dispatching reply: %w", err)
	}

	d.history.Clear(evt.TargetID)
	d.logger.Info("dispatched message",
		"channel", evt.TargetID,
		"session", sessionKey,
		"queued_final", result.QueuedFinal,
		"context_lines", len(lines),
	)
	return nil
}

// deliverFunc builds the outbound reply capability for one event. Group
// replies quote the addressed message; direct replies go back to the sender.
func (d *Dispatcher) deliverFunc(evt *frame.Event) host.ReplyFunc {
	return func(ctx context.Context, text string) error {
		var err error
		if evt.IsDirect() {
			_, err = d.replier.SendDirectMessage(ctx, evt.AuthorID, text, "")
		} else {
			_, err = d.replier.SendChannelMessage(ctx, evt.TargetID, text, evt.MsgID)
		}
		return err
	}
}

func (d *Dispatcher) peer(evt *frame.Event) host.Peer {
	return host.Peer{
		AccountID:   d.accountID,
		ChannelType: evt.ChannelType,
		ChannelID:   evt.TargetID,
		GuildID:     evt.Extra.GuildID,
		SenderID:    evt.AuthorID,
	}
}
