// ABOUTME: Inbound event admission: self-echo, system, and type filtering.
// ABOUTME: Admitted events are dispatched as isolated units of concurrent work.

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/kook-bridge/internal/frame"
)

// IdentityProber resolves the session's own user ID.
type IdentityProber interface {
	Me(ctx context.Context) (string, error)
}

// Handler processes one admitted event. botID is the session identity the
// event was admitted under. Errors are logged at the dispatch boundary and
// never reach the session loop.
type Handler interface {
	HandleMessage(ctx context.Context, botID string, evt *frame.Event) error
}

// allowedTypes are the message types forwarded to the handler.
var allowedTypes = map[int]bool{
	frame.MessageText:      true,
	frame.MessageKMarkdown: true,
	frame.MessageCard:      true,
}

// Pipeline filters decoded gateway events before they reach the handler.
// It implements the session's Sink.
type Pipeline struct {
	prober  IdentityProber
	handler Handler
	logger  *slog.Logger

	mu    sync.Mutex
	botID string

	// wg tracks in-flight dispatches so tests can drain them.
	wg sync.WaitGroup
}

// New creates a Pipeline forwarding admitted events to handler.
func New(prober IdentityProber, handler Handler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		prober:  prober,
		handler: handler,
		logger:  logger,
	}
}

// BotID returns the cached session identity, empty if not yet resolved.
func (p *Pipeline) BotID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.botID
}

// SessionUp resolves the bot identity once per fresh session. A resumed
// session keeps the cached identity.
func (p *Pipeline) SessionUp(ctx context.Context, resumed bool) {
	if resumed && p.BotID() != "" {
		return
	}

	id, err := p.prober.Me(ctx)
	if err != nil {
		// Without an identity the self-echo check cannot work; keep the
		// previous value and let the next fresh session retry.
		p.logger.Error("resolving self identity", "error", err)
		return
	}

	p.mu.Lock()
	p.botID = id
	p.mu.Unlock()
	p.logger.Info("resolved self identity", "bot_id", id)
}

// HandleEvent classifies a decoded event payload and, if admitted, hands it
// to the handler on its own goroutine so slow replies never stall the
// session loop.
func (p *Pipeline) HandleEvent(ctx context.Context, payload json.RawMessage) {
	evt, err := frame.ParseEvent(payload)
	if err != nil {
		p.logger.Warn("dropping undecodable event", "error", err)
		return
	}

	botID := p.BotID()

	// Self-echo: never react to our own messages.
	if botID != "" && evt.AuthorID == botID {
		return
	}

	// System events carry platform housekeeping, not chat.
	if evt.Type == frame.MessageSystem {
		return
	}

	if !allowedTypes[evt.Type] {
		p.logger.Debug("dropping unsupported message type",
			"type", evt.Type,
			"msg_id", evt.MsgID,
		)
		return
	}

	p.wg.Add(1)
	go p.dispatch(ctx, botID, evt)
}

// dispatch runs the handler for one event, isolating failures to that event.
func (p *Pipeline) dispatch(ctx context.Context, botID string, evt *frame.Event) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				"msg_id", evt.MsgID,
				"panic", r,
			)
		}
	}()

	if err := p.handler.HandleMessage(ctx, botID, evt); err != nil {
		p.logger.Error("handling message",
			"msg_id", evt.MsgID,
			"channel", evt.TargetID,
			"error", err,
		)
	}
}

// Wait blocks until all in-flight dispatches complete.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
