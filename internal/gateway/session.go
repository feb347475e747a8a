// ABOUTME: Connection session state machine for one gateway WebSocket.
// ABOUTME: Handshake, heartbeat, sequence tracking, and server-driven resets.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/kook-bridge/internal/frame"
)

// State is the connection session's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateFetchingEndpoint
	StateConnecting
	StateAwaitingHello
	StateLive
	StateClosing
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateFetchingEndpoint:
		return "fetching_endpoint"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrServerReconnect reports that the gateway demanded a full reset. It is
// a protocol-mandated state transition, not a failure; the supervisor
// reconnects from scratch.
var ErrServerReconnect = errors.New("server requested reconnect")

// EndpointFetcher provides a fresh gateway URL before each connection attempt.
type EndpointFetcher interface {
	Gateway(ctx context.Context) (string, error)
}

// Sink receives the session's decoded output. SessionUp fires on every
// transition to live; resumed is false when the session is fresh.
// HandleEvent must not block the session loop for long; slow work belongs
// in the sink's own goroutines.
type Sink interface {
	SessionUp(ctx context.Context, resumed bool)
	HandleEvent(ctx context.Context, payload json.RawMessage)
}

// SessionConfig wires a Session's collaborators and timing.
type SessionConfig struct {
	Endpoint          EndpointFetcher
	Sink              Sink
	Logger            *slog.Logger
	HelloTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Session owns one WebSocket connection's lifecycle. A Session is reusable:
// the supervisor calls Run repeatedly, and sessionID/lastSequence persist
// across resumable reconnects until a server-demanded or full reset.
type Session struct {
	endpoint          EndpointFetcher
	sink              Sink
	logger            *slog.Logger
	helloTimeout      time.Duration
	heartbeatInterval time.Duration

	// onLive is invoked from the session loop on every transition to live.
	onLive func()

	mu        sync.Mutex
	state     State
	sessionID string
	lastSeq   int64
}

// NewSession creates a Session in the disconnected state.
func NewSession(cfg SessionConfig) *Session {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 6 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Session{
		endpoint:          cfg.Endpoint,
		sink:              cfg.Sink,
		logger:            cfg.Logger,
		helloTimeout:      cfg.HelloTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		state:             StateDisconnected,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the gateway-assigned session ID, empty for a fresh session.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// LastSequence returns the highest event sequence seen this session.
func (s *Session) LastSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Reset clears the resumable session state: next connect is a fresh session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.lastSeq = 0
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug("session state", "from", prev, "to", state)
	}
}

func (s *Session) setSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// advanceSequence keeps lastSeq monotonic non-decreasing.
func (s *Session) advanceSequence(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

// Run performs one connection attempt and, if it reaches live, relays
// events until the connection ends. It returns nil only when ctx is
// cancelled; every other exit is an error for the supervisor to classify.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	s.setState(StateFetchingEndpoint)
	endpoint, err := s.endpoint.Gateway(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	resumed := s.SessionID() != ""
	if resumed {
		endpoint = resumeURL(endpoint, s.SessionID(), s.LastSequence())
	}

	s.setState(StateConnecting)
	dialer := websocket.Dialer{HandshakeTimeout: s.helloTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan *frame.Frame, 16)
	readErr := make(chan error, 1)
	go s.readLoop(conn, frames, readErr, done)

	s.setState(StateAwaitingHello)
	helloTimer := time.NewTimer(s.helloTimeout)
	defer helloTimer.Stop()

	// Armed only once live. A nil channel never fires in select.
	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time
	defer func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// Cancellation is clean termination, not an error.
			s.setState(StateClosing)
			s.closeConn(conn)
			return nil

		case <-helloTimer.C:
			if s.State() != StateAwaitingHello {
				continue
			}
			s.setState(StateClosing)
			s.closeConn(conn)
			return fmt.Errorf("no hello within %v", s.helloTimeout)

		case err := <-readErr:
			s.setState(StateClosing)
			s.closeConn(conn)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway socket: %w", err)

		case <-heartbeatC:
			ping, err := frame.EncodePing(s.LastSequence())
			if err != nil {
				s.logger.Error("encoding heartbeat", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				s.setState(StateClosing)
				s.closeConn(conn)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sending heartbeat: %w", err)
			}

		case f := <-frames:
			switch f.Signal {
			case frame.SignalHello:
				if s.State() != StateAwaitingHello {
					continue
				}
				hello, err := frame.ParseHello(f)
				if err != nil {
					s.logger.Warn("dropping malformed hello", "error", err)
					continue
				}
				if hello.Code != 0 {
					s.setState(StateClosing)
					s.closeConn(conn)
					return fmt.Errorf("gateway rejected handshake: code %d", hello.Code)
				}

				if !helloTimer.Stop() {
					select {
					case <-helloTimer.C:
					default:
					}
				}
				s.setSessionID(hello.SessionID)
				heartbeat = time.NewTicker(s.heartbeatInterval)
				heartbeatC = heartbeat.C
				s.setState(StateLive)
				s.logger.Info("gateway session live",
					"session_id", hello.SessionID,
					"resumed", resumed,
				)
				if s.onLive != nil {
					s.onLive()
				}
				s.sink.SessionUp(ctx, resumed)

			case frame.SignalEvent:
				if f.Sequence != nil {
					s.advanceSequence(*f.Sequence)
				}
				s.sink.HandleEvent(ctx, f.Payload)

			case frame.SignalPong:
				// Liveness is inferred from heartbeat sends succeeding,
				// not from pong receipt.

			case frame.SignalReconnect:
				s.logger.Info("server requested reconnect, resetting session")
				s.Reset()
				s.setState(StateClosing)
				s.closeConn(conn)
				return ErrServerReconnect

			case frame.SignalResumeAck:
				ack, err := frame.ParseHello(f)
				if err != nil {
					s.logger.Warn("dropping malformed resume ack", "error", err)
					continue
				}
				if ack.SessionID != "" {
					s.setSessionID(ack.SessionID)
				}

			default:
				s.logger.Debug("ignoring unexpected signal", "signal", f.Signal)
			}
		}
	}
}

// readLoop decodes inbound frames until the connection fails or the run
// loop exits. Malformed frames are logged and dropped; the session continues.
func (s *Session) readLoop(conn *websocket.Conn, frames chan<- *frame.Frame, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}

		f, err := frame.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

// closeConn sends a best-effort close frame and closes the socket.
// Safe to call on an already-closed connection.
func (s *Session) closeConn(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}

// resumeURL appends resume parameters so the gateway can replay missed
// events instead of starting a fresh session.
func resumeURL(endpoint, sessionID string, lastSeq int64) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("resume", "1")
	q.Set("session_id", sessionID)
	q.Set("sn", strconv.FormatInt(lastSeq, 10))
	u.RawQuery = q.Encode()
	return u.String()
}
