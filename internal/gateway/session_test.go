// ABOUTME: Tests for the connection session state machine.
// ABOUTME: Uses an in-process WebSocket gateway to script protocol scenarios.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway runs an in-process WebSocket server whose handler scripts
// one side of the protocol conversation.
type fakeGateway struct {
	srv *httptest.Server
	url string
}

func newFakeGateway(t *testing.T, handler func(conn *websocket.Conn)) *fakeGateway {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	return &fakeGateway{
		srv: srv,
		url: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// fixedEndpoint serves a constant gateway URL and counts fetches.
type fixedEndpoint struct {
	url     string
	err     error
	fetches atomic.Int64
}

func (f *fixedEndpoint) Gateway(_ context.Context) (string, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// recordSink captures session callbacks for assertions.
type recordSink struct {
	mu     sync.Mutex
	ups    []bool
	events []json.RawMessage
}

func (r *recordSink) SessionUp(_ context.Context, resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ups = append(r.ups, resumed)
}

func (r *recordSink) HandleEvent(_ context.Context, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
}

func (r *recordSink) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordSink) sessionUps() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.ups...)
}

func sendFrame(conn *websocket.Conn, raw string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(raw))
}

// holdOpen blocks until the peer closes the connection.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestSession(endpoint EndpointFetcher, sink Sink) *Session {
	return NewSession(SessionConfig{
		Endpoint:          endpoint,
		Sink:              sink,
		Logger:            discardLogger(),
		HelloTimeout:      500 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSession_HandshakeAndEvents(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		sendFrame(conn, `{"s":0,"d":{"content":"one"},"sn":5}`)
		sendFrame(conn, `{"s":0,"d":{"content":"two"},"sn":3}`)
		sendFrame(conn, `{"s":0,"d":{"content":"three"},"sn":7}`)
		holdOpen(conn)
	})

	sink := &recordSink{}
	session := newTestSession(&fixedEndpoint{url: gw.url}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return sink.eventCount() == 3 })

	assert.Equal(t, StateLive, session.State())
	assert.Equal(t, "sess-1", session.SessionID())
	// Monotonic non-decreasing: the out-of-order sn 3 does not regress it.
	assert.Equal(t, int64(7), session.LastSequence())
	assert.Equal(t, []bool{false}, sink.sessionUps())

	cancel()
	require.NoError(t, <-runDone, "cancellation is not an error")
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_HeartbeatCarriesSequence(t *testing.T) {
	pings := make(chan string, 10)
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		sendFrame(conn, `{"s":0,"d":{},"sn":12}`)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"s":2`) {
				pings <- string(data)
				// Answer with a pong; the session must treat it as a no-op.
				sendFrame(conn, `{"s":3}`)
			}
		}
	})

	sink := &recordSink{}
	session := newTestSession(&fixedEndpoint{url: gw.url}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	select {
	case ping := <-pings:
		assert.JSONEq(t, `{"s":2,"sn":12}`, ping)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestSession_HelloTimeout(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		// Never send hello.
		holdOpen(conn)
	})

	session := newTestSession(&fixedEndpoint{url: gw.url}, &recordSink{})

	err := session.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hello")
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_ServerReconnectResetsSession(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		sendFrame(conn, `{"s":0,"d":{},"sn":44}`)
		sendFrame(conn, `{"s":5,"d":{}}`)
		holdOpen(conn)
	})

	session := newTestSession(&fixedEndpoint{url: gw.url}, &recordSink{})

	err := session.Run(context.Background())
	require.ErrorIs(t, err, ErrServerReconnect)

	// Full reset: next connect is a fresh session from sequence zero.
	assert.Empty(t, session.SessionID())
	assert.Zero(t, session.LastSequence())
}

func TestSession_ResumeAckUpdatesSessionID(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		sendFrame(conn, `{"s":6,"d":{"session_id":"sess-2"}}`)
		holdOpen(conn)
	})

	sink := &recordSink{}
	session := newTestSession(&fixedEndpoint{url: gw.url}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)

	waitFor(t, 2*time.Second, func() bool { return session.SessionID() == "sess-2" })
	assert.Equal(t, StateLive, session.State(), "resume ack keeps the session live")

	cancel()
}

func TestSession_CancelWhileAwaitingHello(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		holdOpen(conn)
	})

	endpoint := &fixedEndpoint{url: gw.url}
	session := NewSession(SessionConfig{
		Endpoint:          endpoint,
		Sink:              &recordSink{},
		Logger:            discardLogger(),
		HelloTimeout:      10 * time.Second,
		HeartbeatInterval: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return session.State() == StateAwaitingHello })
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err, "cancellation resolves without error")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
	assert.Equal(t, int64(1), endpoint.fetches.Load(), "no reconnect attempt after cancel")
}

func TestSession_EndpointFetchFailure(t *testing.T) {
	endpoint := &fixedEndpoint{err: errors.New("api down")}
	session := newTestSession(endpoint, &recordSink{})

	err := session.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		sendFrame(conn, `{not even json`)
		sendFrame(conn, `{"s":0,"d":{"content":"after garbage"},"sn":1}`)
		holdOpen(conn)
	})

	sink := &recordSink{}
	session := newTestSession(&fixedEndpoint{url: gw.url}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	// The malformed frame is a local, non-fatal error; the event after it
	// still arrives.
	waitFor(t, 2*time.Second, func() bool { return sink.eventCount() == 1 })
	assert.Equal(t, StateLive, session.State())
}

func TestSession_SocketCloseIsAnError(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn) {
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		// Close abruptly while live.
	})

	session := newTestSession(&fixedEndpoint{url: gw.url}, &recordSink{})

	err := session.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrServerReconnect)
}

func TestSession_ResumeParamsOnReconnect(t *testing.T) {
	var firstConn atomic.Bool
	var resumeQuery atomic.Value

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if firstConn.CompareAndSwap(false, true) {
			sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
			sendFrame(conn, `{"s":0,"d":{},"sn":9}`)
			// Drop the connection once the client has state to resume.
			time.Sleep(100 * time.Millisecond)
			return
		}

		resumeQuery.Store(r.URL.RawQuery)
		sendFrame(conn, `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`)
		holdOpen(conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	session := newTestSession(&fixedEndpoint{url: wsURL}, &recordSink{})

	// First run ends with the server dropping the connection.
	err := session.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, "sess-1", session.SessionID())

	// Second run resumes with session_id and sn.
	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)
	waitFor(t, 2*time.Second, func() bool { return resumeQuery.Load() != nil })
	cancel()

	query := resumeQuery.Load().(string)
	assert.Contains(t, query, "resume=1")
	assert.Contains(t, query, "session_id=sess-1")
	assert.Contains(t, query, "sn=9")
}
