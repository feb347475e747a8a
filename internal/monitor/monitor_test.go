// ABOUTME: Tests for the monitor entry point and its eager validation.
// ABOUTME: Includes an end-to-end run against a fake platform server.

package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/kook-bridge/internal/config"
)

func monitorConfig(baseURL string, accounts map[string]config.AccountConfig) *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:           baseURL,
			HelloTimeout:      500 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
		},
		Host: config.HostConfig{URL: "http://host.local"},
		Defaults: config.Defaults{
			GroupPolicy:    config.GroupPolicyOpen,
			DMPolicy:       config.DMPolicyOpen,
			RequireMention: boolPtr(false),
			HistoryLimit:   5,
		},
		Accounts: accounts,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform serves the REST endpoints and a gateway WebSocket that
// completes the hello handshake and then idles until the client leaves.
func fakePlatform(t *testing.T) (*httptest.Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	var apiCalls, wsConns atomic.Int64
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/gateway/index", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		wsURL := "ws://" + r.Host + "/gateway"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]string{"url": wsURL},
		})
	})
	mux.HandleFunc("/api/v3/user/me", func(w http.ResponseWriter, _ *http.Request) {
		apiCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]string{"id": "bot-1"},
		})
	})
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		wsConns.Add(1)
		hello := `{"s":1,"d":{"code":0,"session_id":"sess-1"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &apiCalls, &wsConns
}

func TestMonitor_MissingTokenFailsBeforeAnyConnection(t *testing.T) {
	srv, apiCalls, _ := fakePlatform(t)
	cfg := monitorConfig(srv.URL, map[string]config.AccountConfig{
		"main": {Token: ""},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccountNotConfigured)
	assert.Contains(t, err.Error(), "main")
	assert.Zero(t, apiCalls.Load())
}

func TestMonitor_MissingTokenFailsEvenWithOtherValidAccounts(t *testing.T) {
	srv, apiCalls, _ := fakePlatform(t)
	cfg := monitorConfig(srv.URL, map[string]config.AccountConfig{
		"good": {Token: "tok"},
		"bad":  {Token: ""},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAccountNotConfigured)
	assert.Zero(t, apiCalls.Load())
}

func TestMonitor_DisabledAccountsAreSkipped(t *testing.T) {
	cfg := monitorConfig("http://unused.local", map[string]config.AccountConfig{
		"off": {Token: "tok", Enabled: boolPtr(false)},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestMonitor_DisabledAccountNeedsNoToken(t *testing.T) {
	// A disabled account with no token is a valid configuration.
	cfg := monitorConfig("http://unused.local", map[string]config.AccountConfig{
		"off": {Enabled: boolPtr(false)},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestMonitor_RunAccountRejectsDisabled(t *testing.T) {
	cfg := monitorConfig("http://unused.local", map[string]config.AccountConfig{
		"off": {Token: "tok", Enabled: boolPtr(false)},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	err := m.RunAccount(context.Background(), "off")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestMonitor_RunAccountRejectsUnknownAccount(t *testing.T) {
	cfg := monitorConfig("http://unused.local", map[string]config.AccountConfig{
		"main": {Token: "tok"},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	// Unknown accounts resolve to a disabled view.
	err := m.RunAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestMonitor_RunsUntilCancelled(t *testing.T) {
	srv, _, wsConns := fakePlatform(t)
	cfg := monitorConfig(srv.URL, map[string]config.AccountConfig{
		"main": {Token: "tok"},
	})
	m := New(cfg, &stubRuntime{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Wait for the gateway session to come up.
	deadline := time.After(5 * time.Second)
	for wsConns.Load() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("gateway connection never established")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
