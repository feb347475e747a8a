// ABOUTME: Monitor entry point running one gateway session per account.
// ABOUTME: Validates configuration eagerly and supervises concurrent sessions.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/kook-bridge/internal/account"
	"github.com/2389/kook-bridge/internal/config"
	"github.com/2389/kook-bridge/internal/gateway"
	"github.com/2389/kook-bridge/internal/history"
	"github.com/2389/kook-bridge/internal/host"
	"github.com/2389/kook-bridge/internal/pipeline"
	"github.com/2389/kook-bridge/internal/policy"
	"github.com/2389/kook-bridge/internal/rest"
)

// ErrAccountDisabled indicates the account is explicitly disabled.
var ErrAccountDisabled = errors.New("account disabled")

// ErrAccountNotConfigured indicates the account has no token.
var ErrAccountNotConfigured = errors.New("account not configured: missing token")

// ErrNoAccounts indicates no enabled account exists to run.
var ErrNoAccounts = errors.New("no enabled accounts")

// Monitor owns the per-account session stacks. All collaborators are
// injected; the monitor holds no process-wide state.
type Monitor struct {
	cfg      *config.Config
	resolver *account.Resolver
	runtime  host.Runtime
	pairing  policy.Approver
	logger   *slog.Logger
}

// New creates a Monitor. pairing may be nil when no pairing collaborator
// is deployed.
func New(cfg *config.Config, runtime host.Runtime, pairing policy.Approver, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		resolver: account.NewResolver(cfg),
		runtime:  runtime,
		pairing:  pairing,
		logger:   logger,
	}
}

// Run validates every account, then runs one session per enabled account
// until ctx is cancelled. Configuration problems on enabled accounts fail
// immediately, before any socket is opened; disabled accounts are skipped.
func (m *Monitor) Run(ctx context.Context) error {
	var runnable []string
	for _, id := range m.resolver.Accounts() {
		view := m.resolver.Resolve(id)
		if !view.Enabled {
			m.logger.Info("skipping disabled account", "account", id)
			continue
		}
		if !view.Configured {
			return fmt.Errorf("account %s: %w", id, ErrAccountNotConfigured)
		}
		runnable = append(runnable, id)
	}
	if len(runnable) == 0 {
		return ErrNoAccounts
	}

	var wg sync.WaitGroup
	for _, id := range runnable {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			if err := m.RunAccount(ctx, accountID); err != nil {
				m.logger.Error("account monitor stopped", "account", accountID, "error", err)
			}
		}(id)
	}
	wg.Wait()
	return nil
}

// RunAccount validates one account and runs its session stack until ctx is
// cancelled. Accounts share no mutable state: each gets its own REST
// client, history store, pipeline, and supervised session.
func (m *Monitor) RunAccount(ctx context.Context, accountID string) error {
	view := m.resolver.Resolve(accountID)
	if !view.Enabled {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountDisabled)
	}
	if !view.Configured {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountNotConfigured)
	}

	logger := m.logger.With("account", accountID)

	client := rest.NewClient(m.cfg.Gateway.BaseURL, view.Token, m.cfg.Gateway.Compress)
	gate := policy.NewGate(m.pairing, logger)
	store := history.NewStore()
	dispatcher := NewDispatcher(accountID, m.resolver, gate, store, m.runtime, client, logger)
	pipe := pipeline.New(client, dispatcher, logger)

	session := gateway.NewSession(gateway.SessionConfig{
		Endpoint:          client,
		Sink:              pipe,
		Logger:            logger,
		HelloTimeout:      m.cfg.Gateway.HelloTimeout,
		HeartbeatInterval: m.cfg.Gateway.HeartbeatInterval,
	})
	supervisor := gateway.NewSupervisor(session, logger)

	logger.Info("starting account monitor")
	err := supervisor.Run(ctx)

	// Let in-flight dispatches finish before reporting shutdown.
	pipe.Wait()
	logger.Info("account monitor stopped")
	return err
}
