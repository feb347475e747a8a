// ABOUTME: Reconnection supervisor keeping a gateway session alive.
// ABOUTME: Exponential backoff between attempts, reset on reaching live.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff bounds. Attempt n waits min(2s * 2^(n-1), 60s).
const (
	backoffBase = 2 * time.Second
	backoffMax  = 60 * time.Second
)

// Backoff returns the wait before reconnect attempt n (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2s << 5 is 64s, already past the cap; larger shifts would overflow.
	if attempt > 6 {
		return backoffMax
	}
	wait := backoffBase << (attempt - 1)
	if wait > backoffMax {
		wait = backoffMax
	}
	return wait
}

// Supervisor loops a Session through connection attempts until cancelled.
type Supervisor struct {
	session *Session
	logger  *slog.Logger

	// attempts counts consecutive failed attempts. Touched only from this
	// supervisor's goroutine: onLive fires inside session.Run, which the
	// loop below calls synchronously.
	attempts int

	// backoff is swappable so tests do not wait out real backoff windows.
	backoff func(attempt int) time.Duration
}

// NewSupervisor wraps a Session in a reconnection loop.
func NewSupervisor(session *Session, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		session: session,
		logger:  logger,
		backoff: Backoff,
	}
	session.onLive = s.resetAttempts
	return s
}

func (s *Supervisor) resetAttempts() {
	s.attempts = 0
}

// Run keeps the session connected until ctx is cancelled. Transient
// failures and server reconnect requests are absorbed here and never
// surfaced to the caller; cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.session.Run(ctx)

		if ctx.Err() != nil {
			s.logger.Info("gateway supervisor stopped")
			return nil
		}
		if err == nil {
			// Run only returns nil on cancellation; treat anything else
			// as a quiet stop rather than spinning.
			return nil
		}

		s.attempts++
		wait := s.backoff(s.attempts)

		if errors.Is(err, ErrServerReconnect) {
			s.logger.Info("reconnecting after server request",
				"attempt", s.attempts,
				"wait", wait,
			)
		} else {
			s.logger.Warn("gateway connection lost",
				"attempt", s.attempts,
				"wait", wait,
				"error", err,
			)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}
