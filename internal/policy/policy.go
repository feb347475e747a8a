// ABOUTME: Per-account access control for inbound events.
// ABOUTME: Applies the group/DM policy chains and the mention gate.

package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/kook-bridge/internal/account"
	"github.com/2389/kook-bridge/internal/config"
	"github.com/2389/kook-bridge/internal/frame"
)

// Verdict is the outcome of evaluating an event against policy.
type Verdict int

const (
	// VerdictReject drops the event.
	VerdictReject Verdict = iota
	// VerdictAccept forwards the event to the handler.
	VerdictAccept
	// VerdictBuffer records the event as pending context without dispatching.
	// This is the designed observe-but-don't-respond path for group messages
	// lacking a required mention, not an error.
	VerdictBuffer
	// VerdictPending means a direct message is awaiting pairing approval.
	VerdictPending
)

// String returns the verdict name for logging.
func (v Verdict) String() string {
	switch v {
	case VerdictReject:
		return "reject"
	case VerdictAccept:
		return "accept"
	case VerdictBuffer:
		return "buffer"
	case VerdictPending:
		return "pending"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Approver decides whether a sender is paired with an account. It is an
// external collaborator; pairing state lives outside the bridge.
type Approver interface {
	Approve(ctx context.Context, accountID, userID string) (bool, error)
}

// Gate evaluates inbound events against the resolved account policy.
// Decisions are recomputed per event and never memoized.
type Gate struct {
	pairing Approver
	logger  *slog.Logger
}

// NewGate creates a Gate. The pairing approver may be nil, in which case
// pairing-mode DMs are accepted provisionally.
func NewGate(pairing Approver, logger *slog.Logger) *Gate {
	return &Gate{
		pairing: pairing,
		logger:  logger,
	}
}

// Evaluate returns the policy verdict for an event under the given account
// view. botID is the session's own identity, used for the mention gate.
func (g *Gate) Evaluate(ctx context.Context, view account.View, botID string, evt *frame.Event) (Verdict, error) {
	if evt.IsDirect() {
		return g.evaluateDirect(ctx, view, evt)
	}
	return g.evaluateGroup(view, botID, evt), nil
}

// evaluateGroup applies the group policy chain and the mention gate.
// Broadcast channels are treated as group channels.
func (g *Gate) evaluateGroup(view account.View, botID string, evt *frame.Event) Verdict {
	switch view.GroupPolicyFor(evt.TargetID) {
	case config.GroupPolicyDisabled:
		return VerdictReject
	case config.GroupPolicyOpen:
		// fall through to the mention gate
	case config.GroupPolicyAllowlist:
		if !view.AllowsGroup(evt.Extra.GuildID, evt.TargetID) {
			g.logger.Debug("group not in allow-list",
				"account", view.AccountID,
				"guild", evt.Extra.GuildID,
				"channel", evt.TargetID,
			)
			return VerdictReject
		}
	default:
		return VerdictReject
	}

	if view.RequireMentionFor(evt.TargetID) && !evt.Mentions(botID) {
		return VerdictBuffer
	}

	return VerdictAccept
}

// evaluateDirect applies the DM policy.
func (g *Gate) evaluateDirect(ctx context.Context, view account.View, evt *frame.Event) (Verdict, error) {
	switch view.DMPolicy {
	case config.DMPolicyOpen:
		return VerdictAccept, nil

	case config.DMPolicyAllowlist:
		if view.AllowsUser(evt.AuthorID) {
			return VerdictAccept, nil
		}
		return VerdictReject, nil

	case config.DMPolicyPairing:
		if g.pairing == nil {
			// No collaborator wired: accept provisionally.
			return VerdictAccept, nil
		}
		paired, err := g.pairing.Approve(ctx, view.AccountID, evt.AuthorID)
		if err != nil {
			return VerdictReject, fmt.Errorf("pairing approval for %s: %w", evt.AuthorID, err)
		}
		if !paired {
			return VerdictPending, nil
		}
		return VerdictAccept, nil

	default:
		return VerdictReject, nil
	}
}
