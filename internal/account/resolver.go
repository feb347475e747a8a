// ABOUTME: Resolves global and per-account configuration into one effective view.
// ABOUTME: Views are recomputed on every access and never cached across events.

package account

import (
	"sort"

	"github.com/2389/kook-bridge/internal/config"
)

// View is the effective configuration for one account: global defaults with
// the account's overrides applied. Policy decisions must be made against a
// freshly resolved View so config edits take effect per event.
type View struct {
	AccountID  string
	Enabled    bool
	Configured bool
	Token      string

	GroupPolicy    string
	DMPolicy       string
	RequireMention bool
	HistoryLimit   int
	AllowedGroups  []string
	AllowedUsers   []string

	channels map[string]config.ChannelOverride
}

// Fallback values applied when neither the account nor the global defaults
// set a field.
const (
	FallbackGroupPolicy  = config.GroupPolicyAllowlist
	FallbackDMPolicy     = config.DMPolicyPairing
	FallbackHistoryLimit = 10
)

// Resolver computes effective account views from the loaded configuration.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a Resolver over the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Accounts returns the configured account IDs in stable order.
func (r *Resolver) Accounts() []string {
	ids := make([]string, 0, len(r.cfg.Accounts))
	for id := range r.cfg.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve merges the global defaults and the named account's configuration
// into a View. Unknown accounts resolve to a disabled, unconfigured View.
func (r *Resolver) Resolve(accountID string) View {
	acct, ok := r.cfg.Accounts[accountID]
	if !ok {
		return View{AccountID: accountID}
	}

	defaults := r.cfg.Defaults

	view := View{
		AccountID:  accountID,
		Enabled:    acct.Enabled == nil || *acct.Enabled,
		Configured: acct.Token != "",
		Token:      acct.Token,

		GroupPolicy:    firstNonEmpty(acct.GroupPolicy, defaults.GroupPolicy, FallbackGroupPolicy),
		DMPolicy:       firstNonEmpty(acct.DMPolicy, defaults.DMPolicy, FallbackDMPolicy),
		RequireMention: resolveBool(acct.RequireMention, defaults.RequireMention, true),
		HistoryLimit:   resolveLimit(acct.HistoryLimit, defaults.HistoryLimit),
		AllowedGroups:  firstNonNil(acct.AllowedGroups, defaults.AllowedGroups),
		AllowedUsers:   firstNonNil(acct.AllowedUsers, defaults.AllowedUsers),

		channels: acct.Channels,
	}

	return view
}

// GroupPolicyFor returns the effective group policy for a channel:
// per-channel override, then the account/global chain already merged
// into the view.
func (v View) GroupPolicyFor(channelID string) string {
	if override, ok := v.channels[channelID]; ok && override.GroupPolicy != "" {
		return override.GroupPolicy
	}
	return v.GroupPolicy
}

// RequireMentionFor returns the effective mention requirement for a channel.
func (v View) RequireMentionFor(channelID string) bool {
	if override, ok := v.channels[channelID]; ok && override.RequireMention != nil {
		return *override.RequireMention
	}
	return v.RequireMention
}

// AllowsGroup reports whether the guild or channel ID matches the allow-list.
func (v View) AllowsGroup(guildID, channelID string) bool {
	for _, entry := range v.AllowedGroups {
		if entry == guildID || entry == channelID {
			return true
		}
	}
	return false
}

// AllowsUser reports whether the sender ID matches the allow-list.
func (v View) AllowsUser(senderID string) bool {
	for _, entry := range v.AllowedUsers {
		if entry == senderID {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...[]string) []string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func resolveBool(account, global *bool, fallback bool) bool {
	if account != nil {
		return *account
	}
	if global != nil {
		return *global
	}
	return fallback
}

func resolveLimit(account *int, global int) int {
	if account != nil {
		return *account
	}
	if global > 0 {
		return global
	}
	return FallbackHistoryLimit
}
