// ABOUTME: Configuration loading and parsing for kook-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Group access policies. The empty string falls back along the override chain.
const (
	GroupPolicyDisabled  = "disabled"
	GroupPolicyOpen      = "open"
	GroupPolicyAllowlist = "allowlist"
)

// Direct-message access policies.
const (
	DMPolicyOpen      = "open"
	DMPolicyAllowlist = "allowlist"
	DMPolicyPairing   = "pairing"
)

// Config represents the complete kook-bridge configuration.
type Config struct {
	Logging  LoggingConfig            `yaml:"logging"`
	Gateway  GatewayConfig            `yaml:"gateway"`
	Host     HostConfig               `yaml:"host"`
	Defaults Defaults                 `yaml:"defaults"`
	Accounts map[string]AccountConfig `yaml:"accounts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig holds gateway connection tuning.
type GatewayConfig struct {
	BaseURL  string `yaml:"base_url"`
	Compress bool   `yaml:"compress"`

	HelloTimeout      time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HelloTimeoutRaw      string `yaml:"hello_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// HostConfig points the bridge at the host runtime it forwards messages to.
type HostConfig struct {
	URL string `yaml:"url"`
}

// Defaults holds the global policy defaults applied to every account
// that does not override them.
type Defaults struct {
	GroupPolicy    string   `yaml:"group_policy"`
	DMPolicy       string   `yaml:"dm_policy"`
	RequireMention *bool    `yaml:"require_mention"`
	HistoryLimit   int      `yaml:"history_limit"`
	AllowedGroups  []string `yaml:"allowed_groups"`
	AllowedUsers   []string `yaml:"allowed_users"`
}

// AccountConfig holds one account's credentials and policy overrides.
// Pointer fields distinguish "not set" from an explicit zero value.
type AccountConfig struct {
	Token   string `yaml:"token"`
	Enabled *bool  `yaml:"enabled"`

	GroupPolicy    string   `yaml:"group_policy"`
	DMPolicy       string   `yaml:"dm_policy"`
	RequireMention *bool    `yaml:"require_mention"`
	HistoryLimit   *int     `yaml:"history_limit"`
	AllowedGroups  []string `yaml:"allowed_groups"`
	AllowedUsers   []string `yaml:"allowed_users"`

	// Channels holds per-channel policy overrides keyed by channel ID.
	Channels map[string]ChannelOverride `yaml:"channels"`
}

// ChannelOverride narrows policy for a single channel.
type ChannelOverride struct {
	GroupPolicy    string `yaml:"group_policy"`
	RequireMention *bool  `yaml:"require_mention"`
}

// Default gateway timings. The hello timeout bounds the handshake; the
// heartbeat interval paces outgoing pings while live.
const (
	DefaultHelloTimeout      = 6 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required under accounts")
	}

	if c.Host.URL == "" {
		return fmt.Errorf("host.url is required")
	}

	if err := validatePolicy("defaults.group_policy", c.Defaults.GroupPolicy,
		GroupPolicyDisabled, GroupPolicyOpen, GroupPolicyAllowlist); err != nil {
		return err
	}
	if err := validatePolicy("defaults.dm_policy", c.Defaults.DMPolicy,
		DMPolicyOpen, DMPolicyAllowlist, DMPolicyPairing); err != nil {
		return err
	}

	for id, acct := range c.Accounts {
		if err := validatePolicy("group_policy", acct.GroupPolicy,
			GroupPolicyDisabled, GroupPolicyOpen, GroupPolicyAllowlist); err != nil {
			return fmt.Errorf("account %q: %w", id, err)
		}
		if err := validatePolicy("dm_policy", acct.DMPolicy,
			DMPolicyOpen, DMPolicyAllowlist, DMPolicyPairing); err != nil {
			return fmt.Errorf("account %q: %w", id, err)
		}
		for channel, override := range acct.Channels {
			if err := validatePolicy("group_policy", override.GroupPolicy,
				GroupPolicyDisabled, GroupPolicyOpen, GroupPolicyAllowlist); err != nil {
				return fmt.Errorf("account %q channel %q: %w", id, channel, err)
			}
		}
	}

	return nil
}

// validatePolicy accepts the empty string (meaning "inherit") or one of the
// listed policy names.
func validatePolicy(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown policy %q", field, value)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Gateway.HelloTimeout = DefaultHelloTimeout
	if cfg.Gateway.HelloTimeoutRaw != "" {
		cfg.Gateway.HelloTimeout, err = time.ParseDuration(cfg.Gateway.HelloTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing hello_timeout %q: %w", cfg.Gateway.HelloTimeoutRaw, err)
		}
	}

	cfg.Gateway.HeartbeatInterval = DefaultHeartbeatInterval
	if cfg.Gateway.HeartbeatIntervalRaw != "" {
		cfg.Gateway.HeartbeatInterval, err = time.ParseDuration(cfg.Gateway.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Gateway.HeartbeatIntervalRaw, err)
		}
	}

	return nil
}
