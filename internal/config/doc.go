// Package config handles configuration loading for kook-bridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	accounts:
//	  main:
//	    token: "${KOOK_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  hello_timeout: "6s"
//	  heartbeat_interval: "30s"
//
// # Configuration Sections
//
// Host runtime:
//
//	host:
//	  url: "http://localhost:8080"
//
// Global policy defaults:
//
//	defaults:
//	  group_policy: "allowlist"   # disabled, open, allowlist
//	  dm_policy: "pairing"        # open, allowlist, pairing
//	  require_mention: true
//	  history_limit: 10
//	  allowed_groups: []
//	  allowed_users: []
//
// Accounts, each with optional overrides of the defaults and
// per-channel overrides below that:
//
//	accounts:
//	  main:
//	    token: "${KOOK_TOKEN}"
//	    enabled: true
//	    channels:
//	      "8231":
//	        group_policy: "open"
//	        require_mention: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
