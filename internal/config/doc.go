// Package config handles configuration loading for troupe-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a minimal file with
// just a database path produces a runnable gateway backed by the demo provider.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TROUPE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/troupe/gateway.yaml
//  3. ~/.config/troupe/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cache:
//	  ttl: "1h"
//	conversation:
//	  min_delay: "1s"
//	  max_delay: "8s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  host: "127.0.0.1"
//	  port: 8787
//
// Database:
//
//	database:
//	  path: "/var/lib/troupe/troupe.db"
//
// Response cache:
//
//	cache:
//	  backend: "memory"   # memory or redis
//	  ttl: "1h"
//	  max_entries: 2048
//	  redis:
//	    addr: "localhost:6379"
//
// Providers (failover order plus per-provider settings):
//
//	providers:
//	  order: ["openai", "anthropic", "demo"]
//	  attempt_timeout: "30s"
//	  failure_threshold: 3
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-3.5-turbo"
//
// Conversation tuning:
//
//	conversation:
//	  history_capacity: 50
//	  history_window: 12
//	  min_delay: "1s"
//	  max_delay: "8s"
//	  failure_limit: 3
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "troupe"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "pretty" # pretty, json
//
// # Validation
//
// Load() validates:
//
//   - JWT secret minimum length (32 bytes) when auth is enabled
//   - Cache backend name
//   - Delay ordering (min_delay <= max_delay)
//   - Duration format validity
//   - Logging level and format values
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/troupe/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
