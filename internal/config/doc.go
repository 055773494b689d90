// Package config handles configuration loading for hearth-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HEARTH_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/hearth/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token_secret: "${HEARTH_TOKEN_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	idempotency:
//	  ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"  # RPC, API, metrics
//
// Database:
//
//	database:
//	  path: "/var/lib/hearth/gateway.db"
//
// Authentication:
//
//	auth:
//	  token_secret: "${HEARTH_TOKEN_SECRET}"  # Signs device tokens
//
// Lane concurrency limits (0 means unbounded):
//
//	lanes:
//	  main: 1
//	  cron: 1
//	  subagent: 0
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/hearth/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
