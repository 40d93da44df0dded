// Package config handles configuration loading for pushgate.
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
//	auth:
//	  jwt_secret: "${PUSHGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  ttl: "10m"
//	  sweep_interval: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  addr: "0.0.0.0:8080"
//	  cert_file: ""   # enable TLS by setting both
//	  key_file: ""
//
// Credential store:
//
//	users:
//	  backend: "file"        # file, sqlite
//	  path: "/var/lib/pushgate/users.txt"
//	  max_attempts: 3        # lockout threshold
//
// Sessions and cookies:
//
//	session:
//	  ttl: "10m"
//	  sweep_interval: "1m"
//	  cookie_name: "pushgate_session"
//	  cookie_path: "/"
//	  cookie_domain: ""
//
// Authentication:
//
//	auth:
//	  method: "shared"       # shared, webauthn, always, none
//	  max_failed: 3
//	  pending_timeout: "1m"
//	  jwt_secret: "${PUSHGATE_JWT_SECRET}"
//
// Push connections:
//
//	push:
//	  queue_capacity: 64
//	  overflow_policy: "dropOldest"   # dropOldest, dropNewest, dropAll, failConnection
//	  token_policy: "rotate"          # rotate, matchOnly
//	  ping_interval: "30s"
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
//	cfg, err := config.Load("/etc/pushgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
