// Package config handles configuration loading for cad-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, duration parsing, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CAD_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cad-bridge/bridge.yaml
//  3. ~/.config/cad-bridge/bridge.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME} syntax:
//
//	auth:
//	  jwt_secret: "${CAD_BRIDGE_JWT_SECRET}"
//
// # Sections
//
// Server and engine:
//
//	server:
//	  http_addr: "127.0.0.1:8765"
//	engine:
//	  addr: "127.0.0.1:9876"
//	  tools: [execute]
//	  resources: [document]
//	  recovery:
//	    max_retries: 3        # 3 retries = 4 total attempts
//	    retry_delay: "1s"     # initial backoff
//	    backoff_factor: 2     # delay multiplier per failure
//	    max_delay: "30s"      # backoff ceiling
//
// Authentication accepts a JWT secret, bcrypt-hashed static tokens, or both:
//
//	auth:
//	  jwt_secret: "${CAD_BRIDGE_JWT_SECRET}"
//	  static_tokens:
//	    - principal: blender-addon
//	      token_hash: "$2a$10$..."   # from `cad-bridge hash-token`
//
// Event delivery tuning:
//
//	events:
//	  mailbox_size: 64
//	  keepalive_interval: "15s"
//	  stream_wait_timeout: "30s"
//
// Storage and logging:
//
//	database:
//	  path: "~/.local/share/cad-bridge/ledger.db"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax (ns, us, ms, s, m, h).
package config
