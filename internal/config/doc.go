// Package config handles configuration loading for discuss-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DISCUSS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/discuss/gateway.yaml
//  3. ~/.config/discuss/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML. When no
// file exists the gateway runs from defaults and environment variables.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DISCUSS_JWT_SECRET}"
//
// After the file is decoded, DISCUSS_<SECTION>_<KEY> variables override
// individual settings, e.g. DISCUSS_SERVER_HTTP_ADDR or
// DISCUSS_CHAT_IDLE_TIMEOUT. A .env file in the working directory is loaded
// into the environment first.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"      # WebSocket, REST, health and metrics
//	  grpc_addr: ""                  # gRPC health service, disabled when empty
//	  allowed_origins: []            # WebSocket origins; empty accepts any
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "discuss.db"
//	  driver: "sqlite"               # sqlite (pure Go) or sqlite3 (cgo)
//
//	auth:
//	  jwt_secret: ""                 # empty makes every connection a guest
//
//	chat:
//	  history_limit: 50
//	  max_history_limit: 50
//	  max_body_chars: 2000
//	  outbound_buffer: 64
//	  events_per_second: 10
//	  event_burst: 20
//	  idle_timeout: "5m"
//	  sweep_interval: "30s"
//	  render_markdown: false
//
//	directory:
//	  cache_ttl: "5m"
//
//	retention:
//	  enabled: false
//	  cron: "0 3 * * *"
//	  ttl: "720h"
//
//	tailscale:
//	  enabled: false
//	  hostname: "discuss"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"                  # debug, info, warn, error
//	  format: "text"                 # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax.
package config
