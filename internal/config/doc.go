// Package config handles configuration loading for human-gateway.
//
// # Configuration File
//
// Location (first match wins):
//
//  1. Path from the HUMAN_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/human-gateway/config.yaml
//  3. ~/.config/human-gateway/config.yaml
//
// A missing file is not an error: LoadOrDefault returns Default(). Files
// ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
//	tracing:
//	  endpoint: "${OTEL_COLLECTOR}"
//
// Unset variables expand to the empty string.
//
// # Sections
//
//	server:   { http_addr: "127.0.0.1:5000" }
//	mcp:      { transport: "stdio", path: "/mcp" }   # stdio, http, both
//	broker:   { default_timeout: "5m", settled_ttl: "15m" }
//	database: { path: ":memory:" }                   # or a file path, ~/ expanded
//	logging:  { level: "info", format: "text" }      # text, json
//	metrics:  { enabled: true, path: "/metrics" }
//	tracing:  { enabled: false, exporter: "stdout", endpoint: "", service_name: "human-gateway" }
//	webui:    { title: "Human MCP Control Panel", poll_interval: "1s" }
//
// Durations use time.ParseDuration syntax.
package config
