// Package config handles configuration loading for lantern-gateway.
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
//	provider:
//	  api_key: "${LANTERN_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  decide_timeout: "90s"
//	  tool_timeout: "30s"
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/lantern/gateway.db"
//
// Authentication (empty secret disables API auth):
//
//	auth:
//	  jwt_secret: "${LANTERN_JWT_SECRET}"
//
// Model provider (any OpenAI-compatible endpoint):
//
//	provider:
//	  api_key: "${LANTERN_API_KEY}"
//	  api_base: ""              # optional override
//	  model: "gpt-4o-mini"
//
// Iteration engine:
//
//	agent:
//	  max_iterations: 10
//	  memory_window: 50
//
// Scheduled background work, reported back to the named surface:
//
//	cron:
//	  enabled: true
//	  jobs:
//	    - name: "morning-brief"
//	      schedule: "0 8 * * *"
//	      message: "Summarize overnight activity"
//	      channel: "web"
//	      chat_id: "briefings"
package config
