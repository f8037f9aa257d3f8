// ABOUTME: Configuration loading and parsing for lantern-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lantern-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Provider ProviderConfig `yaml:"provider"`
	Agent    AgentConfig    `yaml:"agent"`
	Channels ChannelsConfig `yaml:"channels"`
	Cron     CronConfig     `yaml:"cron"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables API auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ProviderConfig holds model-provider configuration.
// APIBase overrides the provider endpoint for OpenAI-compatible servers.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
	Model   string `yaml:"model"`
}

// AgentConfig holds iteration-engine tuning
type AgentConfig struct {
	SystemPrompt  string  `yaml:"system_prompt"`
	Temperature   float32 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxIterations int     `yaml:"max_iterations"`
	MemoryWindow  int     `yaml:"memory_window"`

	DecideTimeout time.Duration `yaml:"-"`
	ToolTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DecideTimeoutRaw string `yaml:"decide_timeout"`
	ToolTimeoutRaw   string `yaml:"tool_timeout"`
}

// ChannelsConfig holds configuration for all channel surfaces
type ChannelsConfig struct {
	Web WebChannelConfig `yaml:"web"`
}

// WebChannelConfig holds the HTTP/SSE channel configuration
type WebChannelConfig struct {
	Enabled     bool     `yaml:"enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CronConfig holds the scheduled-job configuration
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig describes one scheduled message. Channel and ChatID name the
// human-facing surface the result should be reported back to.
type CronJobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression
	Message  string `yaml:"message"`
	Channel  string `yaml:"channel"`
	ChatID   string `yaml:"chat_id"`
}

// TargetChatID returns the composite "channel:chat_id" the job's output is
// routed to. With no channel the router falls back to the default surface.
func (j CronJobConfig) TargetChatID() string {
	if j.Channel == "" {
		return j.ChatID
	}
	return j.Channel + ":" + j.ChatID
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

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

	cfg.applyDefaults()

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

// applyDefaults fills in values that have sensible defaults when omitted.
func (c *Config) applyDefaults() {
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MemoryWindow == 0 {
		c.Agent.MemoryWindow = 50
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Agent.DecideTimeout == 0 {
		c.Agent.DecideTimeout = 2 * time.Minute
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = time.Minute
	}
	if len(c.Channels.Web.CORSOrigins) == 0 {
		c.Channels.Web.CORSOrigins = []string{"*"}
	}
	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = "You are a helpful assistant with access to tools."
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}

	for i, job := range c.Cron.Jobs {
		if job.Schedule == "" {
			return fmt.Errorf("cron.jobs[%d]: schedule is required", i)
		}
		if job.Message == "" {
			return fmt.Errorf("cron.jobs[%d]: message is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.DecideTimeoutRaw != "" {
		cfg.Agent.DecideTimeout, err = time.ParseDuration(cfg.Agent.DecideTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing decide_timeout %q: %w", cfg.Agent.DecideTimeoutRaw, err)
		}
	}

	if cfg.Agent.ToolTimeoutRaw != "" {
		cfg.Agent.ToolTimeout, err = time.ParseDuration(cfg.Agent.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Agent.ToolTimeoutRaw, err)
		}
	}

	return nil
}
