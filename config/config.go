// Package config loads the YAML configuration of the xagent server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/toolkit"
)

// Config is the top-level server configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Session SessionConfig `yaml:"session"`
	Tools   ToolsConfig   `yaml:"tools"`
	Memory  MemoryConfig  `yaml:"memory"`
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// AgentConfig describes the served agent.
type AgentConfig struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	SystemPrompt     string `yaml:"system_prompt"`
	HistoryCount     int    `yaml:"history_count"`
	MaxIterations    int    `yaml:"max_iterations"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	Timezone         string `yaml:"timezone"`
}

// ModelConfig selects the provider and guards it.
type ModelConfig struct {
	Provider    string          `yaml:"provider"` // "openai" or "anthropic"
	ID          string          `yaml:"id"`
	APIKey      string          `yaml:"api_key"` // empty: the provider SDK reads its env var
	BaseURL     string          `yaml:"base_url"`
	Temperature float64         `yaml:"temperature"`
	MaxTokens   int64           `yaml:"max_tokens"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// BreakerConfig configures the model circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig paces model requests. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SessionConfig selects the message store.
type SessionConfig struct {
	Backend     string        `yaml:"backend"` // "local" or "redis"
	RedisURL    string        `yaml:"redis_url"`
	TTL         time.Duration `yaml:"ttl"`
	KeyPrefix   string        `yaml:"key_prefix"`
	MaxMessages int           `yaml:"max_messages"`
}

// ToolsConfig lists built-in tools and remote MCP catalogs.
type ToolsConfig struct {
	Builtin    []string `yaml:"builtin"`
	MCPServers []string `yaml:"mcp_servers"`
	PoolSize   int      `yaml:"pool_size"`
}

// MemoryConfig enables long-term memory for the agent.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LoggerConfig configures the slog backed logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Defaults returns a configuration that runs a local OpenAI backed agent.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:             "assistant",
			Description:      "A helpful assistant",
			HistoryCount:     20,
			MaxIterations:    10,
			MaxParallelTools: 8,
			Timezone:         "UTC",
		},
		Model: ModelConfig{
			Provider:    "openai",
			ID:          "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		},
		Session: SessionConfig{
			Backend:     "local",
			TTL:         24 * time.Hour,
			KeyPrefix:   "xagent:chat",
			MaxMessages: 200,
		},
		Tools: ToolsConfig{
			PoolSize: 4,
		},
		Memory: MemoryConfig{
			Limit: 5,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Parse(nil)
		}

		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML data over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides fills settings from XAGENT_* variables. REDIS_URL is used
// when no Redis URL is configured.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XAGENT_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}

	if v := os.Getenv("XAGENT_MODEL_ID"); v != "" {
		cfg.Model.ID = v
	}

	if v := os.Getenv("XAGENT_SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = v
	}

	if v := os.Getenv("XAGENT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}

	if cfg.Session.RedisURL == "" {
		cfg.Session.RedisURL = os.Getenv("REDIS_URL")
	}
}

// ValidationError accumulates every configuration problem found.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing all problems.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if strings.TrimSpace(cfg.Agent.Name) == "" {
		ve.add("agent.name is required")
	}

	if cfg.Agent.HistoryCount < 1 {
		ve.add("agent.history_count must be > 0")
	}

	if cfg.Agent.MaxIterations < 1 {
		ve.add("agent.max_iterations must be > 0")
	}

	if cfg.Agent.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Agent.Timezone); err != nil {
			ve.add("agent.timezone %q: %v", cfg.Agent.Timezone, err)
		}
	}

	switch cfg.Model.Provider {
	case "openai", "anthropic":
	default:
		ve.add("model.provider must be openai or anthropic, got %q", cfg.Model.Provider)
	}

	if cfg.Model.ID == "" {
		ve.add("model.id is required")
	}

	if cfg.Model.RateLimit.RPS < 0 {
		ve.add("model.rate_limit.rps must be >= 0")
	}

	switch cfg.Session.Backend {
	case "local":
	case "redis":
		if cfg.Session.RedisURL == "" {
			ve.add("session.redis_url (or REDIS_URL) is required for the redis backend")
		}
	default:
		ve.add("session.backend must be local or redis, got %q", cfg.Session.Backend)
	}

	for _, name := range cfg.Tools.Builtin {
		if _, ok := toolkit.Lookup(name); !ok {
			ve.add("tools.builtin: unknown tool %q (available: %s)", name, strings.Join(toolkit.Names(), ", "))
		}
	}

	for _, url := range cfg.Tools.MCPServers {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			ve.add("tools.mcp_servers: %q is not an http(s) URL", url)
		}
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		ve.add("server.port must be between 1 and 65535")
	}

	if _, err := logging.ParseLevel(cfg.Logger.Level); err != nil {
		ve.add("logger.level: %v", err)
	}

	if cfg.Logger.Format != "json" && cfg.Logger.Format != "text" {
		ve.add("logger.format must be json or text, got %q", cfg.Logger.Format)
	}

	if len(ve.Errors) > 0 {
		return ve
	}

	return nil
}

// NewLogger builds the logger described by cfg.
func (c *Config) NewLogger() logging.Logger {
	level, _ := logging.ParseLevel(c.Logger.Level)

	return logging.New(&logging.Config{
		Level:     level,
		Format:    c.Logger.Format,
		Output:    os.Stdout,
		Component: "xagent",
	})
}

// Location resolves the agent timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Agent.Timezone)
	if err != nil || c.Agent.Timezone == "" {
		return time.UTC
	}

	return loc
}
