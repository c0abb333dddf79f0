// Package config defines the Courier configuration structures and loader.
// Configuration comes from a YAML file with environment overrides; secrets
// are resolved environment-first, then OS keyring, then config value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all Courier configuration.
type Config struct {
	// Name is the assistant name shown in responses and the hello payload.
	Name string `yaml:"name"`

	// Gateway configures the control-plane socket server.
	Gateway GatewayConfig `yaml:"gateway"`

	// Failover configures provider retry and circuit breaking.
	Failover FailoverConfig `yaml:"failover"`

	// Providers lists the backend AI providers in preferred order.
	Providers []ProviderConfig `yaml:"providers"`

	// Defaults seed the context of newly created sessions.
	Defaults DefaultsConfig `yaml:"defaults"`

	// Session configures session persistence.
	Session SessionConfig `yaml:"session"`

	// Scheduler configures the reminder scheduler.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures the control-plane server.
type GatewayConfig struct {
	// Host is the bind address (default "127.0.0.1").
	Host string `yaml:"host"`

	// Port is the listen port (default 8089).
	Port int `yaml:"port"`

	// AuthToken enables authentication when non-empty.
	AuthToken string `yaml:"auth_token"`

	// AuthPassword is an alternative credential; a client presenting
	// either the token or the password is accepted.
	AuthPassword string `yaml:"auth_password"`

	// MaxPayloadBytes caps a single envelope (default 512 KiB).
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// TickIntervalSeconds is the periodic tick advertised to clients
	// in the hello policy block (default 30).
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// AuthEnabled reports whether the gateway requires a connect handshake
// credential. Authentication is on iff a token is configured.
func (g GatewayConfig) AuthEnabled() bool {
	return g.AuthToken != ""
}

// Addr returns the host:port bind address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// FailoverConfig configures the provider failover executor.
type FailoverConfig struct {
	// MaxRetries is the attempt count per provider (default 3).
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayMs is the base backoff in milliseconds; attempt N waits
	// N times this value (default 1000).
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// CircuitBreakerThreshold is the consecutive-failure count that
	// trips a provider offline (default 5).
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`

	// CircuitBreakerResetSeconds is the half-open delay before an
	// offline provider is demoted back to degraded (default 60).
	CircuitBreakerResetSeconds int `yaml:"circuit_breaker_reset_seconds"`
}

// RetryDelay returns the base backoff as a duration.
func (f FailoverConfig) RetryDelay() time.Duration {
	return time.Duration(f.RetryDelayMs) * time.Millisecond
}

// ResetTime returns the circuit-breaker reset delay as a duration.
func (f FailoverConfig) ResetTime() time.Duration {
	return time.Duration(f.CircuitBreakerResetSeconds) * time.Second
}

// ProviderConfig describes one backend AI provider.
type ProviderConfig struct {
	// Name is the provider identifier (e.g. "openai", "anthropic").
	Name string `yaml:"name"`

	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the provider. May be empty in the
	// file; Load resolves it from the environment or OS keyring.
	APIKey string `yaml:"api_key"`

	// Model overrides the default model for this provider.
	Model string `yaml:"model"`
}

// DefaultsConfig seeds new session contexts.
type DefaultsConfig struct {
	// Model is the default LLM model (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Temperature is the default sampling temperature. Nil means the
	// built-in default; an explicit zero is honored.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens is the default per-call token budget.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt is the base system prompt for every session.
	SystemPrompt string `yaml:"system_prompt"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// StorePath is the sqlite file for session history. Empty disables
	// persistence (sessions are memory-only).
	StorePath string `yaml:"store_path"`
}

// SchedulerConfig configures the reminder scheduler.
type SchedulerConfig struct {
	// Enabled turns the scheduler on.
	Enabled bool `yaml:"enabled"`

	// StorePath is the sqlite file for persisted jobs.
	StorePath string `yaml:"store_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `yaml:"level"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Name: "Courier",
		Gateway: GatewayConfig{
			Host:                "127.0.0.1",
			Port:                8089,
			MaxPayloadBytes:     512 * 1024,
			TickIntervalSeconds: 30,
		},
		Failover: FailoverConfig{
			MaxRetries:                 3,
			RetryDelayMs:               1000,
			CircuitBreakerThreshold:    5,
			CircuitBreakerResetSeconds: 60,
		},
		Defaults: DefaultsConfig{
			Model:        "gpt-4o-mini",
			Temperature:  floatPtr(0.7),
			MaxTokens:    4096,
			SystemPrompt: "You are Courier, a helpful personal assistant.",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and resolves provider API keys.
func Load(path string) (*Config, error) {
	cfg := Default()

	// godotenv.Load does not overwrite variables already set in the
	// environment.
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = resolveSecret(cfg.Providers[i].Name, cfg.Providers[i].APIKey)
	}

	return cfg, nil
}

// applyEnv overlays COURIER_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("COURIER_GATEWAY_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("COURIER_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("COURIER_GATEWAY_TOKEN"); v != "" {
		c.Gateway.AuthToken = v
	}
	if v := os.Getenv("COURIER_GATEWAY_PASSWORD"); v != "" {
		c.Gateway.AuthPassword = v
	}
	if v := os.Getenv("COURIER_MODEL"); v != "" {
		c.Defaults.Model = v
	}
	if v := os.Getenv("COURIER_FAILOVER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Failover.MaxRetries = n
		}
	}
	if v := os.Getenv("COURIER_FAILOVER_RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Failover.RetryDelayMs = n
		}
	}
	if v := os.Getenv("COURIER_CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Failover.CircuitBreakerThreshold = n
		}
	}
	if v := os.Getenv("COURIER_CIRCUIT_BREAKER_RESET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Failover.CircuitBreakerResetSeconds = n
		}
	}
}

// applyDefaults fills zero values left after file parsing and env overlay.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Gateway.Host == "" {
		c.Gateway.Host = def.Gateway.Host
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = def.Gateway.Port
	}
	if c.Gateway.MaxPayloadBytes == 0 {
		c.Gateway.MaxPayloadBytes = def.Gateway.MaxPayloadBytes
	}
	if c.Gateway.TickIntervalSeconds == 0 {
		c.Gateway.TickIntervalSeconds = def.Gateway.TickIntervalSeconds
	}
	if c.Failover.MaxRetries == 0 {
		c.Failover.MaxRetries = def.Failover.MaxRetries
	}
	if c.Failover.RetryDelayMs == 0 {
		c.Failover.RetryDelayMs = def.Failover.RetryDelayMs
	}
	if c.Failover.CircuitBreakerThreshold == 0 {
		c.Failover.CircuitBreakerThreshold = def.Failover.CircuitBreakerThreshold
	}
	if c.Failover.CircuitBreakerResetSeconds == 0 {
		c.Failover.CircuitBreakerResetSeconds = def.Failover.CircuitBreakerResetSeconds
	}
	if c.Defaults.Model == "" {
		c.Defaults.Model = def.Defaults.Model
	}
	if c.Defaults.Temperature == nil {
		c.Defaults.Temperature = def.Defaults.Temperature
	}
	if c.Defaults.MaxTokens == 0 {
		c.Defaults.MaxTokens = def.Defaults.MaxTokens
	}
	if c.Defaults.SystemPrompt == "" {
		c.Defaults.SystemPrompt = def.Defaults.SystemPrompt
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

func floatPtr(v float64) *float64 { return &v }

// ProviderNames returns the configured provider names in preferred order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}

// Provider returns the config for a named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
