package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Default()

	if cfg.Gateway.Port != 8089 {
		t.Errorf("default port = %d, want 8089", cfg.Gateway.Port)
	}
	if cfg.Failover.MaxRetries != 3 {
		t.Errorf("default max retries = %d, want 3", cfg.Failover.MaxRetries)
	}
	if cfg.Failover.CircuitBreakerThreshold != 5 {
		t.Errorf("default breaker threshold = %d, want 5", cfg.Failover.CircuitBreakerThreshold)
	}
	if cfg.Failover.RetryDelay() != time.Second {
		t.Errorf("default retry delay = %v, want 1s", cfg.Failover.RetryDelay())
	}
	if cfg.Failover.ResetTime() != 60*time.Second {
		t.Errorf("default reset time = %v, want 60s", cfg.Failover.ResetTime())
	}
}

func TestAuthEnabledIffTokenSet(t *testing.T) {
	t.Parallel()
	g := GatewayConfig{}
	if g.AuthEnabled() {
		t.Error("auth enabled with no token")
	}
	// A password alone does not enable auth.
	g.AuthPassword = "hunter2"
	if g.AuthEnabled() {
		t.Error("auth enabled with only a password")
	}
	g.AuthToken = "secret"
	if !g.AuthEnabled() {
		t.Error("auth disabled with a token set")
	}
}

func TestAddr(t *testing.T) {
	t.Parallel()
	g := GatewayConfig{Host: "0.0.0.0", Port: 9000}
	if g.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q, want %q", g.Addr(), "0.0.0.0:9000")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")
	data := []byte(`
name: TestBot
gateway:
  host: 0.0.0.0
  port: 9999
  auth_token: topsecret
failover:
  max_retries: 5
providers:
  - name: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o
  - name: local
    base_url: http://localhost:11434/v1
defaults:
  model: gpt-4o
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "TestBot" {
		t.Errorf("name = %q, want TestBot", cfg.Name)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Gateway.Port)
	}
	if !cfg.Gateway.AuthEnabled() {
		t.Error("auth not enabled despite configured token")
	}
	if cfg.Failover.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5 from file", cfg.Failover.MaxRetries)
	}
	// Unset fields keep their defaults.
	if cfg.Failover.CircuitBreakerThreshold != 5 {
		t.Errorf("breaker threshold = %d, want default 5", cfg.Failover.CircuitBreakerThreshold)
	}
	if got := cfg.ProviderNames(); len(got) != 2 || got[0] != "openai" || got[1] != "local" {
		t.Errorf("provider names = %v, want [openai local]", got)
	}
}

func TestTemperatureZeroIsHonored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")
	data := []byte(`
defaults:
  temperature: 0
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.Temperature == nil {
		t.Fatal("temperature unset after explicit zero")
	}
	if *cfg.Defaults.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", *cfg.Defaults.Temperature)
	}
}

func TestTemperatureUnsetUsesDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.Temperature == nil || *cfg.Defaults.Temperature != 0.7 {
		t.Errorf("temperature = %v, want default 0.7", cfg.Defaults.Temperature)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8089 {
		t.Errorf("port = %d, want default 8089", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COURIER_GATEWAY_PORT", "7070")
	t.Setenv("COURIER_GATEWAY_TOKEN", "env-token")
	t.Setenv("COURIER_FAILOVER_MAX_RETRIES", "7")
	t.Setenv("COURIER_CIRCUIT_BREAKER_THRESHOLD", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 7070 {
		t.Errorf("port = %d, want 7070 from env", cfg.Gateway.Port)
	}
	if cfg.Gateway.AuthToken != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Gateway.AuthToken)
	}
	if cfg.Failover.MaxRetries != 7 {
		t.Errorf("max retries = %d, want 7 from env", cfg.Failover.MaxRetries)
	}
	if cfg.Failover.CircuitBreakerThreshold != 9 {
		t.Errorf("breaker threshold = %d, want 9 from env", cfg.Failover.CircuitBreakerThreshold)
	}
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	t.Setenv("COURIER_OPENAI_API_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "courier.yaml")
	data := []byte(`
providers:
  - name: openai
    base_url: https://api.openai.com/v1
    api_key: sk-from-file
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := cfg.Provider("openai")
	if !ok {
		t.Fatal("openai provider missing")
	}
	if p.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want the environment to win", p.APIKey)
	}
}
