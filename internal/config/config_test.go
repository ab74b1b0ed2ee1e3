package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("poll_timeout = %v", cfg.PollTimeout)
	}
	if cfg.Scheduler.MinInterval != 5*time.Second || cfg.Scheduler.MaxInterval != time.Minute {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.BackoffMultiplier != 1.5 || !cfg.Scheduler.ResetOnActivity {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Fetch.Retry.MaxRetries != 3 || cfg.Fetch.Retry.BaseDelay != time.Second || cfg.Fetch.Retry.MaxDelay != 10*time.Second {
		t.Errorf("retry = %+v", cfg.Fetch.Retry)
	}
	if !slices.Equal(cfg.Fetch.RetryableStatuses, []int{408, 429, 500, 502, 503, 504}) {
		t.Errorf("retryable statuses = %v", cfg.Fetch.RetryableStatuses)
	}
	if !slices.Contains(cfg.Guard.AllowedDomains, "vinted.fr") {
		t.Errorf("allowed domains = %v", cfg.Guard.AllowedDomains)
	}
	if cfg.Token.Store != StoreMemory || cfg.Token.RefreshThreshold != 5*time.Minute {
		t.Errorf("token = %+v", cfg.Token)
	}
	if cfg.AMQP.Topology.Exchange != "agent.events" {
		t.Errorf("topology = %+v", cfg.AMQP.Topology)
	}
	if cfg.Status.Addr != "127.0.0.1:9090" {
		t.Errorf("status addr = %q", cfg.Status.Addr)
	}
	if cfg.Backend.Breaker.ConsecutiveFailures != 5 {
		t.Errorf("breaker = %+v", cfg.Backend.Breaker)
	}

	if err := cfg.RequireBackend(); !errors.Is(err, ErrInvalid) {
		t.Errorf("RequireBackend without base_url = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
agent_id: agent-7
backend:
  base_url: https://api.example.com
  breaker:
    consecutive_failures: 3
scheduler:
  min_interval: 2s
  max_interval: 30s
fetch:
  retry:
    max_retries: 5
    base_delay: 250ms
  retryable_statuses: [429, 503]
  rate_limit: 2.5
guard:
  allowed_domains: [vinted.fr]
token:
  store: redis
  redis_url: redis://localhost:6379/0
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AgentID != "agent-7" || cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Backend.Breaker.ConsecutiveFailures != 3 || cfg.Backend.Breaker.MaxRequests != 1 {
		t.Errorf("breaker = %+v", cfg.Backend.Breaker)
	}
	if cfg.Scheduler.MinInterval != 2*time.Second || cfg.Scheduler.MaxInterval != 30*time.Second {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Fetch.Retry.MaxRetries != 5 || cfg.Fetch.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Fetch.Retry)
	}
	if cfg.Fetch.Retry.BackoffMultiplier != 2 {
		t.Errorf("unset retry field should keep default, got %v", cfg.Fetch.Retry.BackoffMultiplier)
	}
	if !slices.Equal(cfg.Fetch.RetryableStatuses, []int{429, 503}) || cfg.Fetch.RateLimit != 2.5 {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if !slices.Equal(cfg.Guard.AllowedDomains, []string{"vinted.fr"}) {
		t.Errorf("allowed domains = %v", cfg.Guard.AllowedDomains)
	}
	if cfg.Token.Store != StoreRedis || cfg.Log.Format != "json" {
		t.Errorf("token = %+v log = %+v", cfg.Token, cfg.Log)
	}
	if err := cfg.RequireBackend(); err != nil {
		t.Errorf("RequireBackend: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "backend:\n  base_url: https://file.example.com\n")
	t.Setenv("MARKETAGENT_BACKEND_BASE_URL", "https://env.example.com")
	t.Setenv("MARKETAGENT_SCHEDULER_MIN_INTERVAL", "1s")
	t.Setenv("MARKETAGENT_TOKEN_ACCESS_TOKEN", "seed-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q, env should win", cfg.Backend.BaseURL)
	}
	if cfg.Scheduler.MinInterval != time.Second {
		t.Errorf("min_interval = %v", cfg.Scheduler.MinInterval)
	}
	if cfg.Token.AccessToken != "seed-token" {
		t.Errorf("access_token = %q", cfg.Token.AccessToken)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad backend url", "backend:\n  base_url: ftp://x\n", "backend.base_url"},
		{"unknown store", "token:\n  store: etcd\n", "token.store"},
		{"redis without url", "token:\n  store: redis\n", "token.redis_url"},
		{"postgres without dsn", "token:\n  store: postgres\n", "database.dsn"},
		{"bad status code", "fetch:\n  retryable_statuses: [503, 42]\n", "42"},
		{"negative rate", "fetch:\n  rate_limit: -1\n", "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "backend: [unterminated\n"))
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("expected read error, got %v", err)
	}
}
