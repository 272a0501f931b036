package config

import (
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid, got: %v", err)
	}
	if cfg.Rpc.IdleTimeout != 10*time.Second {
		t.Errorf("rpc.idle_timeout = %v, want 10s", cfg.Rpc.IdleTimeout)
	}
	if cfg.Rpc.ReconnectTimeout != 10*time.Second {
		t.Errorf("rpc.reconnect_timeout = %v, want 10s", cfg.Rpc.ReconnectTimeout)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"client address", func(c *Config) { c.Server.Client.Address = "" }},
		{"public url", func(c *Config) { c.Server.Client.PublicURL = "" }},
		{"public url scheme", func(c *Config) { c.Server.Client.PublicURL = "ftp://medea.example.com" }},
		{"control address", func(c *Config) { c.Server.Control.Address = "" }},
		{"idle timeout", func(c *Config) { c.Rpc.IdleTimeout = 0 }},
		{"negative reconnect timeout", func(c *Config) { c.Rpc.ReconnectTimeout = -time.Second }},
		{"ping interval", func(c *Config) { c.Rpc.PingInterval = 0 }},
		{"token ttl with secret", func(c *Config) {
			c.Control.JWTSecret = "s"
			c.Control.TokenTTL = 0
		}},
		{"turn port", func(c *Config) {
			c.Turn.Host = "turn.example.com"
			c.Turn.Port = 0
		}},
		{"callback workers", func(c *Config) { c.Callback.Workers = 0 }},
		{"callback queue", func(c *Config) { c.Callback.QueueSize = 0 }},
		{"breaker threshold", func(c *Config) { c.Callback.Breaker.FailureThreshold = 0 }},
		{"backup dir", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Dir = ""
		}},
		{"backup interval", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Interval = 0
		}},
		{"negative backup retention", func(c *Config) { c.Backup.Retention = -time.Hour }},
		{"redis channel", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Channel = ""
		}},
		{"sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"http max concurrent must be >= 0", func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 }},
		{"ws messages per second must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"ws burst must be > 0", func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 }},
		{"ws max message size must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
		{"ws max throttle must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxThrottle = -time.Second }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MEDEA__RPC__IDLE_TIMEOUT":         "5s",
		"MEDEA__SERVER__CLIENT__ADDRESS":   ":9000",
		"MEDEA__TURN__PORT":                "5349",
		"MEDEA__REDIS__ENABLED":            "true",
		"MEDEA__CONTROL__STATIC_SPECS_DIR": "specs/",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnvOverrides(lookup); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.Rpc.IdleTimeout != 5*time.Second {
		t.Errorf("rpc.idle_timeout = %v, want 5s", cfg.Rpc.IdleTimeout)
	}
	if cfg.Server.Client.Address != ":9000" {
		t.Errorf("server.client.address = %q", cfg.Server.Client.Address)
	}
	if cfg.Turn.Port != 5349 {
		t.Errorf("turn.port = %d", cfg.Turn.Port)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis.enabled should be true")
	}
	if cfg.Control.StaticSpecsDir != "specs/" {
		t.Errorf("control.static_specs_dir = %q", cfg.Control.StaticSpecsDir)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "MEDEA__RPC__PING_INTERVAL" {
			return "often", true
		}
		return "", false
	}

	if err := DefaultConfig().applyEnvOverrides(lookup); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
