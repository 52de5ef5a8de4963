package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.MaxCircuitBytes != 200_000 {
		t.Errorf("maxCircuitBytes = %d, want 200000", cfg.MaxCircuitBytes)
	}
	if cfg.DefaultShots != 1024 {
		t.Errorf("defaultShots = %d, want 1024", cfg.DefaultShots)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BackoffPolicy != "exponential" {
		t.Errorf("backoffPolicy = %q, want exponential", cfg.BackoffPolicy)
	}
	if cfg.LeaseSeconds != 300 {
		t.Errorf("leaseSeconds = %d, want 300", cfg.LeaseSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	data := `
port: 9090
redisAddr: redis.internal:6380
maxCircuitBytes: 1000
defaultShots: 256
maxAttempts: 5
backoffPolicy: exp_full_jitter
submitRateLimit:
  requestsPerMinute: 60
  burstSize: 10
tracing:
  enabled: true
  serviceName: simq-test
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigOptional(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("unexpected core config: %+v", cfg)
	}
	if cfg.MaxCircuitBytes != 1000 || cfg.DefaultShots != 256 || cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.BackoffPolicy != "exp_full_jitter" {
		t.Fatalf("backoffPolicy = %q", cfg.BackoffPolicy)
	}
	if !cfg.SubmitRateLimit.Enabled() {
		t.Fatalf("expected rate limit enabled: %+v", cfg.SubmitRateLimit)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "simq-test" {
		t.Fatalf("unexpected tracing config: %+v", cfg.Tracing)
	}
	// Unset fields still get defaults.
	if cfg.LeaseSeconds != 300 {
		t.Fatalf("leaseSeconds = %d, want 300", cfg.LeaseSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7001")
	t.Setenv("REDIS_ADDR", "envhost:6379")
	t.Setenv("NUM_SHOTS", "2048")
	t.Setenv("MAX_ATTEMPTS", "7")
	t.Setenv("BACKOFF_POLICY", "linear")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("port = %d, want 7001", cfg.Port)
	}
	if cfg.RedisAddr != "envhost:6379" {
		t.Errorf("redisAddr = %q", cfg.RedisAddr)
	}
	if cfg.DefaultShots != 2048 {
		t.Errorf("defaultShots = %d, want 2048", cfg.DefaultShots)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("maxAttempts = %d, want 7", cfg.MaxAttempts)
	}
	if cfg.BackoffPolicy != "linear" {
		t.Errorf("backoffPolicy = %q, want linear", cfg.BackoffPolicy)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadConfigOptional("/no/such/config.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative port", func(c *Config) { c.Port = -1 }, "port"},
		{"backoff exceeds lease", func(c *Config) { c.BackoffMaxSeconds = 600; c.LeaseSeconds = 300 }, "leaseSeconds"},
		{"bad engine url", func(c *Config) { c.EngineURL = "ftp://simulator" }, "engineUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfigOptional("")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}
