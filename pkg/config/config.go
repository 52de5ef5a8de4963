package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qbitworks/simq/internal/ratelimit"

	"gopkg.in/yaml.v3"
)

// Config is constructed once at process start and passed by reference to each
// component; there is no ambient global configuration.
type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	// Submission limits.
	MaxCircuitBytes int `yaml:"maxCircuitBytes"`
	DefaultShots    int `yaml:"defaultShots"`
	MaxShots        int `yaml:"maxShots"`

	// Retry and redelivery.
	MaxAttempts        int    `yaml:"maxAttempts"`
	BackoffPolicy      string `yaml:"backoffPolicy"`
	BackoffBaseSeconds int    `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds  int    `yaml:"backoffMaxSeconds"`

	// Worker.
	LeaseSeconds        int `yaml:"leaseSeconds"`
	RequeueInspectLimit int `yaml:"requeueInspectLimit"`
	PollIntervalMillis  int `yaml:"pollIntervalMillis"`

	// Orphan reconciliation.
	ReconcileIntervalSeconds int `yaml:"reconcileIntervalSeconds"`
	ReconcileAfterSeconds    int `yaml:"reconcileAfterSeconds"`
	ReconcileBatchLimit      int `yaml:"reconcileBatchLimit"`

	// Execution Engine collaborator.
	EngineURL            string `yaml:"engineUrl"`
	EngineTimeoutSeconds int    `yaml:"engineTimeoutSeconds"`

	SubmitRateLimit ratelimit.Bucket `yaml:"submitRateLimit"`

	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// LoadConfigOptional loads from filePath when given; with an empty path the
// configuration comes from environment variables and defaults alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	var c Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envInt("PORT", &c.Port)
	envStr("REDIS_ADDR", &c.RedisAddr)
	envStr("REDIS_PASSWORD", &c.RedisPassword)
	envStr("LOG_LEVEL", &c.LogLevel)
	envStr("LOG_FORMAT", &c.LogFormat)
	envStr("ENV", &c.Env)
	envInt("MAX_CIRCUIT_BYTES", &c.MaxCircuitBytes)
	envInt("NUM_SHOTS", &c.DefaultShots)
	envInt("MAX_SHOTS", &c.MaxShots)
	envInt("MAX_ATTEMPTS", &c.MaxAttempts)
	envStr("BACKOFF_POLICY", &c.BackoffPolicy)
	envInt("BACKOFF_BASE_SECONDS", &c.BackoffBaseSeconds)
	envInt("BACKOFF_MAX_SECONDS", &c.BackoffMaxSeconds)
	envInt("LEASE_SECONDS", &c.LeaseSeconds)
	envInt("REQUEUE_INSPECT_LIMIT", &c.RequeueInspectLimit)
	envInt("POLL_INTERVAL_MILLIS", &c.PollIntervalMillis)
	envInt("RECONCILE_INTERVAL_SECONDS", &c.ReconcileIntervalSeconds)
	envInt("RECONCILE_AFTER_SECONDS", &c.ReconcileAfterSeconds)
	envInt("RECONCILE_BATCH_LIMIT", &c.ReconcileBatchLimit)
	envStr("ENGINE_URL", &c.EngineURL)
	envInt("ENGINE_TIMEOUT_SECONDS", &c.EngineTimeoutSeconds)
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.MaxCircuitBytes <= 0 {
		c.MaxCircuitBytes = 200_000
	}
	if c.DefaultShots <= 0 {
		c.DefaultShots = 1024
	}
	if c.MaxShots <= 0 {
		c.MaxShots = 100_000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exponential"
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 2
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 60
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 300
	}
	if c.RequeueInspectLimit <= 0 {
		c.RequeueInspectLimit = 200
	}
	if c.PollIntervalMillis <= 0 {
		c.PollIntervalMillis = 250
	}
	if c.ReconcileIntervalSeconds <= 0 {
		c.ReconcileIntervalSeconds = 60
	}
	if c.ReconcileAfterSeconds <= 0 {
		c.ReconcileAfterSeconds = 300
	}
	if c.ReconcileBatchLimit <= 0 {
		c.ReconcileBatchLimit = 100
	}
	if c.EngineURL == "" {
		c.EngineURL = "http://localhost:9000"
	}
	if c.EngineTimeoutSeconds <= 0 {
		c.EngineTimeoutSeconds = 600
	}
}

func (c *Config) Validate() error {
	var errs []string
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be a valid TCP port")
	}
	if c.MaxCircuitBytes <= 0 {
		errs = append(errs, "maxCircuitBytes must be positive")
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, "maxAttempts must be positive")
	}
	// The lease is the redelivery visibility window; nothing in the pipeline
	// may use a shorter timeout, so backoff delays must fit under it.
	if c.BackoffMaxSeconds > c.LeaseSeconds {
		errs = append(errs, "backoffMaxSeconds must not exceed leaseSeconds")
	}
	if !strings.HasPrefix(c.EngineURL, "http://") && !strings.HasPrefix(c.EngineURL, "https://") {
		errs = append(errs, "engineUrl must be an http(s) URL")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
