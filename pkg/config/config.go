package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"medea/pkg/validation"

	"gopkg.in/yaml.v2"
)

// EnvPrefix starts every environment override, e.g. MEDEA__RPC__IDLE_TIMEOUT=5s.
const EnvPrefix = "MEDEA__"

type Config struct {
	Server struct {
		Client struct {
			Address   string `yaml:"address"`
			PublicURL string `yaml:"public_url"`
		} `yaml:"client"`
		Control struct {
			Address string `yaml:"address"`
		} `yaml:"control"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Rpc holds the member connection defaults; a member spec may override them.
	Rpc struct {
		IdleTimeout      time.Duration `yaml:"idle_timeout"`
		ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
	} `yaml:"rpc"`

	Control struct {
		StaticSpecsDir string        `yaml:"static_specs_dir"`
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"control"`

	Turn struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Pass       string `yaml:"pass"`
		TLS        bool   `yaml:"tls"`
		ForceRelay bool   `yaml:"force_relay"`
	} `yaml:"turn"`

	Callback struct {
		Timeout   time.Duration `yaml:"timeout"`
		Workers   int           `yaml:"workers"`
		QueueSize int           `yaml:"queue_size"`
		Retry     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		Breaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"callback"`

	// Backup snapshots the running room specs so a restart can bring them back.
	Backup struct {
		Enabled        bool          `yaml:"enabled"`
		Dir            string        `yaml:"dir"`
		Interval       time.Duration `yaml:"interval"`
		Retention      time.Duration `yaml:"retention"`
		RestoreOnStart bool          `yaml:"restore_on_start"`
	} `yaml:"backup"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
			// MaxThrottle bounds how long a command may wait for the limiter.
			MaxThrottle time.Duration `yaml:"max_throttle"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Client.Address == "" {
		return fmt.Errorf("server.client.address must not be empty")
	}
	if err := validation.ValidateURL(c.Server.Client.PublicURL); err != nil {
		return fmt.Errorf("server.client.public_url: %w", err)
	}
	if c.Server.Control.Address == "" {
		return fmt.Errorf("server.control.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Rpc
	if c.Rpc.IdleTimeout <= 0 {
		return fmt.Errorf("rpc.idle_timeout must be > 0")
	}
	if c.Rpc.ReconnectTimeout < 0 {
		return fmt.Errorf("rpc.reconnect_timeout must be >= 0")
	}
	if c.Rpc.PingInterval <= 0 {
		return fmt.Errorf("rpc.ping_interval must be > 0")
	}

	// Control
	if c.Control.RequestTimeout <= 0 {
		return fmt.Errorf("control.request_timeout must be > 0")
	}
	if c.Control.JWTSecret != "" && c.Control.TokenTTL <= 0 {
		return fmt.Errorf("control.token_ttl must be > 0 when control.jwt_secret is set")
	}

	// Turn
	if c.Turn.Host != "" && (c.Turn.Port <= 0 || c.Turn.Port > 65535) {
		return fmt.Errorf("turn.port must be in 1..65535 when turn.host is set")
	}

	// Callback
	if c.Callback.Timeout <= 0 {
		return fmt.Errorf("callback.timeout must be > 0")
	}
	if c.Callback.Workers <= 0 {
		return fmt.Errorf("callback.workers must be > 0")
	}
	if c.Callback.QueueSize <= 0 {
		return fmt.Errorf("callback.queue_size must be > 0")
	}
	if c.Callback.Retry.MaxAttempts < 0 {
		return fmt.Errorf("callback.retry.max_attempts must be >= 0")
	}
	if c.Callback.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("callback.breaker.failure_threshold must be > 0")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
	}
	if c.Backup.Retention < 0 {
		return fmt.Errorf("backup.retention must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxThrottle < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_throttle must be >= 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Client.Address = ":8080"
	cfg.Server.Client.PublicURL = "ws://127.0.0.1:8080"
	cfg.Server.Control.Address = ":6565"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 5 * time.Second

	cfg.Rpc.IdleTimeout = 10 * time.Second
	cfg.Rpc.ReconnectTimeout = 10 * time.Second
	cfg.Rpc.PingInterval = 3 * time.Second

	cfg.Control.TokenTTL = time.Hour
	cfg.Control.RequestTimeout = 5 * time.Second

	cfg.Turn.Port = 3478

	cfg.Callback.Timeout = 5 * time.Second
	cfg.Callback.Workers = 4
	cfg.Callback.QueueSize = 1024
	cfg.Callback.Retry.MaxAttempts = 3
	cfg.Callback.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Callback.Retry.MaxDelay = 5 * time.Second
	cfg.Callback.Breaker.FailureThreshold = 5
	cfg.Callback.Breaker.Timeout = 30 * time.Second

	cfg.Backup.Dir = "backups"
	cfg.Backup.Interval = time.Minute
	cfg.Backup.Retention = 24 * time.Hour
	cfg.Backup.RestoreOnStart = true

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "medea:events"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "medea"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024
	cfg.RateLimiting.WebSocket.MaxThrottle = time.Second

	return cfg
}

// envOverride binds one MEDEA__ variable to a config field.
type envOverride struct {
	key   string
	apply func(value string) error
}

func (c *Config) envOverrides() []envOverride {
	return []envOverride{
		{"SERVER__CLIENT__ADDRESS", setString(&c.Server.Client.Address)},
		{"SERVER__CLIENT__PUBLIC_URL", setString(&c.Server.Client.PublicURL)},
		{"SERVER__CONTROL__ADDRESS", setString(&c.Server.Control.Address)},
		{"SERVER__SHUTDOWN_TIMEOUT", setDuration(&c.Server.ShutdownTimeout)},
		{"RPC__IDLE_TIMEOUT", setDuration(&c.Rpc.IdleTimeout)},
		{"RPC__RECONNECT_TIMEOUT", setDuration(&c.Rpc.ReconnectTimeout)},
		{"RPC__PING_INTERVAL", setDuration(&c.Rpc.PingInterval)},
		{"CONTROL__STATIC_SPECS_DIR", setString(&c.Control.StaticSpecsDir)},
		{"CONTROL__JWT_SECRET", setString(&c.Control.JWTSecret)},
		{"TURN__HOST", setString(&c.Turn.Host)},
		{"TURN__PORT", setInt(&c.Turn.Port)},
		{"TURN__USER", setString(&c.Turn.User)},
		{"TURN__PASS", setString(&c.Turn.Pass)},
		{"TURN__FORCE_RELAY", setBool(&c.Turn.ForceRelay)},
		{"CALLBACK__WORKERS", setInt(&c.Callback.Workers)},
		{"BACKUP__ENABLED", setBool(&c.Backup.Enabled)},
		{"BACKUP__DIR", setString(&c.Backup.Dir)},
		{"LOG__LEVEL", setString(&c.Logging.Level)},
		{"REDIS__ENABLED", setBool(&c.Redis.Enabled)},
		{"REDIS__ADDRESS", setString(&c.Redis.Address)},
		{"REDIS__PASSWORD", setString(&c.Redis.Password)},
		{"TRACING__ENABLED", setBool(&c.Tracing.Enabled)},
		{"TRACING__JAEGER_URL", setString(&c.Tracing.JaegerURL)},
		{"RATE_LIMITING__ENABLED", setBool(&c.RateLimiting.Enabled)},
	}
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	for _, o := range c.envOverrides() {
		value, ok := lookup(EnvPrefix + o.key)
		if !ok || value == "" {
			continue
		}
		if err := o.apply(value); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.key, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}
