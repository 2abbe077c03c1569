package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Webhook     WebhookConfig     `yaml:"webhook" mapstructure:"webhook"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" mapstructure:"diagnostics"`
	Settings    SettingsConfig    `yaml:"settings" mapstructure:"settings"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the dashboard API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateBurst    int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	APIKeys        []APIKey `yaml:"api_keys" mapstructure:"api_keys"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// APIKey is a bearer token and the owner it authenticates as. Kept as a list
// because viper lower-cases map keys.
type APIKey struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Owner string `yaml:"owner" mapstructure:"owner"`
}

// Owners returns the API key to owner mapping.
func (s ServerConfig) Owners() map[string]string {
	out := make(map[string]string, len(s.APIKeys))
	for _, k := range s.APIKeys {
		if k.Key != "" && k.Owner != "" {
			out[k.Key] = k.Owner
		}
	}
	return out
}

// WebhookConfig configures the remote personalization webhook.
type WebhookConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// BatchConfig configures personalization runs.
type BatchConfig struct {
	PacingMS int    `yaml:"pacing_ms" mapstructure:"pacing_ms"`
	Mode     string `yaml:"mode" mapstructure:"mode"`
	// Retention is how many finished run trackers stay queryable.
	Retention int `yaml:"retention" mapstructure:"retention"`
}

// DiagnosticsConfig configures endpoint probes.
type DiagnosticsConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Origin      string `yaml:"origin" mapstructure:"origin"`
}

// SettingsConfig selects the user settings backend.
type SettingsConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	Path     string `yaml:"path" mapstructure:"path"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// MonitoringConfig configures the background health checker run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxProcessingUploads int     `yaml:"max_processing_uploads" mapstructure:"max_processing_uploads"`
	AlertWebhookURL      string  `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
}

// Load reads configuration from an optional ./config.yaml and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout_secs", 60)
	v.SetDefault("webhook.max_attempts", 1)
	v.SetDefault("batch.pacing_ms", 1000)
	v.SetDefault("batch.mode", "sequential")
	v.SetDefault("batch.retention", 100)
	v.SetDefault("diagnostics.timeout_secs", 10)
	v.SetDefault("diagnostics.origin", "http://localhost:8080")
	v.SetDefault("settings.backend", "file")
	v.SetDefault("settings.path", "settings.yaml")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "process",
// "serve", "diagnose" or "store". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	needStore := mode == "process" || mode == "serve" || mode == "store"
	switch mode {
	case "process", "serve", "diagnose", "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if needStore {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	if mode == "process" || mode == "serve" {
		if c.Webhook.TimeoutSecs <= 0 {
			problems = append(problems, "webhook.timeout_secs must be positive")
		}
		if c.Webhook.MaxAttempts < 1 {
			problems = append(problems, "webhook.max_attempts must be at least 1")
		}
		if c.Batch.PacingMS < 0 {
			problems = append(problems, "batch.pacing_ms must not be negative")
		}
		switch c.Batch.Mode {
		case "", "sequential", "batch":
		default:
			problems = append(problems, fmt.Sprintf("batch.mode %q must be sequential or batch", c.Batch.Mode))
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			problems = append(problems, "server.rate_limit_rps must not be negative")
		}
		switch c.Settings.Backend {
		case "memory", "file", "redis":
		default:
			problems = append(problems, fmt.Sprintf("settings.backend %q must be memory, file or redis", c.Settings.Backend))
		}
		if c.Settings.Backend == "redis" && c.Settings.RedisURL == "" {
			problems = append(problems, "settings.redis_url is required for the redis backend")
		}
		if c.Monitoring.Enabled && c.Monitoring.FailureRateThreshold <= 0 {
			problems = append(problems, "monitoring.failure_rate_threshold must be positive")
		}
	}

	if mode == "diagnose" && c.Diagnostics.TimeoutSecs <= 0 {
		problems = append(problems, "diagnostics.timeout_secs must be positive")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
