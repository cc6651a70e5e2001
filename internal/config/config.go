// Package config provides configuration management for the pattern tracker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pattern-tracker/internal/analysis/patterns"
	"pattern-tracker/internal/analysis/pipeline"
	"pattern-tracker/internal/cache"
	apperrors "pattern-tracker/internal/errors"
	"pattern-tracker/internal/lifecycle"
	"pattern-tracker/internal/logging"
	"pattern-tracker/internal/resilience"
	"pattern-tracker/internal/security"
	"pattern-tracker/internal/store"
	"pattern-tracker/internal/stream"
)

// Config holds all application configuration.
type Config struct {
	Logging   LoggingConfig                   `mapstructure:"logging"`
	Detection DetectionConfig                 `mapstructure:"detection"`
	Lifecycle LifecycleConfig                 `mapstructure:"lifecycle"`
	Library   LibraryConfig                   `mapstructure:"library"`
	Store     store.Config                    `mapstructure:"store"`
	Breaker   resilience.CircuitBreakerConfig `mapstructure:"breaker"`
	Redis     cache.RedisConfig               `mapstructure:"redis"`
	Server    ServerConfig                    `mapstructure:"server"`
	Stream    stream.HubConfig                `mapstructure:"stream"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DetectionConfig holds pattern detection and analysis settings.
type DetectionConfig struct {
	MinConfidence      float64       `mapstructure:"min_confidence"`
	HighConfidence     float64       `mapstructure:"high_confidence"`
	MaxConfidence      float64       `mapstructure:"max_confidence"`
	CandleLookback     int           `mapstructure:"candle_lookback"`
	VolumeLookback     int           `mapstructure:"volume_lookback"`
	VolumeConfirmRatio float64       `mapstructure:"volume_confirm_ratio"`
	MultiTimeframe     bool          `mapstructure:"multi_timeframe"`
	CoarseFactor       int           `mapstructure:"coarse_factor"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// LifecycleConfig holds lifecycle manager and sweeper settings.
type LifecycleConfig struct {
	ConfirmThreshold  float64       `mapstructure:"confirm_threshold"`
	MaxMisses         int           `mapstructure:"max_misses"`
	RepositoryTimeout time.Duration `mapstructure:"repository_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepMaxAgeHours  float64       `mapstructure:"sweep_max_age_hours"`
	RulesFile         string        `mapstructure:"rules_file"`
}

// LibraryConfig locates the pattern knowledge base. A disabled library turns
// enrichment off; an enabled one must load or startup fails.
type LibraryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ProductionMode  bool          `mapstructure:"production_mode"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pattern-tracker"
	}
	return filepath.Join(home, ".config", "pattern-tracker")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing config.toml
// is created from the template, together with rules.toml.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Dir = configDir
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(configDir, "patterns.db")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration rooted at configDir.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.Dir = configDir
	cfg.Store.SQLitePath = filepath.Join(configDir, "patterns.db")
	return cfg
}

func setDefaults(v *viper.Viper) {
	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)

	det := patterns.DefaultConfig()
	pipe := pipeline.DefaultConfig()
	v.SetDefault("detection.min_confidence", det.MinConfidence)
	v.SetDefault("detection.high_confidence", det.HighConfidence)
	v.SetDefault("detection.max_confidence", det.MaxConfidence)
	v.SetDefault("detection.candle_lookback", det.CandleLookback)
	v.SetDefault("detection.volume_lookback", det.VolumeLookback)
	v.SetDefault("detection.volume_confirm_ratio", det.VolumeConfirmRatio)
	v.SetDefault("detection.multi_timeframe", pipe.MultiTimeframe)
	v.SetDefault("detection.coarse_factor", pipe.CoarseFactor)
	v.SetDefault("detection.cache_ttl", "30s")

	lc := lifecycle.DefaultConfig()
	v.SetDefault("lifecycle.confirm_threshold", lc.ConfirmThreshold)
	v.SetDefault("lifecycle.max_misses", lc.MaxMisses)
	v.SetDefault("lifecycle.repository_timeout", lc.RepositoryTimeout.String())
	v.SetDefault("lifecycle.sweep_interval", "15m")
	v.SetDefault("lifecycle.sweep_max_age_hours", 72.0)
	v.SetDefault("lifecycle.rules_file", "rules.toml")

	v.SetDefault("library.enabled", true)
	v.SetDefault("library.path", "")

	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	cb := resilience.DefaultCircuitBreakerConfig()
	v.SetDefault("breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("breaker.success_threshold", cb.SuccessThreshold)
	v.SetDefault("breaker.cooldown", cb.Cooldown.String())

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("server.address", "127.0.0.1:8090")
	v.SetDefault("server.production_mode", false)
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", "10s")

	hub := stream.DefaultHubConfig()
	v.SetDefault("stream.buffer_size", hub.BufferSize)
	v.SetDefault("stream.subscriber_buffer_size", hub.SubscriberBufferSize)
	v.SetDefault("stream.slow_consumer_drop_threshold", hub.SlowConsumerDropThreshold)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PATTERNS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PATTERNS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PATTERNS_POSTGRES_URL"); v != "" {
		cfg.Store.PostgresURL = v
	}
	if v := os.Getenv("PATTERNS_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PATTERNS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PATTERNS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return apperrors.NewValidationError("logging.level", c.Logging.Level, "must be trace, debug, info, warn or error")
	}

	d := c.Detection
	if d.MinConfidence < 0 || d.MinConfidence > 100 {
		return apperrors.NewValidationError("detection.min_confidence", d.MinConfidence, "must be in [0, 100]")
	}
	if d.HighConfidence < d.MinConfidence || d.HighConfidence > 100 {
		return apperrors.NewValidationError("detection.high_confidence", d.HighConfidence, "must be in [min_confidence, 100]")
	}
	if d.MaxConfidence < d.HighConfidence || d.MaxConfidence > 100 {
		return apperrors.NewValidationError("detection.max_confidence", d.MaxConfidence, "must be in [high_confidence, 100]")
	}
	if d.CandleLookback < 1 || d.VolumeLookback < 1 {
		return apperrors.NewValidationError("detection.candle_lookback", d.CandleLookback, "lookbacks must be positive")
	}
	if d.VolumeConfirmRatio <= 0 {
		return apperrors.NewValidationError("detection.volume_confirm_ratio", d.VolumeConfirmRatio, "must be positive")
	}
	if d.CacheTTL < 0 {
		return apperrors.NewValidationError("detection.cache_ttl", d.CacheTTL, "must not be negative")
	}

	if err := c.ManagerConfig().Validate(); err != nil {
		return err
	}
	if c.Lifecycle.SweepInterval <= 0 {
		return apperrors.NewValidationError("lifecycle.sweep_interval", c.Lifecycle.SweepInterval, "must be positive")
	}
	if c.Lifecycle.SweepMaxAgeHours <= 0 {
		return apperrors.NewValidationError("lifecycle.sweep_max_age_hours", c.Lifecycle.SweepMaxAgeHours, "must be positive")
	}

	switch strings.ToLower(c.Store.Driver) {
	case "", store.DriverMemory, store.DriverSQLite:
	case store.DriverPostgres:
		if c.Store.PostgresURL == "" {
			return apperrors.NewValidationError("store.postgres_url", "", "required for the postgres driver")
		}
	default:
		return apperrors.NewValidationError("store.driver", c.Store.Driver, "must be memory, sqlite or postgres")
	}

	if c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 || c.Breaker.Cooldown <= 0 {
		return apperrors.NewValidationError("breaker", c.Breaker, "thresholds and cooldown must be positive")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return apperrors.NewValidationError("redis.address", "", "required when redis is enabled")
	}
	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Store.PostgresURL = security.MaskURL(c.Store.PostgresURL)
	out.Redis.Password = security.MaskCredential(c.Redis.Password)
	out.Server.AllowOrigins = append([]string(nil), c.Server.AllowOrigins...)
	return &out
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// DetectorConfig converts the detection section for the pattern detector.
func (c *Config) DetectorConfig() patterns.Config {
	cfg := patterns.DefaultConfig()
	cfg.MinConfidence = c.Detection.MinConfidence
	cfg.HighConfidence = c.Detection.HighConfidence
	cfg.MaxConfidence = c.Detection.MaxConfidence
	cfg.CandleLookback = c.Detection.CandleLookback
	cfg.VolumeLookback = c.Detection.VolumeLookback
	cfg.VolumeConfirmRatio = c.Detection.VolumeConfirmRatio
	return cfg
}

// PipelineConfig converts the detection section for the analyzer.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{MultiTimeframe: c.Detection.MultiTimeframe, CoarseFactor: c.Detection.CoarseFactor}
}

// ManagerConfig converts the lifecycle section for the lifecycle manager.
func (c *Config) ManagerConfig() lifecycle.Config {
	return lifecycle.Config{
		ConfirmThreshold:  c.Lifecycle.ConfirmThreshold,
		MaxMisses:         c.Lifecycle.MaxMisses,
		RepositoryTimeout: c.Lifecycle.RepositoryTimeout,
	}
}

// RulesPath resolves the rules file against the config directory.
func (c *Config) RulesPath() string {
	if c.Lifecycle.RulesFile == "" || filepath.IsAbs(c.Lifecycle.RulesFile) {
		return c.Lifecycle.RulesFile
	}
	return filepath.Join(c.Dir, c.Lifecycle.RulesFile)
}
