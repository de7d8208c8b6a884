// Package config loads pimsync settings from YAML, defaults and PIMSYNC_*
// environment variables, and validates them against an embedded CUE schema.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. PIMSYNC_SYNC_POLICY.
const EnvPrefix = "PIMSYNC"

// Config is the root configuration.
type Config struct {
	Primary     StoreConfig `mapstructure:"primary" json:"primary"`
	Secondary   StoreConfig `mapstructure:"secondary" json:"secondary"`
	Sync        SyncConfig  `mapstructure:"sync" json:"sync"`
	Retry       RetryConfig `mapstructure:"retry" json:"retry"`
	Log         LogConfig   `mapstructure:"log" json:"log"`
	LockFile    string      `mapstructure:"lock_file" json:"lock_file"`
	MetricsFile string      `mapstructure:"metrics_file" json:"metrics_file"`
}

// StoreConfig locates one side's SQLite database.
type StoreConfig struct {
	Path            string `mapstructure:"path" json:"path"`
	MaxPayloadBytes int    `mapstructure:"max_payload_bytes" json:"max_payload_bytes"`
	PageSize        int    `mapstructure:"page_size" json:"page_size"`
}

// SyncConfig controls one pass.
type SyncConfig struct {
	Policy         string        `mapstructure:"policy" json:"policy"`
	DeleteEnabled  bool          `mapstructure:"delete_enabled" json:"delete_enabled"`
	Kinds          []string      `mapstructure:"kinds" json:"kinds"`
	Window         WindowConfig  `mapstructure:"window" json:"window"`
	DedupeTieBreak string        `mapstructure:"dedupe_tie_break" json:"dedupe_tie_break"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
}

// WindowConfig bounds appointments around the pass start.
type WindowConfig struct {
	PastDays   int `mapstructure:"past_days" json:"past_days"`
	FutureDays int `mapstructure:"future_days" json:"future_days"`
}

// RetryConfig holds the rate-limit and transport retry policies.
type RetryConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
	Transport TransportConfig `mapstructure:"transport" json:"transport"`
}

type RateLimitConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier" json:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval"`
	MaxAttempts     uint          `mapstructure:"max_attempts" json:"max_attempts"`
}

type TransportConfig struct {
	MaxAttempts uint `mapstructure:"max_attempts" json:"max_attempts"`
}

// LogConfig selects the log handler. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when the file omits them.
func setDefaults(v *viper.Viper) {
	ec := engine.DefaultConfig()
	rs := store.DefaultRetrySettings()

	v.SetDefault("primary.path", "primary.db")
	v.SetDefault("primary.max_payload_bytes", ec.PrimaryMaxPayload)
	v.SetDefault("primary.page_size", ec.PageSize)
	v.SetDefault("secondary.path", "secondary.db")
	v.SetDefault("secondary.max_payload_bytes", ec.SecondaryMaxPayload)
	v.SetDefault("secondary.page_size", ec.PageSize)

	kinds := make([]string, len(ec.Kinds))
	for i, k := range ec.Kinds {
		kinds[i] = string(k)
	}
	v.SetDefault("sync.policy", string(ec.Policy))
	v.SetDefault("sync.delete_enabled", ec.DeleteEnabled)
	v.SetDefault("sync.kinds", kinds)
	v.SetDefault("sync.window.past_days", ec.PastDays)
	v.SetDefault("sync.window.future_days", ec.FutureDays)
	v.SetDefault("sync.dedupe_tie_break", string(ec.TieBreak))
	v.SetDefault("sync.timeout", 10*time.Minute)

	v.SetDefault("retry.rate_limit.initial_interval", rs.RateLimitInitial)
	v.SetDefault("retry.rate_limit.multiplier", rs.RateLimitMultiplier)
	v.SetDefault("retry.rate_limit.max_interval", rs.RateLimitMax)
	v.SetDefault("retry.rate_limit.max_attempts", rs.RateLimitAttempts)
	v.SetDefault("retry.transport.max_attempts", rs.TransportAttempts)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("lock_file", "pimsync.lock")
	v.SetDefault("metrics_file", "")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return cfg
}

// Load reads path (YAML) if non-empty, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Engine converts the sync settings into an engine configuration.
func (c *Config) Engine() (engine.Config, error) {
	policy, err := model.ParsePolicy(c.Sync.Policy)
	if err != nil {
		return engine.Config{}, err
	}
	tb, err := engine.ParseTieBreak(c.Sync.DedupeTieBreak)
	if err != nil {
		return engine.Config{}, err
	}
	kinds := make([]model.Kind, 0, len(c.Sync.Kinds))
	for _, s := range c.Sync.Kinds {
		k, err := model.ParseKind(s)
		if err != nil {
			return engine.Config{}, err
		}
		kinds = append(kinds, k)
	}
	return engine.Config{
		Policy:              policy,
		DeleteEnabled:       c.Sync.DeleteEnabled,
		Kinds:               kinds,
		PastDays:            c.Sync.Window.PastDays,
		FutureDays:          c.Sync.Window.FutureDays,
		TieBreak:            tb,
		PageSize:            min(c.Primary.PageSize, c.Secondary.PageSize),
		PrimaryMaxPayload:   c.Primary.MaxPayloadBytes,
		SecondaryMaxPayload: c.Secondary.MaxPayloadBytes,
	}, nil
}

// RetrySettings converts the retry section. The transport wait is fixed.
func (c *Config) RetrySettings() store.RetrySettings {
	rs := store.DefaultRetrySettings()
	rs.RateLimitInitial = c.Retry.RateLimit.InitialInterval
	rs.RateLimitMultiplier = c.Retry.RateLimit.Multiplier
	rs.RateLimitMax = c.Retry.RateLimit.MaxInterval
	rs.RateLimitAttempts = c.Retry.RateLimit.MaxAttempts
	rs.TransportAttempts = c.Retry.Transport.MaxAttempts
	return rs
}

// SlogLevel maps log.level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")
