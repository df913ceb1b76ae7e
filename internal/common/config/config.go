// Package config provides configuration management for contextd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Modes for the process-wide environment switch.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config holds all configuration sections for contextd.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	RequestTimeout      int    `mapstructure:"requestTimeout"`      // seconds, normal endpoints
	CompactTimeout      int    `mapstructure:"compactTimeout"`      // seconds, compact save/restore
	HealthcheckInterval int    `mapstructure:"healthcheckInterval"` // seconds
}

// RealtimeConfig holds the WebSocket gateway configuration.
type RealtimeConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig holds database connection configuration.
// When Driver is "sqlite3" the store runs on a local file and the
// wake channel falls back to the in-process event bus.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // pgx or sqlite3
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbName"`
	SSLMode    string `mapstructure:"sslMode"`
	MaxConns   int    `mapstructure:"maxConns"`
	MaxRetries int    `mapstructure:"maxRetries"`
	SQLitePath string `mapstructure:"sqlitePath"`
}

// NATSConfig holds NATS messaging configuration. An empty URL means
// the in-memory event bus is used for the wake channel in SQLite mode.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	TokenTTL int    `mapstructure:"tokenTtl"` // seconds
}

// CleanupConfig holds thresholds for the periodic workers.
type CleanupConfig struct {
	Interval        int `mapstructure:"interval"`        // seconds between cleanup ticks
	MessageTTL      int `mapstructure:"messageTtl"`      // default message TTL in seconds, 0 = none
	ReadMessageMax  int `mapstructure:"readMessageMax"`  // hours a read message is kept
	SnapshotMax     int `mapstructure:"snapshotMax"`     // hours a compact snapshot is kept
	SessionInactive int `mapstructure:"sessionInactive"` // minutes without actions before inactive
	SessionStale    int `mapstructure:"sessionStale"`    // minutes without actions before closed
	MetricInterval  int `mapstructure:"metricInterval"`  // seconds between metric snapshots
}

// CORSConfig holds the allowed-origin list for the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool { return c.Mode == ModeProduction }

// RequestTimeoutDuration returns the normal-endpoint deadline.
func (s *ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// CompactTimeoutDuration returns the compact save/restore deadline.
func (s *ServerConfig) CompactTimeoutDuration() time.Duration {
	return time.Duration(s.CompactTimeout) * time.Second
}

// TokenTTLDuration returns the token lifetime.
func (a *AuthConfig) TokenTTLDuration() time.Duration {
	return time.Duration(a.TokenTTL) * time.Second
}

// IntervalDuration returns the cleanup tick interval.
func (c *CleanupConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// MetricIntervalDuration returns the metric snapshot interval.
func (c *CleanupConfig) MetricIntervalDuration() time.Duration {
	return time.Duration(c.MetricInterval) * time.Second
}

// detectDefaultMode returns the mode from CONTEXTD_ENV, defaulting to
// development.
func detectDefaultMode() string {
	if env := os.Getenv("CONTEXTD_ENV"); env == "production" || env == "prod" {
		return ModeProduction
	}
	return ModeDevelopment
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", detectDefaultMode())

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3932)
	v.SetDefault("server.requestTimeout", 5)
	v.SetDefault("server.compactTimeout", 30)
	v.SetDefault("server.healthcheckInterval", 30)

	// Realtime defaults
	v.SetDefault("realtime.port", 3933)

	// Database defaults
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "contextd")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "contextd")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.maxRetries", 3)
	v.SetDefault("database.sqlitePath", "./contextd.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "contextd")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.tokenTtl", 3600)

	// Cleanup defaults
	v.SetDefault("cleanup.interval", 60)
	v.SetDefault("cleanup.messageTtl", 0)
	v.SetDefault("cleanup.readMessageMax", 24)
	v.SetDefault("cleanup.snapshotMax", 24)
	v.SetDefault("cleanup.sessionInactive", 10)
	v.SetDefault("cleanup.sessionStale", 30)
	v.SetDefault("cleanup.metricInterval", 5)

	// CORS defaults
	v.SetDefault("cors.allowedOrigins", []string{"http://localhost:5173"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// detectDefaultLogFormat returns json in production environments and
// a human-readable console format otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if detectDefaultMode() == ModeProduction {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CONTEXTD_ with snake_case naming.
func Load() (*Config, []string, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations. The returned slice holds validation warnings that were
// downgraded from errors in development mode.
func LoadWithPath(configPath string) (*Config, []string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONTEXTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where env var naming differs from config key naming.
	_ = v.BindEnv("database.dbName", "CONTEXTD_DATABASE_NAME")
	_ = v.BindEnv("database.maxConns", "CONTEXTD_DATABASE_MAX_CONNS")
	_ = v.BindEnv("database.maxRetries", "CONTEXTD_DATABASE_MAX_RETRIES")
	_ = v.BindEnv("database.sqlitePath", "CONTEXTD_DATABASE_SQLITE_PATH")
	_ = v.BindEnv("auth.secret", "CONTEXTD_AUTH_SECRET")
	_ = v.BindEnv("cors.allowedOrigins", "CONTEXTD_CORS_ORIGINS")
	_ = v.BindEnv("mode", "CONTEXTD_ENV")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/contextd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	errs := validate(&cfg)
	if len(errs) > 0 {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
		}
		// Development mode: log as warnings and continue.
		return &cfg, errs, nil
	}

	return &cfg, nil, nil
}

// validate checks configuration invariants. The caller decides whether
// failures are fatal (production) or warnings (development).
func validate(cfg *Config) []string {
	var errs []string

	if cfg.Mode != ModeProduction && cfg.Mode != ModeDevelopment {
		errs = append(errs, "mode must be production or development")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Realtime.Port <= 0 || cfg.Realtime.Port > 65535 {
		errs = append(errs, "realtime.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "pgx" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if cfg.Database.Password == "" {
			errs = append(errs, "database.password is required")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required")
		}
	}
	if cfg.Database.MaxConns < 1 {
		errs = append(errs, "database.maxConns must be at least 1")
	}

	if cfg.IsProduction() {
		if cfg.Auth.Secret == "" {
			errs = append(errs, "auth.secret is required in production")
		} else if len(cfg.Auth.Secret) < 32 {
			errs = append(errs, "auth.secret must be at least 32 characters")
		}
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, "cors wildcard origin is not allowed in production")
			}
		}
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.tokenTtl must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	return errs
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
