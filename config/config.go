// Package config loads service configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	GinMode    string
	LogLevel   slog.Level
	Env        string
	AppVersion string

	TrackingEnabled bool
	MixpanelToken   string
	MixpanelAPIURL  string
	ReplayBaseURL   string

	DatabaseURL string

	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDB       string
	ClickHouseUser     string
	ClickHousePassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TabTTL        time.Duration

	JWTSecret   []byte
	AuthDefault string
	FEOrigin    string

	ExperimentsFile string
}

// Load reads a .env file if present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, which lets tests avoid the
// real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:               get("PORT", "8080"),
		GinMode:            get("GIN_MODE", "debug"),
		Env:                get("APP_ENV", "development"),
		AppVersion:         get("APP_VERSION", "dev"),
		MixpanelToken:      get("MIXPANEL_TOKEN", ""),
		MixpanelAPIURL:     get("MIXPANEL_API_URL", "https://api.mixpanel.com"),
		ReplayBaseURL:      get("REPLAY_BASE_URL", "https://mixpanel.com/replay"),
		DatabaseURL:        get("DATABASE_URL", ""),
		ClickHouseHost:     get("CLICKHOUSE_HOST", ""),
		ClickHouseDB:       get("CLICKHOUSE_DB_NAME", "default"),
		ClickHouseUser:     get("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: get("CLICKHOUSE_PASSWORD", ""),
		RedisAddr:          get("REDIS_ADDR", ""),
		RedisPassword:      get("REDIS_PASSWORD", ""),
		JWTSecret:          []byte(get("JWT_SECRET_KEY", "")),
		AuthDefault:        get("AUTH_DEFAULT", ""),
		FEOrigin:           get("FE_ORIGIN", "http://localhost:3000"),
		ExperimentsFile:    get("EXPERIMENTS_FILE", ""),
	}

	var err error
	if cfg.TrackingEnabled, err = strconv.ParseBool(get("TRACKING_ENABLED", "true")); err != nil {
		return nil, fmt.Errorf("invalid TRACKING_ENABLED: %w", err)
	}
	if cfg.ClickHousePort, err = strconv.Atoi(get("CLICKHOUSE_NATIVE_PORT", "9000")); err != nil {
		return nil, fmt.Errorf("invalid CLICKHOUSE_NATIVE_PORT: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(get("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.TabTTL, err = time.ParseDuration(get("TAB_TTL", "30m")); err != nil {
		return nil, fmt.Errorf("invalid TAB_TTL: %w", err)
	}
	if len(cfg.JWTSecret) == 0 && cfg.AuthDefault == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY or AUTH_DEFAULT must be set")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// SinkEnabled reports whether events can reach Mixpanel at all. A missing
// token disables tracking without affecting anything else.
func (c *Config) SinkEnabled() bool {
	return c.TrackingEnabled && c.MixpanelToken != ""
}

// NewLogger returns the process logger: JSON in release mode, text otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	var h slog.Handler
	if c.GinMode == "release" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "clicktrail", "env", c.Env)
}
