// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 512
	defaultSendBuffer     = 256
	defaultBurst          = 5
	defaultRefillInterval = time.Second
	defaultSweepInterval  = 30 * time.Second
	defaultIdleThreshold  = 2 * time.Minute
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// PresenceConfig controls the idle sweep.
type PresenceConfig struct {
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	IdleThreshold time.Duration `env:"IDLE_THRESHOLD" envDefault:"2m"`
}

// Config holds the relay configuration.
type Config struct {
	Port           string          `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string        `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize int64           `env:"MAX_MESSAGE_SIZE" envDefault:"512"`
	SendBuffer     int             `env:"SEND_BUFFER" envDefault:"256"`
	EchoToSender   bool            `env:"ECHO_TO_SENDER" envDefault:"true"`
	RateLimit      RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Presence       PresenceConfig  `envPrefix:"PRESENCE_"`
	DatabasePath   string          `env:"DB_PATH" envDefault:"chatapp.db"`
	DatabaseDebug  bool            `env:"DB_DEBUG" envDefault:"false"`
	LogLevel       string          `env:"LOG_LEVEL" envDefault:"info"`
}

// NewConfig creates a Config populated with default values for all settings,
// ignoring the process environment.
func NewConfig() *Config {
	var cfg Config
	// Only defaults are applied with an empty environment, which cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	sanitized := SanitizeConfig(cfg)
	return &sanitized
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	sanitized := SanitizeConfig(cfg)
	return &sanitized, nil
}

// SanitizeConfig replaces out of range values with defaults and normalizes the
// origin list.
func SanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.Presence.SweepInterval <= 0 {
		cfg.Presence.SweepInterval = defaultSweepInterval
	}

	if cfg.Presence.IdleThreshold <= 0 {
		cfg.Presence.IdleThreshold = defaultIdleThreshold
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "chatapp.db"
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}
