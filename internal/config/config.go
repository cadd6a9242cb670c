// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Empty RedisAddr falls back to the in-process snapshot cache.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	ProviderBaseURL string `env:"ESIGN_BASE_URL"`
	ProviderToken   string `env:"ESIGN_API_TOKEN"`
	ProviderMock    bool   `env:"ESIGN_MOCK" envDefault:"false"`
	WebhookSecret   string `env:"ESIGN_WEBHOOK_SECRET"`

	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	SnapshotTTL      time.Duration `env:"SNAPSHOT_TTL" envDefault:"60s"`
	EnforceSignOrder bool          `env:"ENFORCE_SIGN_ORDER" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if !c.ProviderMock {
		if c.ProviderBaseURL == "" {
			return Config{}, fmt.Errorf("ESIGN_BASE_URL is required unless ESIGN_MOCK=true")
		}
		if c.WebhookSecret == "" {
			return Config{}, fmt.Errorf("ESIGN_WEBHOOK_SECRET is required unless ESIGN_MOCK=true")
		}
	}
	if c.PollInterval < time.Second {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be at least 1s")
	}
	return c, nil
}
