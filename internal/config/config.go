// Package config loads engine settings from the environment, with an
// optional flowmesh.yaml for local development.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the engine process.
type Config struct {
	// HTTPAddr is the listen address of the management and trigger API.
	HTTPAddr string
	// NATSURL is the audit bus; empty disables audit emission.
	NATSURL string
	// DatabaseURL is the Postgres config store; empty runs the engine
	// stateless (ad-hoc executions only).
	DatabaseURL string
	// SecretsKey is the AES-256 key for the secret store, 32 bytes.
	SecretsKey string
	// RequestTimeout bounds synchronous trigger and API executions.
	RequestTimeout time.Duration
	// LogLevel is a logrus level name.
	LogLevel string
}

// Load reads flowmesh.yaml (when present) and the environment. Environment
// variables win over file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("flowmesh")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/flowmesh")

	v.SetDefault("http_addr", ":9090")
	v.SetDefault("nats_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("secrets_key", "")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("log_level", "info")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:       v.GetString("http_addr"),
		NATSURL:        v.GetString("nats_url"),
		DatabaseURL:    v.GetString("database_url"),
		SecretsKey:     v.GetString("secrets_key"),
		RequestTimeout: v.GetDuration("request_timeout"),
		LogLevel:       v.GetString("log_level"),
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.SecretsKey != "" && len(cfg.SecretsKey) != 32 {
		return nil, fmt.Errorf("config: secrets_key must be exactly 32 bytes, got %d", len(cfg.SecretsKey))
	}
	return cfg, nil
}
