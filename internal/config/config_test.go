package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "", cfg.NATSURL)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8088")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("REQUEST_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.HTTPAddr)
	assert.Equal(t, "nats://bus:4222", cfg.NATSURL)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
}

func TestLoadRejectsShortSecretsKey(t *testing.T) {
	t.Setenv("SECRETS_KEY", "too-short")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}
