package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://pos.example.com/api")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.TokenStore.Backend)
	assert.Equal(t, "/auth/login", cfg.API.LoginPath)
	assert.Equal(t, "/auth/refresh", cfg.API.RefreshPath)
	assert.Equal(t, 60*time.Second, cfg.Session.SweepInterval())
	assert.Zero(t, cfg.Session.RefreshAhead())
	assert.Equal(t, "/login", cfg.Routes.Login)
	assert.Equal(t, "/forbidden", cfg.Routes.Forbidden)
	assert.Equal(t, "127.0.0.1:8080", cfg.App.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:9000")
	t.Setenv("TOKEN_STORE", "Redis")
	t.Setenv("SESSION_SWEEP_INTERVAL_SECONDS", "5")
	t.Setenv("SESSION_REFRESH_AHEAD_SECONDS", "30")
	t.Setenv("API_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.TokenStore.Backend)
	assert.Equal(t, 5*time.Second, cfg.Session.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.Session.RefreshAhead())
	assert.Equal(t, 15*time.Second, cfg.API.Timeout())
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("API_BASE_URL", "not a url")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("API_BASE_URL", "http://localhost:9000")
	t.Setenv("TOKEN_STORE", "cookie")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("REDIS_DB", "x")
	_, err = Load()
	assert.Error(t, err)
}
