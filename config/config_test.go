package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MESSAGE_BACKEND", "")
	t.Setenv("CAPTURE_COUNTDOWN_TICK", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "file", cfg.Messages.Backend)
	assert.Equal(t, time.Second, cfg.Capture.CountdownTick)
	assert.Equal(t, 3, cfg.Capture.DefaultSeconds)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MESSAGE_BACKEND", "Postgres")
	t.Setenv("CAPTURE_COUNTDOWN_TICK", "250ms")
	t.Setenv("MESSAGES_SEED_DEMO", "true")
	t.Setenv("CAPTURE_COUNTDOWN_SECONDS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Messages.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.CountdownTick)
	assert.True(t, cfg.Messages.SeedDemo)
	assert.Equal(t, 5, cfg.Capture.DefaultSeconds)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("MESSAGE_BACKEND", "mongo")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "tm", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/tm?sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere/x"
	assert.Equal(t, "postgres://elsewhere/x", c.DSN())
}
