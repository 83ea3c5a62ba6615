package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 4*time.Hour, cfg.KioskSessionTTL)
	assert.Equal(t, "hearth_sid", cfg.CookieName)
	assert.False(t, cfg.CookieSecure)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_ADDR", "127.0.0.1:9999")
	t.Setenv("HEARTH_PG_DSN", "postgres://hearth:secret@db/hearth")
	t.Setenv("HEARTH_LOCKOUT_THRESHOLD", "3")
	t.Setenv("HEARTH_LOCKOUT_WINDOW_MINUTES", "30")
	t.Setenv("HEARTH_SESSION_TTL_MINUTES", "60")
	t.Setenv("HEARTH_KIOSK_SESSION_TTL_MINUTES", "15")
	t.Setenv("HEARTH_ONBOARDING_SECRET", "prod-secret")
	t.Setenv("HEARTH_COOKIE_NAME", "sid")
	t.Setenv("HEARTH_COOKIE_SECURE", "true")

	cfg := Load()
	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, "postgres://hearth:secret@db/hearth", cfg.DatabaseDSN)
	assert.Equal(t, 3, cfg.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, cfg.LockoutWindow)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.KioskSessionTTL)
	assert.Equal(t, "prod-secret", cfg.OnboardingSecret)
	assert.Equal(t, "sid", cfg.CookieName)
	assert.True(t, cfg.CookieSecure)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("HEARTH_LOCKOUT_THRESHOLD", "not-a-number")
	t.Setenv("HEARTH_LOCKOUT_WINDOW_MINUTES", "-5")
	t.Setenv("HEARTH_COOKIE_SECURE", "maybe")

	cfg := Load()
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
	assert.False(t, cfg.CookieSecure)
}
