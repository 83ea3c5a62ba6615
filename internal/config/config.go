// Package config handles runtime settings for the hearth API server:
// defaults first, then an environment overlay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings for the hearth API server.
//
// Fields:
//   - Addr: HTTP bind address.
//   - DatabaseDSN: PostgreSQL DSN (pgx); empty runs the in-memory store.
//   - LockoutThreshold / LockoutWindow: failed-attempt policy.
//   - SessionTTL / KioskSessionTTL: session lifetimes.
//   - OnboardingSecret: HMAC secret for first-login onboarding tokens.
//   - CookieName / CookieSecure: session cookie settings.
type Config struct {
	Addr             string
	DatabaseDSN      string
	LockoutThreshold int
	LockoutWindow    time.Duration
	SessionTTL       time.Duration
	KioskSessionTTL  time.Duration
	OnboardingSecret string
	CookieName       string
	CookieSecure     bool
}

// LoadDefaults populates Config with development defaults.
// NOTE: the onboarding secret default is insecure and must be overridden.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.DatabaseDSN = ""
	c.LockoutThreshold = 5
	c.LockoutWindow = 15 * time.Minute
	c.SessionTTL = 30 * 24 * time.Hour
	c.KioskSessionTTL = 4 * time.Hour
	c.OnboardingSecret = "dev-onboarding-secret"
	c.CookieName = "hearth_sid"
	c.CookieSecure = false
}

// Load builds a Config from defaults overlaid with HEARTH_* environment
// variables.
func Load() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.parseEnv()
	return cfg
}

func (c *Config) parseEnv() {
	if v := os.Getenv("HEARTH_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("HEARTH_PG_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("HEARTH_LOCKOUT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LockoutThreshold = n
		}
	}
	if v := os.Getenv("HEARTH_LOCKOUT_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LockoutWindow = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("HEARTH_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SessionTTL = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("HEARTH_KIOSK_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.KioskSessionTTL = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("HEARTH_ONBOARDING_SECRET"); v != "" {
		c.OnboardingSecret = v
	}
	if v := os.Getenv("HEARTH_COOKIE_NAME"); v != "" {
		c.CookieName = v
	}
	if v := os.Getenv("HEARTH_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CookieSecure = b
		}
	}
}
