// Package config loads the service configuration from a YAML file, applying
// sane defaults for everything optional. Secrets can be overridden through
// the environment (mains load .env first).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// Argon2id hash of the admin API key (approvald apikey-hash).
		// Empty disables admin auth (dev only).
		AdminKeyHash string `yaml:"admin_key_hash"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MinIdleConns    int    `yaml:"min_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Redis struct {
		// Empty addr disables redis-backed events, cache and rate limits.
		Addr   string `yaml:"addr"`
		DB     int    `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Cache struct {
		Kind       string `yaml:"kind"` // memory | redis
		DefaultTTL string `yaml:"default_ttl"`
	} `yaml:"cache"`

	Token struct {
		Issuer  string `yaml:"issuer"`
		TTL     string `yaml:"ttl"`
		KeyFile string `yaml:"key_file"`
	} `yaml:"token"`

	Approval struct {
		PeriodicInterval string `yaml:"periodic_interval"`
		FallbackInterval string `yaml:"fallback_interval"`
		StatsInterval    string `yaml:"stats_interval"`
		ConnectTimeout   string `yaml:"connect_timeout"`
		SweepTimeout     string `yaml:"sweep_timeout"`
		StepDelay        string `yaml:"step_delay"`
	} `yaml:"approval"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate"`

	SMTP struct {
		Host     string   `yaml:"host"`
		Port     int      `yaml:"port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
		Throttle string   `yaml:"throttle"`
	} `yaml:"smtp"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "approvald:"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "2m"
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = "approvald"
	}
	if c.Token.TTL == "" {
		c.Token.TTL = "12h"
	}
	if c.Token.KeyFile == "" {
		c.Token.KeyFile = "data/signing.key"
	}
	if c.Approval.PeriodicInterval == "" {
		c.Approval.PeriodicInterval = "30s"
	}
	if c.Approval.FallbackInterval == "" {
		c.Approval.FallbackInterval = "5m"
	}
	if c.Approval.StatsInterval == "" {
		c.Approval.StatsInterval = "10m"
	}
	if c.Approval.ConnectTimeout == "" {
		c.Approval.ConnectTimeout = "5s"
	}
	if c.Approval.SweepTimeout == "" {
		c.Approval.SweepTimeout = "25s"
	}
	if c.Approval.StepDelay == "" {
		c.Approval.StepDelay = "100ms"
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
	if c.SMTP.Throttle == "" {
		c.SMTP.Throttle = "30m"
	}

	// env overrides for secrets
	if v := os.Getenv("APPROVALD_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("APPROVALD_ADMIN_KEY_HASH"); v != "" {
		c.Server.AdminKeyHash = v
	}
	if v := os.Getenv("APPROVALD_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}

	return &c, nil
}

// Duration parses s, falling back to def when empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
