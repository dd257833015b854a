// Package cache is a small byte cache with memory and redis backends. Used
// for the admin settings snapshot and for alert throttling.
package cache

import "time"

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Config selects and tunes a backend.
type Config struct {
	Kind       string // "memory" (default) | "redis"
	DefaultTTL time.Duration
	RedisAddr  string
	RedisDB    int
	Prefix     string
}

// New builds a cache from config; unknown kinds fall back to memory.
func New(cfg Config) Cache {
	switch cfg.Kind {
	case "redis":
		if cfg.RedisAddr != "" {
			return NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.Prefix)
		}
		return NewMemory(cfg.DefaultTTL)
	default:
		return NewMemory(cfg.DefaultTTL)
	}
}
