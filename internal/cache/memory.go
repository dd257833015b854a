package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memory struct{ c *gocache.Cache }

func NewMemory(defaultTTL time.Duration) Cache {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	return &memory{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *memory) Get(k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *memory) Set(k string, v []byte, ttl time.Duration) { m.c.Set(k, v, ttl) }
func (m *memory) Delete(k string)                           { m.c.Delete(k) }
