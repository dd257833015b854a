package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemory(time.Minute)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("k", []byte("v"), time.Minute)
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	c.Delete("k")
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemory(time.Minute)
	c.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	require.False(t, ok, "expired key must not hit")
}

func TestNewFallsBackToMemory(t *testing.T) {
	c := New(Config{Kind: "redis"}) // no addr configured
	c.Set("k", []byte("v"), time.Minute)
	_, ok := c.Get("k")
	require.True(t, ok, "fallback cache must work")
}
