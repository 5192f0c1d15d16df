package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicSetGet(t *testing.T) {
	c := NewLRUCache[string, string](100, time.Minute)

	t.Run("Set and Get returns value", func(t *testing.T) {
		c.Set("k", "v", 0)
		got, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("Get non-existent key returns false", func(t *testing.T) {
		_, ok := c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("Set overwrites existing value", func(t *testing.T) {
		c.Set("k", "v2", 0)
		got, _ := c.Get("k")
		assert.Equal(t, "v2", got)
	})
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)
	c.Set("short", 1, 10*time.Millisecond)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok, "expired entry must not be served")
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 0)
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k3", 3, 0)

	_, ok = c.Get("k1")
	assert.False(t, ok, "k1 should have been evicted")
	_, ok = c.Get("k0")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Size())
}

func TestLRUCache_RemoveAndClear(t *testing.T) {
	c := NewLRUCache[int, string](10, time.Minute)
	c.Set(1, "a", 0)
	c.Set(2, "b", 0)

	assert.True(t, c.Remove(1))
	assert.False(t, c.Remove(1))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_DefaultCapacity(t *testing.T) {
	c := NewLRUCache[string, string](0, 0)
	assert.Equal(t, 1000, c.Capacity())
}
