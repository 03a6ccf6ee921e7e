package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration, maxBytes int64) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(ttl, maxBytes, nil)
	c.now = clock.Now
	return c, clock
}

func TestKey_DependsOnStyleAndSource(t *testing.T) {
	assert.Equal(t, Key("anime", "https://x/a.jpg"), Key("anime", "https://x/a.jpg"))
	assert.NotEqual(t, Key("anime", "https://x/a.jpg"), Key("sketch", "https://x/a.jpg"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestMemoryCache_GetPut(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1024)
	ctx := context.Background()

	_, ok := c.Get(ctx, "anime", "src")
	assert.False(t, ok)

	c.Put(ctx, "anime", "src", []byte("image"))
	got, ok := c.Get(ctx, "anime", "src")
	require.True(t, ok)
	assert.Equal(t, []byte("image"), got)

	c.Put(ctx, "anime", "src", []byte("newer"))
	got, _ = c.Get(ctx, "anime", "src")
	assert.Equal(t, []byte("newer"), got)
	assert.Equal(t, Stats{Entries: 1, Bytes: 5, MaxBytes: 1024}, c.Stats())
}

func TestMemoryCache_EntriesAreIsolated(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1<<20)
	ctx := context.Background()
	data := []byte("image-bytes")
	c.Put(ctx, "anime", "ref", data)
	data[0] = 'X'

	got, ok := c.Get(ctx, "anime", "ref")
	require.True(t, ok)
	assert.Equal(t, []byte("image-bytes"), got)

	got[0] = 'Y'
	again, ok := c.Get(ctx, "anime", "ref")
	require.True(t, ok)
	assert.Equal(t, []byte("image-bytes"), again)
}

func TestMemoryCache_TTL(t *testing.T) {
	c, clock := newTestCache(24*time.Hour, 1024)
	ctx := context.Background()

	c.Put(ctx, "anime", "src", []byte("image"))
	clock.Advance(23 * time.Hour)
	_, ok := c.Get(ctx, "anime", "src")
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok = c.Get(ctx, "anime", "src")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries, "expired entry should be purged on access")
}

func TestMemoryCache_EvictsOldestToLowWater(t *testing.T) {
	c, clock := newTestCache(time.Hour, 100)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Put(ctx, "style", fmt.Sprintf("src-%d", i), bytes.Repeat([]byte{byte(i)}, 10))
		clock.Advance(time.Second)
	}
	require.Equal(t, int64(100), c.Stats().Bytes)

	c.Put(ctx, "style", "src-10", bytes.Repeat([]byte{10}, 10))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(80))
	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, "style", fmt.Sprintf("src-%d", i))
		assert.False(t, ok, "src-%d should have been evicted", i)
	}
	_, ok := c.Get(ctx, "style", "src-10")
	assert.True(t, ok, "newest entry must survive")
}

func TestMemoryCache_SizeBoundUnderLoad(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Put(ctx, "s", fmt.Sprintf("%d-%d", g, i), make([]byte, 37))
				c.Get(ctx, "s", fmt.Sprintf("%d-%d", g, i/2))
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Bytes, int64(1000))
}

func TestMemoryCache_OversizedNotStored(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	c.Put(context.Background(), "s", "big", make([]byte, 11))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestMemoryCache_CleanupDropsExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 1000)
	ctx := context.Background()
	c.Put(ctx, "s", "a", []byte("aaaa"))
	clock.Advance(2 * time.Minute)
	c.Put(ctx, "s", "b", []byte("bb"))

	c.Cleanup()
	assert.Equal(t, Stats{Entries: 1, Bytes: 2, MaxBytes: 1000}, c.Stats())

	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(0), c.Stats().Bytes)
}

func TestDisabled(t *testing.T) {
	var c Cache = Disabled{}
	c.Put(context.Background(), "s", "a", []byte("x"))
	_, ok := c.Get(context.Background(), "s", "a")
	assert.False(t, ok)
}
