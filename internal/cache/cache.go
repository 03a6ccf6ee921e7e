package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Cache stores generated images keyed by (style, source reference). A miss
// never affects correctness, so implementations swallow backend errors.
type Cache interface {
	Get(ctx context.Context, style, sourceRef string) ([]byte, bool)
	Put(ctx context.Context, style, sourceRef string, data []byte)
}

// Key derives the cache key for a (style, source reference) pair.
func Key(style, sourceRef string) string {
	h := sha256.New()
	h.Write([]byte(style))
	h.Write([]byte{0})
	h.Write([]byte(sourceRef))
	return hex.EncodeToString(h.Sum(nil))
}

// Stats is a point-in-time view of a MemoryCache.
type Stats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

type entry struct {
	data      []byte
	createdAt time.Time
	seq       uint64
}

// MemoryCache is a process-local cache bounded by TTL and total payload size.
// Expired entries are dropped lazily; when the size ceiling is exceeded the
// oldest entries are evicted until usage falls to lowWaterPercent.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	total    int64
	seq      uint64
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
	log      *slog.Logger
}

const lowWaterPercent = 80

func NewMemoryCache(ttl time.Duration, maxBytes int64, log *slog.Logger) *MemoryCache {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryCache{
		entries:  make(map[string]*entry),
		ttl:      ttl,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, style, sourceRef string) ([]byte, bool) {
	key := Key(style, sourceRef)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expiredLocked(e) {
		c.removeLocked(key, e)
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

func (c *MemoryCache) Put(_ context.Context, style, sourceRef string, data []byte) {
	size := int64(len(data))
	if size == 0 || size > c.maxBytes {
		return
	}
	key := Key(style, sourceRef)
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	c.seq++
	c.entries[key] = &entry{data: append([]byte(nil), data...), createdAt: c.now(), seq: c.seq}
	c.total += size
	if c.total > c.maxBytes {
		c.cleanupLocked()
	}
}

// Cleanup drops expired entries and, if still over the ceiling, evicts the
// oldest entries.
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *MemoryCache) cleanupLocked() {
	for k, e := range c.entries {
		if c.expiredLocked(e) {
			c.removeLocked(k, e)
		}
	}
	if c.total <= c.maxBytes {
		return
	}

	type keyed struct {
		key string
		e   *entry
	}
	byAge := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		byAge = append(byAge, keyed{k, e})
	}
	sort.Slice(byAge, func(i, j int) bool {
		if !byAge[i].e.createdAt.Equal(byAge[j].e.createdAt) {
			return byAge[i].e.createdAt.Before(byAge[j].e.createdAt)
		}
		return byAge[i].e.seq < byAge[j].e.seq
	})

	target := c.maxBytes * lowWaterPercent / 100
	evicted := 0
	for _, kv := range byAge {
		if c.total <= target {
			break
		}
		c.removeLocked(kv.key, kv.e)
		evicted++
	}
	c.log.Info("result cache evicted entries", "evicted", evicted, "bytes", c.total)
}

func (c *MemoryCache) expiredLocked(e *entry) bool {
	return c.now().Sub(e.createdAt) > c.ttl
}

func (c *MemoryCache) removeLocked(key string, e *entry) {
	delete(c.entries, key)
	c.total -= int64(len(e.data))
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Bytes: c.total, MaxBytes: c.maxBytes}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.total = 0
}

// Disabled never stores anything.
type Disabled struct{}

func (Disabled) Get(context.Context, string, string) ([]byte, bool) { return nil, false }
func (Disabled) Put(context.Context, string, string, []byte)        {}
