package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	rediscache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mochiface:result:"

// RedisCache shares results between API instances. Redis enforces the TTL
// and its own memory policy; an optional TinyLFU tier absorbs repeated reads.
type RedisCache struct {
	cache *rediscache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewRedisCache wraps client. localSize is the number of entries kept in the
// in-process tier; zero disables it.
func NewRedisCache(client *redis.Client, ttl time.Duration, localSize int, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	opts := &rediscache.Options{Redis: client}
	if localSize > 0 {
		opts.LocalCache = rediscache.NewTinyLFU(localSize, time.Minute)
	}
	return &RedisCache{cache: rediscache.New(opts), ttl: ttl, log: log}
}

var _ Cache = (*RedisCache)(nil)

func (r *RedisCache) Get(ctx context.Context, style, sourceRef string) ([]byte, bool) {
	var data []byte
	err := r.cache.Get(ctx, keyPrefix+Key(style, sourceRef), &data)
	if err != nil {
		if !errors.Is(err, rediscache.ErrCacheMiss) {
			r.log.Warn("result cache get failed", "error", err)
		}
		return nil, false
	}
	return data, len(data) > 0
}

func (r *RedisCache) Put(ctx context.Context, style, sourceRef string, data []byte) {
	err := r.cache.Set(&rediscache.Item{
		Ctx:   ctx,
		Key:   keyPrefix + Key(style, sourceRef),
		Value: data,
		TTL:   r.ttl,
	})
	if err != nil {
		r.log.Warn("result cache put failed", "error", err)
	}
}
