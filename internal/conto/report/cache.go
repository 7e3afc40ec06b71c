package report

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores rendered report payloads. Clear drops every entry at once by
// advancing the generation. Readers take the generation before building a
// payload and hand it back to Set, so a payload built before a Clear is
// never served after it.
type Cache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, key string) ([]byte, bool, error)
	Set(ctx context.Context, gen int64, key string, payload []byte) error
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	gen     int64
	entries map[string]memoryEntry
}

// NewMemoryCache returns a MemoryCache. A nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, clock func() time.Time) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{ttl: ttl, now: clock, gen: 1, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *MemoryCache) Get(_ context.Context, gen int64, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, false, nil
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Set drops the payload when a Clear happened since gen was taken.
func (c *MemoryCache) Set(_ context.Context, gen int64, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.entries[key] = memoryEntry{payload: payload, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[string]memoryEntry)
	return nil
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Generation(context.Context) (int64, error)                { return 0, nil }
func (NopCache) Get(context.Context, int64, string) ([]byte, bool, error) { return nil, false, nil }
func (NopCache) Set(context.Context, int64, string, []byte) error         { return nil }
func (NopCache) Clear(context.Context) error                              { return nil }

// RedisCache shares payloads between instances. Keys embed the namespace
// version stored in Redis; Clear increments it, which orphans every key
// written under the previous version on all instances at once.
type RedisCache struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisCache builds a cache under namespace, e.g. "conto:summary".
func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, namespace: namespace}
}

func (c *RedisCache) versionKey() string { return c.namespace + ":version" }

// Generation reads the current namespace version, initialising it when missing.
func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, c.versionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		ver, err = c.client.Get(ctx, c.versionKey()).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *RedisCache) key(gen int64, key string) string {
	return strings.Join([]string{c.namespace, strconv.FormatInt(gen, 10), key}, ":")
}

func (c *RedisCache) Get(ctx context.Context, gen int64, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, c.key(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set writes under gen. A payload from an outdated generation lands on a key
// no reader asks for and expires with the TTL.
func (c *RedisCache) Set(ctx context.Context, gen int64, key string, payload []byte) error {
	return c.client.Set(ctx, c.key(gen, key), payload, c.ttl).Err()
}

// Clear bumps the shared version.
func (c *RedisCache) Clear(ctx context.Context) error {
	return c.client.Incr(ctx, c.versionKey()).Err()
}
