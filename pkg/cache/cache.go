// Package cache is the fingerprint cache behind the router and the
// agent-response fast path. Entries live in a bounded in-memory LRU
// with per-entry TTL; when a redis client is supplied, writes go
// through to redis so a restart starts warm.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 24 * time.Hour

	redisKeyPrefix = "lucia:cache:"
)

// Namespace separates fingerprint spaces. Router decisions and agent
// responses never collide even for identical prompts.
type Namespace string

// NamespaceRouter holds cached routing decisions.
const NamespaceRouter Namespace = "router"

// AgentNamespace returns the response-cache namespace for one agent.
func AgentNamespace(agentID string) Namespace {
	return Namespace("agent:" + agentID)
}

// Fingerprint derives the stable cache key for a normalized prompt
// and a namespace salt. Router salt is the model id; agent salt is
// agent id + model id.
func Fingerprint(normalizedPrompt, salt string) string {
	h := sha256.New()
	h.Write([]byte(normalizedPrompt))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// Stats summarizes one namespace.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type entry struct {
	fingerprint string
	payload     []byte
	expiresAt   time.Time
	hitCount    int64
	lastHitAt   time.Time
}

type nsStore struct {
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	hits    int64
	misses  int64
}

// Cache is the shared LRU+TTL implementation.
type Cache struct {
	mu         sync.Mutex
	namespaces map[Namespace]*nsStore
	maxEntries int
	defaultTTL time.Duration
	rdb        redis.UniversalClient
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds each namespace's entry count.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Put receives zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithRedis enables redis write-through and miss fallback.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(c *Cache) {
		c.rdb = rdb
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		namespaces: make(map[Namespace]*nsStore),
		maxEntries: DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for a fingerprint, or false on miss. Hits
// refresh LRU position and hit counters; expired entries count as
// misses and are dropped.
func (c *Cache) Get(ctx context.Context, ns Namespace, fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	store := c.store(ns)

	if elem, ok := store.entries[fingerprint]; ok {
		e := elem.Value.(*entry)
		if c.now().Before(e.expiresAt) {
			store.order.MoveToFront(elem)
			e.hitCount++
			e.lastHitAt = c.now()
			store.hits++
			payload := e.payload
			c.mu.Unlock()
			return payload, true
		}
		store.order.Remove(elem)
		delete(store.entries, fingerprint)
	}
	store.misses++
	c.mu.Unlock()

	if c.rdb == nil {
		return nil, false
	}

	// Local miss, try redis.
	payload, err := c.rdb.Get(ctx, c.redisKey(ns, fingerprint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("cache redis get failed", "namespace", ns, "error", err)
		}
		return nil, false
	}

	c.mu.Lock()
	c.insert(ns, fingerprint, payload, c.defaultTTL)
	store = c.store(ns)
	store.hits++
	store.misses-- // the redis hit compensates the local miss
	c.mu.Unlock()
	return payload, true
}

// Put stores a payload under a fingerprint. Zero ttl uses the default.
func (c *Cache) Put(ctx context.Context, ns Namespace, fingerprint string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.insert(ns, fingerprint, payload, ttl)
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.redisKey(ns, fingerprint), payload, ttl).Err(); err != nil {
			slog.Debug("cache redis set failed", "namespace", ns, "error", err)
		}
	}
}

// Clear drops every entry in a namespace.
func (c *Cache) Clear(ctx context.Context, ns Namespace) {
	c.mu.Lock()
	delete(c.namespaces, ns)
	c.mu.Unlock()

	if c.rdb != nil {
		pattern := c.redisKey(ns, "*")
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				slog.Debug("cache redis del failed", "key", iter.Val(), "error", err)
			}
		}
	}
}

// Stats reports a namespace's counters.
func (c *Cache) Stats(ns Namespace) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.store(ns)
	s := Stats{
		Entries: len(store.entries),
		Hits:    store.hits,
		Misses:  store.misses,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// insert adds or replaces an entry and evicts LRU overflow. Callers
// hold c.mu.
func (c *Cache) insert(ns Namespace, fingerprint string, payload []byte, ttl time.Duration) {
	store := c.store(ns)

	if elem, ok := store.entries[fingerprint]; ok {
		e := elem.Value.(*entry)
		e.payload = payload
		e.expiresAt = c.now().Add(ttl)
		store.order.MoveToFront(elem)
		return
	}

	elem := store.order.PushFront(&entry{
		fingerprint: fingerprint,
		payload:     payload,
		expiresAt:   c.now().Add(ttl),
	})
	store.entries[fingerprint] = elem

	for len(store.entries) > c.maxEntries {
		oldest := store.order.Back()
		if oldest == nil {
			break
		}
		store.order.Remove(oldest)
		delete(store.entries, oldest.Value.(*entry).fingerprint)
	}
}

func (c *Cache) store(ns Namespace) *nsStore {
	store, ok := c.namespaces[ns]
	if !ok {
		store = &nsStore{
			entries: make(map[string]*list.Element),
			order:   list.New(),
		}
		c.namespaces[ns] = store
	}
	return store
}

func (c *Cache) redisKey(ns Namespace, fingerprint string) string {
	return redisKeyPrefix + string(ns) + ":" + fingerprint
}
