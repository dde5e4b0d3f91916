package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"TrackVault/metrics"
	"TrackVault/model"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// MemoryCache is an in-process MetadataCache split into independently locked
// shards so unrelated tracks never contend on one mutex. Expiry is passive:
// entries are checked on read and there is no background sweep.
type MemoryCache struct {
	shards  [shardCount]*shard
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *metrics.Metrics
}

// NewMemoryCache creates an empty cache. m may be nil.
func NewMemoryCache(m *metrics.Metrics) *MemoryCache {
	c := &MemoryCache{now: time.Now, metrics: m}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return c
}

// WithClock replaces the time source; used by tests to step past TTLs.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

func (c *MemoryCache) Get(_ context.Context, key string) (model.TrackRecord, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && e.Expired(now) {
		s.mu.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, still := s.entries[key]; still && cur.Expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		ok = false
	}

	if !ok {
		c.misses.Add(1)
		c.metrics.CacheLookup("memory", false)
		return model.TrackRecord{}, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup("memory", true)
	return e.Value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, record model.TrackRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = Entry{Key: key, Value: record, InsertedAt: c.now(), TTL: ttl}
	s.mu.Unlock()
}

func (c *MemoryCache) Has(_ context.Context, key string) bool {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && !e.Expired(c.now())
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (c *MemoryCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
