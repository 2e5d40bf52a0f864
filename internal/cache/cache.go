// Package cache implements the bounded in-memory result cache: LRU
// eviction via hashicorp/golang-lru, per-entry TTL with lazy expiry and a
// periodic sweep, and overflow of oversized or long-running results to a
// cold-storage blob sink.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mkessler/taskstation/internal/store"
)

var (
	// ErrCacheMiss signals an absent or expired entry. It is expected
	// control flow, not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrPersistenceFailure wraps cold-storage read/write errors.
	ErrPersistenceFailure = errors.New("cold storage persistence failure")
)

// Config holds the cache bounds and overflow thresholds.
type Config struct {
	// MaxEntries bounds the number of in-memory entries (resident values
	// and cold references alike).
	MaxEntries int

	// DefaultTTL applies when Put is called with a zero ttl.
	DefaultTTL time.Duration

	// PersistThresholdBytes overflows values whose serialized size
	// exceeds it. Zero disables the size rule.
	PersistThresholdBytes int

	// PersistLongTasks overflows results of tasks that ran longer than
	// LongTaskThreshold regardless of size.
	PersistLongTasks  bool
	LongTaskThreshold time.Duration
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	ColdHits  int64 `json:"cold_hits"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Overflows int64 `json:"overflows"`
}

// entry is either resident (value set) or overflowed (coldRef set),
// decided once at insertion time.
type entry struct {
	value     any
	coldRef   string
	sizeBytes int
	storedAt  time.Time
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a bounded LRU+TTL result cache with optional cold-storage
// overflow. It is safe for concurrent use; cold-storage transfers never
// hold the cache lock.
type Cache struct {
	cfg    Config
	cold   store.BlobStore
	logger *slog.Logger

	lru *lru.Cache[string, *entry]

	// mu guards inflight and the counters; the LRU synchronizes itself,
	// keeping eviction atomic with insertion.
	mu       sync.Mutex
	inflight map[string]struct{}

	hits, misses, coldHits int64
	evictions, expired     int64
	overflows              int64

	// fetches deduplicates concurrent cold-storage reads per key.
	fetches singleflight.Group

	now func() time.Time
}

// New creates a result cache. cold may be nil, which disables overflow
// entirely.
func New(cfg Config, cold store.BlobStore, logger *slog.Logger) (*Cache, error) {
	if cfg.MaxEntries < 1 {
		return nil, fmt.Errorf("cache max entries must be positive, got %d", cfg.MaxEntries)
	}

	c := &Cache{
		cfg:      cfg,
		cold:     cold,
		logger:   logger,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}

	l, err := lru.NewWithEvict[string, *entry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c.lru = l
	return c, nil
}

// onEvict tallies entries dropped by the LRU, distinguishing TTL expiry
// from capacity eviction.
func (c *Cache) onEvict(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.expired(c.now()) {
		c.expired++
	} else {
		c.evictions++
	}
}

// Put stores a task result under key. ttl zero means the configured
// default. taskDuration is how long the owning task ran; together with
// the serialized size it decides whether the value overflows to cold
// storage. A concurrent Put for the same key is coalesced: the write
// already in flight wins.
func (c *Cache) Put(ctx context.Context, key string, value any, ttl, taskDuration time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value for key %s: %w", key, err)
	}

	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		c.logger.Debug("write already in flight, skipping", "key", key)
		return nil
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	now := c.now()
	e := &entry{
		sizeBytes: len(data),
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}

	if c.shouldOverflow(len(data), taskDuration) {
		// The transfer happens before the entry becomes visible, so
		// eviction can never observe a half-written entry.
		if err := c.cold.Put(ctx, key, data); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
		e.coldRef = key

		c.mu.Lock()
		c.overflows++
		c.mu.Unlock()

		c.logger.Debug("result overflowed to cold storage",
			"key", key,
			"size_bytes", len(data),
			"task_duration", taskDuration)
	} else {
		e.value = value
	}

	c.lru.Add(key, e)
	return nil
}

// shouldOverflow applies the insertion-time residency rule.
func (c *Cache) shouldOverflow(sizeBytes int, taskDuration time.Duration) bool {
	if c.cold == nil {
		return false
	}
	if c.cfg.PersistThresholdBytes > 0 && sizeBytes > c.cfg.PersistThresholdBytes {
		return true
	}
	if c.cfg.PersistLongTasks && c.cfg.LongTaskThreshold > 0 && taskDuration > c.cfg.LongTaskThreshold {
		return true
	}
	return false
}

// Get returns the value stored under key, resolving overflowed entries
// through cold storage. Returns ErrCacheMiss for absent or expired keys
// and ErrPersistenceFailure when a cold fetch fails.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.count(&c.misses)
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	if e.expired(c.now()) {
		c.lru.Remove(key)
		c.count(&c.misses)
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	if e.coldRef == "" {
		c.count(&c.hits)
		return e.value, nil
	}

	// Overflowed entry: fetch out-of-band, deduplicating concurrent
	// readers of the same key.
	v, err, _ := c.fetches.Do(key, func() (any, error) {
		data, err := c.cold.Get(ctx, e.coldRef)
		if err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	c.count(&c.coldHits)
	return v, nil
}

// Invalidate removes key from the cache and best-effort deletes its cold
// blob.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	e, ok := c.lru.Peek(key)
	c.lru.Remove(key)

	if ok && e.coldRef != "" && c.cold != nil {
		if err := c.cold.Delete(ctx, e.coldRef); err != nil {
			c.logger.Warn("failed to delete cold blob", "key", key, "error", err)
		}
	}
}

// Sweep removes expired entries and returns how many were purged. It is
// also invoked periodically by the sweeper goroutine.
func (c *Cache) Sweep() int {
	now := c.now()
	purged := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			purged++
		}
	}
	if purged > 0 {
		c.logger.Debug("cache sweep purged expired entries", "purged", purged)
	}
	return purged
}

// StartSweeper runs the periodic TTL sweep until ctx is cancelled. Sweep
// failures cannot stop it; it is decoupled from the request and worker
// paths.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	// Read the LRU length before taking mu: the eviction callback runs
	// under the LRU's internal lock and takes mu, so the reverse order
	// here would risk deadlock.
	entries := c.lru.Len()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   entries,
		MaxSize:   c.cfg.MaxEntries,
		Hits:      c.hits,
		Misses:    c.misses,
		ColdHits:  c.coldHits,
		Evictions: c.evictions,
		Expired:   c.expired,
		Overflows: c.overflows,
	}
}

func (c *Cache) count(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}
