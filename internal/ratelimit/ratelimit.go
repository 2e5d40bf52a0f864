// Package ratelimit provides per-key admission control in front of task
// submission. Two interchangeable algorithms are supported: a sliding
// window over request timestamps and a token bucket built on
// golang.org/x/time/rate. Rejections are immediate; nothing queues.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when a request is rejected. The
// admission state is left exactly as the algorithm defines; a rejected
// request records nothing.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Algorithm selects the admission algorithm.
type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
)

// Limiter admits or rejects requests per key.
type Limiter interface {
	// Admit returns nil when the request for key is allowed, or
	// ErrRateLimitExceeded. It never blocks or delays.
	Admit(key string) error
}

// Config holds the admission parameters shared by both algorithms.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	BurstSize         int
	Algorithm         Algorithm
}

// New builds the limiter selected by cfg. When disabled, a pass-through
// limiter is returned so callers need no conditional wiring.
func New(cfg Config) (Limiter, error) {
	if !cfg.Enabled {
		return noopLimiter{}, nil
	}
	switch cfg.Algorithm {
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(cfg.RequestsPerMinute, time.Minute), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(cfg.RequestsPerMinute, cfg.BurstSize), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", cfg.Algorithm)
	}
}

type noopLimiter struct{}

func (noopLimiter) Admit(string) error { return nil }

// window holds the admitted-request timestamps for one key. Each key has
// its own lock so unrelated callers never serialize on each other.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// SlidingWindow admits up to limit requests per key within the trailing
// window. Expired timestamps are pruned lazily on each check.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.RWMutex
	windows map[string]*window

	// now is swappable for tests.
	now func() time.Time
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Admit implements Limiter.
func (s *SlidingWindow) Admit(key string) error {
	w := s.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	// Prune timestamps that fell out of the trailing window.
	keep := 0
	for _, ts := range w.times {
		if ts.After(cutoff) {
			w.times[keep] = ts
			keep++
		}
	}
	w.times = w.times[:keep]

	if len(w.times) >= s.limit {
		return ErrRateLimitExceeded
	}

	w.times = append(w.times, now)
	return nil
}

func (s *SlidingWindow) windowFor(key string) *window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &window{}
	s.windows[key] = w
	return w
}

// CleanupIdle drops per-key state whose newest timestamp is older than
// maxIdle, bounding memory for churning key sets. Returns the number of
// keys removed.
func (s *SlidingWindow) CleanupIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		w.mu.Lock()
		idle := len(w.times) == 0 || w.times[len(w.times)-1].Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// TokenBucket admits requests per key from a refilling token bucket. The
// per-key buckets are rate.Limiters, which are internally synchronized,
// so distinct keys never contend.
type TokenBucket struct {
	ratePerSec rate.Limit
	burst      int

	mu      sync.RWMutex
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	limiter *rate.Limiter
	// lastSeen is unix nanos, atomic so the hit path can refresh it
	// without the map's write lock.
	lastSeen atomic.Int64
}

// NewTokenBucket creates a token-bucket limiter refilling at
// requestsPerMinute/60 tokens per second with the given burst capacity.
func NewTokenBucket(requestsPerMinute, burst int) *TokenBucket {
	return &TokenBucket{
		ratePerSec: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:      burst,
		buckets:    make(map[string]*bucketEntry),
	}
}

// Admit implements Limiter.
func (t *TokenBucket) Admit(key string) error {
	b := t.bucketFor(key)
	if !b.limiter.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

func (t *TokenBucket) bucketFor(key string) *bucketEntry {
	t.mu.RLock()
	b, ok := t.buckets[key]
	t.mu.RUnlock()
	if ok {
		b.lastSeen.Store(time.Now().UnixNano())
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok = t.buckets[key]; ok {
		b.lastSeen.Store(time.Now().UnixNano())
		return b
	}
	b = &bucketEntry{limiter: rate.NewLimiter(t.ratePerSec, t.burst)}
	b.lastSeen.Store(time.Now().UnixNano())
	t.buckets[key] = b
	return b
}

// CleanupIdle drops buckets not used within maxIdle.
func (t *TokenBucket) CleanupIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, b := range t.buckets {
		if b.lastSeen.Load() < cutoff {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}
