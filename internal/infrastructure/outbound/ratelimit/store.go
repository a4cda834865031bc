// Package ratelimit throttles outbound requests per key with token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

var _ ports.Throttler = (*HostThrottler)(nil)

type bucket struct {
	limiter  *rate.Limiter
	rate     float64
	burst    int
	lastUsed time.Time
}

// HostThrottler keeps one token bucket per key, normally the request host,
// and evicts buckets idle for longer than the TTL.
type HostThrottler struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHostThrottler creates a throttler and starts its eviction goroutine.
// Call Stop to terminate it.
func NewHostThrottler(ttl time.Duration) *HostThrottler {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	t := &HostThrottler{
		buckets: make(map[string]*bucket),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go t.evictLoop()
	return t
}

// Stop terminates the eviction goroutine. It is safe to call more than once.
func (t *HostThrottler) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *HostThrottler) evictLoop() {
	ticker := time.NewTicker(t.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Evict()
		case <-t.stop:
			return
		}
	}
}

// Wait blocks until a request for key fits the bucket or ctx ends.
// A non-positive rate disables throttling.
func (t *HostThrottler) Wait(ctx context.Context, key string, r float64, burst int) error {
	if r <= 0 {
		return ctx.Err()
	}
	if burst < 1 {
		burst = 1
	}
	return t.bucket(key, r, burst).Wait(ctx)
}

func (t *HostThrottler) bucket(key string, r float64, burst int) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	switch {
	case !ok:
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(r), burst), rate: r, burst: burst}
		t.buckets[key] = b
	case b.rate != r || b.burst != burst:
		b.limiter.SetLimit(rate.Limit(r))
		b.limiter.SetBurst(burst)
		b.rate = r
		b.burst = burst
	}
	b.lastUsed = time.Now()
	return b.limiter
}

// Evict removes buckets idle for longer than the TTL.
func (t *HostThrottler) Evict() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.ttl)
	for key, b := range t.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
}

// Len returns the number of live buckets.
func (t *HostThrottler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
