package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request identified by key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InMemoryRateLimiter keeps one token bucket per key. Suitable for a
// single instance; buckets idle for longer than maxIdle are dropped.
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	maxIdle time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewInMemoryRateLimiter creates a limiter allowing rps requests per second
// with bursts up to burst, and starts its sweeper goroutine.
func NewInMemoryRateLimiter(rps float64, burst int) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(rps),
		burst:   burst,
		maxIdle: 10 * time.Minute,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweepLoop(5 * time.Minute)
	return l
}

// Allow consumes one token from key's bucket
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys
func (l *InMemoryRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the sweeper goroutine. Safe to call more than once.
func (l *InMemoryRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *InMemoryRateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *InMemoryRateLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.maxIdle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
