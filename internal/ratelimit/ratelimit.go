// Package ratelimit implements keyed token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter holds one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   int
	now     func() time.Time
}

// New returns a limiter refilling rate tokens per second up to burst.
// A non-positive rate disables limiting.
func New(rate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// PerMinute returns a limiter allowing n events per minute per key with a
// burst of n.
func PerMinute(n int) *Limiter {
	return New(float64(n)/60, n)
}

// WithClock replaces time.Now.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:     float64(l.burst),
			maxTokens:  float64(l.burst),
			refillRate: l.rate,
			lastRefill: now,
		}
		l.buckets[key] = b
	}
	return b.allow(now)
}

// Sweep forgets buckets idle for longer than idle and returns how many were
// dropped.
func (l *Limiter) Sweep(idle time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastRefill) > idle {
			delete(l.buckets, k)
			dropped++
		}
	}
	return dropped
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(2 * interval)
		}
	}
}
