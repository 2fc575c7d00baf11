package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sentinel-Gate/echogate/internal/domain/ratelimit"
)

// bucket is a token bucket for one key plus the last time it was used.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryRateLimiter implements ratelimit.RateLimiter with one x/time/rate
// token bucket per key. Background cleanup evicts keys unused for maxTTL.
type MemoryRateLimiter struct {
	buckets         map[string]*bucket
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default cleanup settings.
// Default cleanup interval: 5 minutes, default maxTTL: 1 hour.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 1*time.Hour)
}

// NewRateLimiterWithConfig creates a new in-memory rate limiter with custom cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets:         make(map[string]*bucket),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow consumes one token for key, creating its bucket on first use.
// A bucket whose config changed since creation is retuned in place.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, config ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	if config.Rate <= 0 {
		config.Rate = 1
	}
	if config.Period <= 0 {
		config.Period = time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = config.Rate
	}
	limit := rate.Every(config.Period / time.Duration(config.Rate))

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, config.Burst)}
		r.buckets[key] = b
	}
	if b.limiter.Limit() != limit {
		b.limiter.SetLimitAt(now, limit)
	}
	if b.limiter.Burst() != config.Burst {
		b.limiter.SetBurstAt(now, config.Burst)
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return ratelimit.RateLimitResult{Allowed: false, RetryAfter: config.Period}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return ratelimit.RateLimitResult{Allowed: false, RetryAfter: delay}, nil
	}
	return ratelimit.RateLimitResult{Allowed: true}, nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes buckets unused for longer than maxTTL.
func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxTTL)
	cleaned := 0
	for key, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*MemoryRateLimiter)(nil)
