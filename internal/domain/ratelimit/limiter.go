package ratelimit

import "context"

// RateLimiter is the interface for rate limiting operations.
//
// Implementations apply a token bucket per key: Burst tokens are available
// at once and refill at Rate per Period.
type RateLimiter interface {
	// Allow checks if a request identified by key is allowed under the given config.
	// The key should be a structured identifier created by FormatKey.
	// If the request is not allowed, RetryAfter in the result indicates when
	// the next request will be allowed.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}
