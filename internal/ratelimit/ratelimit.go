// Package ratelimit throttles outbound calls to external systems (SMTP
// relays, webhook endpoints) to a configured rate, so a burst of due tasks
// can't overwhelm a downstream the Task Queue has no other throughput
// control over.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token-bucket limiter behind a rate that can be
// adjusted at runtime.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond: maximum operations per second (0 = unlimited)
// burstSize: maximum burst size
func NewRateLimiter(ratePerSecond int, burstSize int) *RateLimiter {
	if ratePerSecond <= 0 {
		// Unlimited rate
		return &RateLimiter{
			limiter: rate.NewLimiter(rate.Inf, 0),
		}
	}

	if burstSize <= 0 {
		burstSize = ratePerSecond // Default burst equals rate
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burstSize),
	}
}

// Wait blocks until the rate limiter allows the operation
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	limiter := rl.limiter
	rl.mu.RUnlock()
	
	return limiter.Wait(ctx)
}

// Allow returns true if the operation is allowed immediately
func (rl *RateLimiter) Allow() bool {
	rl.mu.RLock()
	limiter := rl.limiter
	rl.mu.RUnlock()
	
	return limiter.Allow()
}

// SetRate updates the rate limiting configuration
func (rl *RateLimiter) SetRate(ratePerSecond int, burstSize int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ratePerSecond <= 0 {
		rl.limiter.SetLimit(rate.Inf)
		rl.limiter.SetBurst(0)
		return
	}

	if burstSize <= 0 {
		burstSize = ratePerSecond
	}

	rl.limiter.SetLimit(rate.Limit(ratePerSecond))
	rl.limiter.SetBurst(burstSize)
}

// GetCurrentRate returns the current rate limit settings
func (rl *RateLimiter) GetCurrentRate() (limit float64, burst int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	
	return float64(rl.limiter.Limit()), rl.limiter.Burst()
}
