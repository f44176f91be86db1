// Package server implements per-connection throttling of inbound frames.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket holding burst tokens that refills
// completely every interval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}
