package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates outbound calls. Wait blocks until a call may proceed or ctx ends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// DefaultCallsPerSecond is the ceiling applied when none is configured
const DefaultCallsPerSecond = 2.0

// NewLimiter returns a token bucket allowing callsPerSecond with the given burst.
// Non-positive values fall back to the defaults.
func NewLimiter(callsPerSecond float64, burst int) *rate.Limiter {
	if callsPerSecond <= 0 {
		callsPerSecond = DefaultCallsPerSecond
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(callsPerSecond), burst)
}
