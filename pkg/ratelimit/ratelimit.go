package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces operations with a token bucket, optionally adding jitter
// after each granted token. It is safe for concurrent use by multiple
// goroutines. A nil *Limiter never blocks.
type Limiter struct {
	bucket   *rate.Limiter
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter allowing rps operations per second with a
// burst of one. Jitter is clamped to [0, 1]. If rps is <= 0, the limiter
// does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	return NewBurstLimiter(rps, 1, jitter)
}

// NewBurstLimiter is NewLimiter with an explicit burst size.
func NewBurstLimiter(rps float64, burst int, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if rps <= 0 {
		return &Limiter{jitter: jitter}
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(rps), burst),
		jitter:   jitter,
		interval: time.Duration(float64(time.Second) / rps),
	}
}

// Wait blocks until the next operation may proceed, or until the context
// is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.bucket == nil {
		return nil
	}

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	if l.jitter > 0 {
		// Only positive jitter delays; the bucket already enforces the floor.
		jitterDuration := time.Duration(float64(l.interval) * l.jitter * rand.Float64())
		if jitterDuration > 0 {
			t := time.NewTimer(jitterDuration)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Allow reports whether an operation may happen now without waiting. It
// consumes a token when it returns true.
func (l *Limiter) Allow() bool {
	if l == nil || l.bucket == nil {
		return true
	}
	return l.bucket.Allow()
}
