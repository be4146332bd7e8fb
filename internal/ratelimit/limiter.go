// Package ratelimit gates requests to the exchange K-line endpoints.
// It combines a token bucket (request rate) with a semaphore (in-flight
// concurrency) so bulk backfills stay inside the exchange limits.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter pairs a token bucket with a concurrency cap.
type Limiter struct {
	bucket *rate.Limiter
	slots  chan struct{}
}

// New creates a limiter allowing ratePerSec requests per second with the
// given burst, and at most maxConcurrent requests in flight.
func New(ratePerSec float64, burst, maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		slots:  make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until a concurrency slot and a token are available, or
// the context is done. On success the caller must call Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit acquire: %w", ctx.Err())
	}

	if err := l.bucket.Wait(ctx); err != nil {
		<-l.slots
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Release frees the concurrency slot taken by Acquire.
func (l *Limiter) Release() {
	<-l.slots
}
