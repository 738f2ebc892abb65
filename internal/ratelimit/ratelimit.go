// Package ratelimit throttles repeated attempts per key using token buckets.
package ratelimit

import (
	"context"
	"time"
)

// Limiter takes one token from the bucket named by key. It reports false
// when the bucket is empty.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Settings describe a bucket: Burst tokens, refilled one every Refill.
type Settings struct {
	Burst  int
	Refill time.Duration
}

func (s Settings) perSecond() float64 {
	if s.Refill <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Refill)
}

// idleAfter is how long a bucket must sit untouched before it is full again
// and can be forgotten.
func (s Settings) idleAfter() time.Duration {
	return time.Duration(s.Burst) * s.Refill
}
