// Package ratelimit bounds call volume per source key with a fixed-window
// counter that resets once its window expires.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = time.Second
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts calls per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config sets the ceiling and window shared by every key.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}
