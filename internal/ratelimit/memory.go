package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 100_000

type memoryBucket struct {
	count     int
	windowEnd time.Time
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	cfg     Config
	now     func() time.Time
	maxKeys int

	mu   sync.Mutex
	data map[string]*memoryBucket
}

// NewMemoryLimiter builds an in-process limiter. now may be nil.
func NewMemoryLimiter(cfg Config, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		cfg:     cfg.withDefaults(),
		now:     now,
		maxKeys: defaultMaxKeys,
		data:    make(map[string]*memoryBucket),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	limit := m.cfg.MaxRequests
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[key]
	if !ok || !now.Before(bucket.windowEnd) {
		if !ok && len(m.data) >= m.maxKeys {
			m.gc(now)
		}
		bucket = &memoryBucket{windowEnd: now.Add(m.cfg.Window)}
		m.data[key] = bucket
	}

	if bucket.count < limit {
		bucket.count++
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - bucket.count,
			ResetAt:   bucket.windowEnd,
		}, nil
	}
	return Decision{Allowed: false, Limit: limit, ResetAt: bucket.windowEnd}, nil
}

func (m *MemoryLimiter) gc(now time.Time) {
	for key, bucket := range m.data {
		if !now.Before(bucket.windowEnd) {
			delete(m.data, key)
		}
	}
}
