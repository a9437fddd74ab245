package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is a process-local fixed window limiter. It backs the
// middleware when Redis is not available, e.g. single-node SQLite installs.
type MemoryLimiter struct {
	mu       sync.Mutex
	store    limiter.Store
	limiters map[string]*limiter.Limiter
}

// NewMemoryLimiter constructs a MemoryLimiter with an in-memory store.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		store:    memory.NewStore(),
		limiters: map[string]*limiter.Limiter{},
	}
}

// Allow registers an event for key and reports whether it is within max per window.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if m == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rateKey := fmt.Sprintf("%d:%d", window, max)
	lim := m.limiterFor(rateKey, window, max)
	res, err := lim.Get(ctx, rateKey+":"+key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}

func (m *MemoryLimiter) limiterFor(rateKey string, window time.Duration, max int) *limiter.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[rateKey]; ok {
		return lim
	}
	lim := limiter.New(m.store, limiter.Rate{Period: window, Limit: int64(max)})
	m.limiters[rateKey] = lim
	return lim
}
