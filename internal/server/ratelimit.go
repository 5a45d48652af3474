package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter enforces per-client request limits with token buckets.
type RateLimiter struct {
	limiters sync.Map // key -> *limiterEntry
	r        rate.Limit
	burst    int
	logger   *zap.Logger
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// NewRateLimiter takes requests per minute and the burst size. rpm <= 0
// disables limiting.
func NewRateLimiter(rpm, burst int, logger *zap.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	return &RateLimiter{r: r, burst: burst, logger: logger, now: time.Now}
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.r == 0 {
		return true
	}
	entry := rl.getOrCreate(key)
	entry.lastSeen.Store(rl.now().UnixNano())
	if !entry.limiter.Allow() {
		rl.logger.Warn("request rate limited", zap.String("client", key))
		return false
	}
	return true
}

func (rl *RateLimiter) Enabled() bool {
	return rl.r > 0
}

func (rl *RateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

// Run drops idle clients every interval until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	if !rl.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(idle)
		}
	}
}

func (rl *RateLimiter) cleanup(idle time.Duration) {
	cutoff := rl.now().Add(-idle).UnixNano()
	rl.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}
