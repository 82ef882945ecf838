package limiter

import (
	"context"
	"sync"
	"time"
)

// FixedWindowLimiter counts operations started inside a fixed window.
// The counter resets in one step once the window has elapsed, so quota
// consumption matches how RPC providers meter per-minute plans.
type FixedWindowLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	limit       int
	windowStart time.Time
	count       int
	resets      int64
}

// NewFixedWindowLimiter creates a fixed window limiter.
//
//	limit: max operations started per window (e.g. 30 for the free tier)
//	window: window length (e.g. time.Minute)
func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		window: window,
		limit:  limit,
	}
}

// SetLimit swaps the budget. Operations already counted stay counted.
func (f *FixedWindowLimiter) SetLimit(limit int, window time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	f.window = window
}

// Allow reports whether an operation may start now and records it if so.
func (f *FixedWindowLimiter) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roll(time.Now())
	if f.count >= f.limit {
		return false
	}
	f.count++
	return true
}

// Wait blocks until an operation is permitted or ctx is cancelled.
func (f *FixedWindowLimiter) Wait(ctx context.Context) error {
	for {
		if f.Allow() {
			return nil
		}
		delay := f.WindowResetIn()
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// QuotaUsed returns the number of operations counted in the current window.
func (f *FixedWindowLimiter) QuotaUsed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roll(time.Now())
	return f.count
}

func (f *FixedWindowLimiter) QuotaRemaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roll(time.Now())
	if f.count >= f.limit {
		return 0
	}
	return f.limit - f.count
}

// WindowResetIn returns the time left until the counter resets.
func (f *FixedWindowLimiter) WindowResetIn() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.roll(now)
	if f.windowStart.IsZero() {
		return 0
	}
	return f.windowStart.Add(f.window).Sub(now)
}

// Resets returns how many times the window has rolled over.
func (f *FixedWindowLimiter) Resets() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// roll starts a fresh window when the current one has elapsed.
// Must be called with f.mu held.
func (f *FixedWindowLimiter) roll(now time.Time) {
	if f.windowStart.IsZero() {
		f.windowStart = now
		return
	}
	if now.Sub(f.windowStart) >= f.window {
		f.windowStart = now
		f.count = 0
		f.resets++
	}
}
