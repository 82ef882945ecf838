package monitor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultErrorCapacity = 500

var trackedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "indexer_tracked_errors_total",
	Help: "Errors recorded by the error tracker",
}, []string{"network", "provider", "method"})

// ErrorContext 错误发生时的上下文
type ErrorContext struct {
	Network  string
	Provider string
	Method   string
}

// TrackedError is one ring buffer entry.
type TrackedError struct {
	At       time.Time `json:"at"`
	Network  string    `json:"network"`
	Provider string    `json:"provider"`
	Method   string    `json:"method"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
}

// kinded is implemented by the engine's typed errors.
type kinded interface {
	Kind() string
}

// ErrorTracker keeps the most recent errors in a bounded ring buffer and
// running totals by provider and by method.
type ErrorTracker struct {
	mu         sync.Mutex
	entries    []TrackedError
	head       int // index of the oldest entry
	count      int
	total      int64
	byProvider map[string]int64
	byMethod   map[string]int64
}

func NewErrorTracker(capacity int) *ErrorTracker {
	if capacity <= 0 {
		capacity = DefaultErrorCapacity
	}
	return &ErrorTracker{
		entries:    make([]TrackedError, capacity),
		byProvider: make(map[string]int64),
		byMethod:   make(map[string]int64),
	}
}

// Track records err. A nil error is ignored.
func (t *ErrorTracker) Track(err error, c ErrorContext) {
	if err == nil {
		return
	}
	kind := "error"
	var k kinded
	if errors.As(err, &k) {
		kind = k.Kind()
	}
	entry := TrackedError{
		At:       time.Now(),
		Network:  c.Network,
		Provider: c.Provider,
		Method:   c.Method,
		Kind:     kind,
		Message:  err.Error(),
	}

	t.mu.Lock()
	capacity := len(t.entries)
	if t.count < capacity {
		t.entries[(t.head+t.count)%capacity] = entry
		t.count++
	} else {
		// 覆盖最旧的一条
		t.entries[t.head] = entry
		t.head = (t.head + 1) % capacity
	}
	t.total++
	if c.Provider != "" {
		t.byProvider[c.Provider]++
	}
	if c.Method != "" {
		t.byMethod[c.Method]++
	}
	total := t.total
	t.mu.Unlock()

	trackedErrors.WithLabelValues(c.Network, c.Provider, c.Method).Inc()
	if total%100 == 0 {
		slog.Warn("⚠️  error_volume",
			slog.Int64("total", total),
			slog.String("last_kind", kind),
			slog.String("last_provider", c.Provider),
		)
	}
}

// Recent returns up to n entries, newest first.
func (t *ErrorTracker) Recent(n int) []TrackedError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > t.count {
		n = t.count
	}
	out := make([]TrackedError, 0, n)
	capacity := len(t.entries)
	for i := 0; i < n; i++ {
		idx := (t.head + t.count - 1 - i + capacity) % capacity
		out = append(out, t.entries[idx])
	}
	return out
}

// RecentForProvider counts buffered errors for provider newer than since.
func (t *ErrorTracker) RecentForProvider(provider string, since time.Duration) int {
	cutoff := time.Now().Add(-since)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	capacity := len(t.entries)
	for i := 0; i < t.count; i++ {
		e := t.entries[(t.head+i)%capacity]
		if e.Provider == provider && !e.At.Before(cutoff) {
			n++
		}
	}
	return n
}

func (t *ErrorTracker) CountsByProvider() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyCounts(t.byProvider)
}

func (t *ErrorTracker) CountsByMethod() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyCounts(t.byMethod)
}

// Total counts every tracked error, including ones evicted from the buffer.
func (t *ErrorTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
