package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultPollInterval is how often a waiting caller re-checks admission.
const DefaultPollInterval = 25 * time.Millisecond

var (
	queueInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_queue_inflight",
		Help: "Operations currently admitted by the request queue",
	}, []string{"network"})
	queueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "indexer_queue_wait_seconds",
		Help:    "Time spent waiting for request queue admission",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"network"})
)

// RequestQueue admits operations per network under the active tier's
// concurrency cap and fixed-window budget.
type RequestQueue struct {
	mu           sync.Mutex
	tier         Tier
	tiers        map[Tier]TierLimits
	lanes        map[string]*lane
	pollInterval time.Duration
}

type lane struct {
	mu            sync.Mutex
	inFlight      int
	maxConcurrent int
	window        *FixedWindowLimiter
}

// LaneStats is a point-in-time view of one network lane.
type LaneStats struct {
	Tier         Tier
	InFlight     int
	WindowUsed   int
	WindowLimit  int
	WindowResets int64
}

func NewRequestQueue(tier Tier, tiers map[Tier]TierLimits) (*RequestQueue, error) {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	for t, l := range tiers {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", t, err)
		}
	}
	if _, ok := tiers[tier]; !ok {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	return &RequestQueue{
		tier:         tier,
		tiers:        tiers,
		lanes:        make(map[string]*lane),
		pollInterval: DefaultPollInterval,
	}, nil
}

// SetPollInterval overrides the admission polling backoff.
func (q *RequestQueue) SetPollInterval(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d > 0 {
		q.pollInterval = d
	}
}

// SetTier swaps the active tier for every lane at runtime.
func (q *RequestQueue) SetTier(tier Tier) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	limits, ok := q.tiers[tier]
	if !ok {
		return fmt.Errorf("unknown tier %q", tier)
	}
	q.tier = tier
	for _, l := range q.lanes {
		l.mu.Lock()
		l.maxConcurrent = limits.MaxConcurrent
		l.mu.Unlock()
		l.window.SetLimit(limits.MaxPerWindow, limits.Window)
	}
	return nil
}

func (q *RequestQueue) Tier() Tier {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tier
}

// Limits returns the budget of the active tier.
func (q *RequestQueue) Limits() TierLimits {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tiers[q.tier]
}

// Do waits for admission on the network's lane, then runs op.
// Waiting polls; only the calling goroutine is suspended.
func (q *RequestQueue) Do(ctx context.Context, network string, op func(context.Context) error) error {
	l, poll := q.lane(network)

	start := time.Now()
	if err := l.admit(ctx, poll); err != nil {
		return err
	}
	queueWait.WithLabelValues(network).Observe(time.Since(start).Seconds())
	queueInFlight.WithLabelValues(network).Inc()
	defer func() {
		l.release()
		queueInFlight.WithLabelValues(network).Dec()
	}()

	return op(ctx)
}

// Stats returns the lane snapshot for network.
func (q *RequestQueue) Stats(network string) LaneStats {
	l, _ := q.lane(network)
	l.mu.Lock()
	inFlight := l.inFlight
	l.mu.Unlock()
	q.mu.Lock()
	tier := q.tier
	limits := q.tiers[tier]
	q.mu.Unlock()
	return LaneStats{
		Tier:         tier,
		InFlight:     inFlight,
		WindowUsed:   l.window.QuotaUsed(),
		WindowLimit:  limits.MaxPerWindow,
		WindowResets: l.window.Resets(),
	}
}

func (q *RequestQueue) lane(network string) (*lane, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[network]
	if !ok {
		limits := q.tiers[q.tier]
		l = &lane{
			maxConcurrent: limits.MaxConcurrent,
			window:        NewFixedWindowLimiter(limits.MaxPerWindow, limits.Window),
		}
		q.lanes[network] = l
	}
	return l, q.pollInterval
}

func (l *lane) admit(ctx context.Context, poll time.Duration) error {
	for {
		ok, retryIn := l.tryAcquire()
		if ok {
			return nil
		}
		delay := poll
		if retryIn > 0 && retryIn < delay {
			delay = retryIn
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// tryAcquire takes a concurrency slot and a window token together, or neither.
func (l *lane) tryAcquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight >= l.maxConcurrent {
		return false, 0
	}
	if !l.window.Allow() {
		return false, l.window.WindowResetIn()
	}
	l.inFlight++
	return true, 0
}

func (l *lane) release() {
	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
}
