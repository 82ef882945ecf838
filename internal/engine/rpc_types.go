package engine

import (
	"sync/atomic"
	"time"

	"interaction-indexer-go/internal/limiter"
)

// ProviderEndpoint is one configured RPC endpoint; immutable after construction.
type ProviderEndpoint struct {
	Name      string
	URL       string
	Priority  int // lower is preferred
	NetworkID string
	RPS       float64
}

// ProviderHealth is a snapshot of a provider's counters.
type ProviderHealth struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Priority      int       `json:"priority"`
	IsHealthy     bool      `json:"isHealthy"`
	SuccessCount  int64     `json:"successCount"`
	FailureCount  int64     `json:"failureCount"`
	LastLatencyMs int64     `json:"lastLatencyMs"`
	LastError     string    `json:"lastError,omitempty"`
	LastFailureAt time.Time `json:"lastFailureAt,omitzero"`
}

// rpcNode is one provider inside a network's pool. Counters are atomic and
// never reset; healthy flips only through CAS.
type rpcNode struct {
	endpoint ProviderEndpoint
	order    int // configuration order, tie-break for equal priority
	client   ChainClient
	limiter  *limiter.RateLimiter

	healthy       atomic.Bool
	quarantined   atomic.Bool // chain id mismatch; never reinstated
	successCount  atomic.Int64
	failureCount  atomic.Int64
	lastLatencyMs atomic.Int64
	lastError     atomic.Pointer[string]
	lastFailure   atomic.Int64 // unix nanos
}

func (n *rpcNode) snapshot() ProviderHealth {
	h := ProviderHealth{
		Name:          n.endpoint.Name,
		URL:           maskURL(n.endpoint.URL),
		Priority:      n.endpoint.Priority,
		IsHealthy:     n.healthy.Load() && !n.quarantined.Load(),
		SuccessCount:  n.successCount.Load(),
		FailureCount:  n.failureCount.Load(),
		LastLatencyMs: n.lastLatencyMs.Load(),
		LastFailureAt: n.lastFailureAt(),
	}
	if e := n.lastError.Load(); e != nil {
		h.LastError = *e
	}
	return h
}

func (n *rpcNode) usable() bool {
	return n.healthy.Load() && !n.quarantined.Load()
}

func (n *rpcNode) lastFailureAt() time.Time {
	ns := n.lastFailure.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
