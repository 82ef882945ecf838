package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"interaction-indexer-go/internal/config"
	"interaction-indexer-go/internal/limiter"
	"interaction-indexer-go/internal/monitor"
	"interaction-indexer-go/pkg/network"

	"golang.org/x/sync/singleflight"
)

// PoolOptions tunes failover and health checking.
type PoolOptions struct {
	FailoverTimeout     time.Duration
	HealthCheckInterval time.Duration
	HealthProbeTimeout  time.Duration
	VerifyChainID       bool
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		FailoverTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		HealthProbeTimeout:  5 * time.Second,
	}
}

// ProviderPool owns the chain clients of every network, their health, and
// the failover executor. Pools are built lazily per network and never mix
// providers across networks.
type ProviderPool struct {
	mu        sync.Mutex
	registry  *network.Registry
	endpoints map[string][]ProviderEndpoint
	pools     map[string]*networkPool
	building  singleflight.Group
	factory   ClientFactory
	queue     *limiter.RequestQueue
	tracker   *monitor.ErrorTracker
	metrics   *Metrics
	opts      PoolOptions
}

type networkPool struct {
	spec  network.Spec
	nodes []*rpcNode // sorted by priority, then configuration order
}

func NewProviderPool(
	registry *network.Registry,
	endpoints []ProviderEndpoint,
	factory ClientFactory,
	queue *limiter.RequestQueue,
	tracker *monitor.ErrorTracker,
	opts PoolOptions,
) *ProviderPool {
	byNetwork := make(map[string][]ProviderEndpoint)
	for _, ep := range endpoints {
		byNetwork[ep.NetworkID] = append(byNetwork[ep.NetworkID], ep)
	}
	if tracker == nil {
		tracker = monitor.NewErrorTracker(0)
	}
	defaults := DefaultPoolOptions()
	if opts.FailoverTimeout <= 0 {
		opts.FailoverTimeout = defaults.FailoverTimeout
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if opts.HealthProbeTimeout <= 0 {
		opts.HealthProbeTimeout = defaults.HealthProbeTimeout
	}
	return &ProviderPool{
		registry:  registry,
		endpoints: byNetwork,
		pools:     make(map[string]*networkPool),
		factory:   factory,
		queue:     queue,
		tracker:   tracker,
		metrics:   GetMetrics(),
		opts:      opts,
	}
}

// EndpointsFromConfig flattens the configured providers of every network.
func EndpointsFromConfig(cfg *config.Config) []ProviderEndpoint {
	var out []ProviderEndpoint
	for _, n := range cfg.Networks {
		for _, p := range n.Providers {
			out = append(out, ProviderEndpoint{
				Name:      p.Name,
				URL:       p.URL,
				Priority:  p.Priority,
				NetworkID: n.ID,
				RPS:       p.RPS,
			})
		}
	}
	return out
}

// EnsureProviders builds the network's chain clients on first use. Endpoints
// failing the URL signature check are skipped with a warning.
func (p *ProviderPool) EnsureProviders(ctx context.Context, networkID string) error {
	_, err := p.ensure(ctx, networkID)
	return err
}

// ensure returns the network's pool, building it outside p.mu so that dialing
// or chain-id checks on one network never block calls on another. Concurrent
// first calls for the same network share one build.
func (p *ProviderPool) ensure(ctx context.Context, networkID string) (*networkPool, error) {
	if np := p.pool(networkID); np != nil {
		return np, nil
	}
	v, err, _ := p.building.Do(networkID, func() (any, error) {
		if np := p.pool(networkID); np != nil {
			return np, nil
		}
		// 构建不随首个调用方取消，其他等待者共享结果
		np, err := p.build(context.WithoutCancel(ctx), networkID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.pools[networkID] = np
		p.mu.Unlock()
		return np, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*networkPool), nil
}

func (p *ProviderPool) build(ctx context.Context, networkID string) (*networkPool, error) {
	spec, ok := p.registry.Lookup(networkID)
	if !ok {
		return nil, &ConfigurationError{Network: networkID, Reason: "unknown network"}
	}
	endpoints := p.endpoints[networkID]
	if len(endpoints) == 0 {
		return nil, &ConfigurationError{Network: networkID, Reason: "no providers configured"}
	}

	np := &networkPool{spec: spec}
	for i, ep := range endpoints {
		if err := p.registry.VerifyEndpointURL(networkID, ep.URL); err != nil {
			LogProviderSkipped(networkID, ep.Name, ep.URL, err)
			p.tracker.Track(err, monitor.ErrorContext{Network: networkID, Provider: ep.Name, Method: "verify_endpoint"})
			continue
		}
		client, err := p.factory(ctx, spec.Family, ep)
		if err != nil {
			LogProviderSkipped(networkID, ep.Name, ep.URL, err)
			p.tracker.Track(err, monitor.ErrorContext{Network: networkID, Provider: ep.Name, Method: "dial"})
			continue
		}
		node := &rpcNode{
			endpoint: ep,
			order:    i,
			client:   client,
			limiter:  limiter.NewRateLimiter(ep.Name, ep.RPS, network.IsLocalURL(ep.URL)),
		}
		node.healthy.Store(true)
		np.nodes = append(np.nodes, node)
	}
	if len(np.nodes) == 0 {
		return nil, &ConfigurationError{Network: networkID, Reason: "no provider passed endpoint validation"}
	}
	sort.SliceStable(np.nodes, func(a, b int) bool {
		if np.nodes[a].endpoint.Priority != np.nodes[b].endpoint.Priority {
			return np.nodes[a].endpoint.Priority < np.nodes[b].endpoint.Priority
		}
		return np.nodes[a].order < np.nodes[b].order
	})

	if p.opts.VerifyChainID {
		p.verifyChainIDs(ctx, np)
		if np.healthyCount() == 0 {
			np.close()
			return nil, &ConfigurationError{Network: networkID, Reason: "no provider reports the expected chain id"}
		}
	}

	p.metrics.UpdateRPCHealthyNodes(networkID, np.healthyCount())
	Logger.Info("provider_pool_ready",
		"network", networkID,
		"providers", len(np.nodes),
		"skipped", len(endpoints)-len(np.nodes),
	)
	return np, nil
}

// RecordOutcome updates a provider's counters by name.
func (p *ProviderPool) RecordOutcome(networkID, provider string, success bool, latency time.Duration, err error) {
	np := p.pool(networkID)
	if np == nil {
		return
	}
	for _, n := range np.nodes {
		if n.endpoint.Name == provider {
			p.recordOutcome(np, n, success, latency, err)
			return
		}
	}
}

// recordOutcome demotes a provider once failures exceed both 3 and its successes.
func (p *ProviderPool) recordOutcome(np *networkPool, n *rpcNode, success bool, latency time.Duration, err error) {
	n.lastLatencyMs.Store(latency.Milliseconds())
	if success {
		n.successCount.Add(1)
		return
	}

	failures := n.failureCount.Add(1)
	n.lastFailure.Store(time.Now().UnixNano())
	if err != nil {
		msg := err.Error()
		n.lastError.Store(&msg)
	}
	successes := n.successCount.Load()
	if failures > 3 && failures > successes && n.healthy.CompareAndSwap(true, false) {
		LogProviderDemoted(np.spec.ID, n.endpoint.Name, failures, successes, err)
		p.metrics.RecordProviderDemoted(np.spec.ID, n.endpoint.Name)
		p.metrics.UpdateRPCHealthyNodes(np.spec.ID, np.healthyCount())
	}
}

// Health returns a snapshot of every provider of an initialized network.
func (p *ProviderPool) Health(networkID string) []ProviderHealth {
	np := p.pool(networkID)
	if np == nil {
		return nil
	}
	out := make([]ProviderHealth, 0, len(np.nodes))
	for _, n := range np.nodes {
		out = append(out, n.snapshot())
	}
	return out
}

// Networks lists the networks whose pools have been built.
func (p *ProviderPool) Networks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.pools))
	for id := range p.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *ProviderPool) Tracker() *monitor.ErrorTracker { return p.tracker }

// Close closes all client connections
func (p *ProviderPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, np := range p.pools {
		np.close()
	}
	p.pools = make(map[string]*networkPool)
}

func (p *ProviderPool) pool(networkID string) *networkPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pools[networkID]
}

func (p *ProviderPool) snapshotPools() []*networkPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*networkPool, 0, len(p.pools))
	for _, np := range p.pools {
		out = append(out, np)
	}
	return out
}

// candidates returns the usable providers in failover order.
func (np *networkPool) candidates() []*rpcNode {
	out := make([]*rpcNode, 0, len(np.nodes))
	for _, n := range np.nodes {
		if n.usable() {
			out = append(out, n)
		}
	}
	return out
}

func (np *networkPool) healthyCount() int {
	c := 0
	for _, n := range np.nodes {
		if n.usable() {
			c++
		}
	}
	return c
}

func (np *networkPool) close() {
	for _, n := range np.nodes {
		n.client.Close()
	}
}

func (np *networkPool) String() string {
	return fmt.Sprintf("%s(%d providers)", np.spec.ID, len(np.nodes))
}
