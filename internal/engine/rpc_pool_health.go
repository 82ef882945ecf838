package engine

import (
	"context"
	"log/slog"
	"time"

	"interaction-indexer-go/internal/monitor"
	"interaction-indexer-go/internal/recovery"
)

// StartHealthCheck starts a background goroutine that periodically probes
// demoted providers until ctx is done.
func (p *ProviderPool) StartHealthCheck(ctx context.Context) {
	interval := p.opts.HealthCheckInterval
	recovery.Go("provider-health-check", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckHealth(ctx)
			}
		}
	})
}

// CheckHealth 探测所有不健康节点，GetBlockNumber 成功即恢复；返回恢复的节点数。
// Counters are left untouched.
func (p *ProviderPool) CheckHealth(ctx context.Context) int {
	recovered := 0
	for _, np := range p.snapshotPools() {
		for _, n := range np.nodes {
			if n.healthy.Load() || n.quarantined.Load() {
				continue
			}
			if ctx.Err() != nil {
				return recovered
			}
			if p.probe(ctx, np, n) && n.healthy.CompareAndSwap(false, true) {
				recovered++
				LogProviderRecovered(np.spec.ID, n.endpoint.Name)
			}
		}
		p.metrics.UpdateRPCHealthyNodes(np.spec.ID, np.healthyCount())
	}
	return recovered
}

func (p *ProviderPool) probe(ctx context.Context, np *networkPool, n *rpcNode) bool {
	pctx, cancel := context.WithTimeout(ctx, p.opts.HealthProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := n.client.GetBlockNumber(pctx)
	p.metrics.RecordRPCAttempt(np.spec.ID, n.endpoint.Name, "health_probe", time.Since(start), err)
	if err != nil {
		p.tracker.Track(err, monitor.ErrorContext{Network: np.spec.ID, Provider: n.endpoint.Name, Method: "health_probe"})
		Logger.Debug("provider_probe_failed",
			slog.String("network", np.spec.ID),
			slog.String("provider", n.endpoint.Name),
			slog.Int("recent_errors", p.tracker.RecentForProvider(n.endpoint.Name, 5*time.Minute)),
			slog.Time("last_failure", n.lastFailureAt()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// VerifyChainIDs asks every provider of networkID for its chain id and
// quarantines the ones that disagree with the registry. The returned map
// holds the per-provider error; nil means the provider matched.
func (p *ProviderPool) VerifyChainIDs(ctx context.Context, networkID string) (map[string]error, error) {
	np, err := p.ensure(ctx, networkID)
	if err != nil {
		return nil, err
	}
	results := p.verifyChainIDs(ctx, np)
	p.metrics.UpdateRPCHealthyNodes(networkID, np.healthyCount())
	return results, nil
}

func (p *ProviderPool) verifyChainIDs(ctx context.Context, np *networkPool) map[string]error {
	results := make(map[string]error, len(np.nodes))
	for _, n := range np.nodes {
		pctx, cancel := context.WithTimeout(ctx, p.opts.HealthProbeTimeout)
		id, err := n.client.ChainID(pctx)
		cancel()
		if err == nil {
			err = p.registry.VerifyChainID(np.spec.ID, id)
			if err != nil {
				n.quarantined.Store(true)
			}
		}
		if err != nil {
			p.tracker.Track(err, monitor.ErrorContext{Network: np.spec.ID, Provider: n.endpoint.Name, Method: "chain_id"})
			Logger.Warn("provider_chain_id_check_failed",
				slog.String("network", np.spec.ID),
				slog.String("provider", n.endpoint.Name),
				slog.Bool("quarantined", n.quarantined.Load()),
				slog.String("error", err.Error()),
			)
		}
		results[n.endpoint.Name] = err
	}
	return results
}
