package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"interaction-indexer-go/internal/config"
	"interaction-indexer-go/internal/engine"
	"interaction-indexer-go/internal/limiter"
	"interaction-indexer-go/internal/monitor"
	"interaction-indexer-go/internal/recovery"
	"interaction-indexer-go/pkg/network"
)

const quotaWatchInterval = 5 * time.Second

// services 是所有命令共享的运行期依赖
type services struct {
	cfg      *config.Config
	registry *network.Registry
	queue    *limiter.RequestQueue
	pool     *engine.ProviderPool
	cache    *engine.ResponseCache
	store    *engine.DeploymentStore
	locator  *engine.DeploymentLocator
	indexer  *engine.Indexer
	quota    *monitor.QuotaMonitor
}

func initServices(cfg *config.Config) (*services, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("network registry: %w", err)
	}

	queue, err := limiter.NewRequestQueue(cfg.Tier, limiter.DefaultTiers())
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.FailoverTimeout}
	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.BaseDelay = cfg.Retry.BaseDelay
	retry.MaxDelay = cfg.Retry.MaxDelay

	pool := engine.NewProviderPool(
		registry,
		engine.EndpointsFromConfig(cfg),
		engine.NewClientFactory(retry, httpClient),
		queue,
		monitor.NewErrorTracker(cfg.ErrorTrackerSize),
		engine.PoolOptions{
			FailoverTimeout:     cfg.FailoverTimeout,
			HealthCheckInterval: cfg.HealthCheckInterval,
			VerifyChainID:       cfg.VerifyChainID,
		},
	)

	store, err := engine.OpenDeploymentStore(cfg.DeploymentStorePath)
	if err != nil {
		pool.Close()
		return nil, err
	}

	explorers := make(map[string]*engine.ExplorerClient)
	for _, n := range cfg.Networks {
		if n.ExplorerURL != "" {
			explorers[n.ID] = engine.NewExplorerClient(n.ExplorerURL, n.ExplorerAPIKey, &http.Client{Timeout: 15 * time.Second})
		}
	}

	cache := engine.NewResponseCache(cfg.CacheTTL)
	locator := engine.NewDeploymentLocator(pool, registry, store, explorers)
	indexer := engine.NewIndexer(pool, queue, cache, locator, registry, engine.IndexerOptions{
		BatchSize:         cfg.BatchSize,
		DirectScanCeiling: uint64(cfg.DirectScanCeiling),
	})

	slog.Debug("services_initialized",
		slog.String("tier", string(cfg.Tier)),
		slog.Int("networks", len(cfg.Networks)),
		slog.Int("explorers", len(explorers)),
	)
	return &services{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		pool:     pool,
		cache:    cache,
		store:    store,
		locator:  locator,
		indexer:  indexer,
		quota:    monitor.NewQuotaMonitor(),
	}, nil
}

// startBackground runs the health sweep, the cache janitor and the quota
// watcher until ctx ends.
func (s *services) startBackground(ctx context.Context) {
	s.pool.StartHealthCheck(ctx)
	recovery.Go("quota-watch", func() {
		ticker := time.NewTicker(quotaWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.observeQuota()
			}
		}
	})
	recovery.Go("cache-janitor", func() {
		ticker := time.NewTicker(s.cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.cache.Purge(); n > 0 {
					slog.Debug("cache_purged", slog.Int("entries", n))
				}
			}
		}
	})
}

// observeQuota feeds every active network lane into the quota monitor.
func (s *services) observeQuota() map[string]monitor.QuotaLevel {
	levels := make(map[string]monitor.QuotaLevel)
	for _, id := range s.pool.Networks() {
		st := s.queue.Stats(id)
		levels[id] = s.quota.Observe(id, st.WindowUsed, st.WindowLimit)
	}
	return levels
}

func (s *services) Close() {
	s.pool.Close()
	if err := s.store.Close(); err != nil {
		slog.Warn("deployment_store_close_failed", slog.String("error", err.Error()))
	}
}
