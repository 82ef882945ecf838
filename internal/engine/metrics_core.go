package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer
type Metrics struct {
	// RPC / provider pool
	RPCRequestsTotal  *prometheus.CounterVec
	RPCRequestsFailed *prometheus.CounterVec
	RPCLatency        *prometheus.HistogramVec
	RPCHealthyNodes   *prometheus.GaugeVec
	FailoverExhausted *prometheus.CounterVec
	ProviderDemotions *prometheus.CounterVec

	// Response cache
	CacheLookups *prometheus.CounterVec

	// Interaction fetcher
	FetchesTotal        *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	HydrationFailures   *prometheus.CounterVec
	TransactionsFound   *prometheus.CounterVec
	BlocksDirectScanned *prometheus.CounterVec

	// Deployment locator
	DeploymentLookups *prometheus.CounterVec
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the singleton Metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics registers every collector with the default registry; call it once.
func NewMetrics() *Metrics {
	return &Metrics{
		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_rpc_requests_total",
			Help: "RPC attempts per provider and operation",
		}, []string{"network", "provider", "method"}),
		RPCRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_rpc_requests_failed_total",
			Help: "Failed RPC attempts per provider and operation",
		}, []string{"network", "provider", "method"}),
		RPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_rpc_request_duration_seconds",
			Help:    "Latency of RPC attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"network", "method"}),
		RPCHealthyNodes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_rpc_healthy_nodes",
			Help: "Healthy providers per network",
		}, []string{"network"}),
		FailoverExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_failover_exhausted_total",
			Help: "Operations that failed on every provider",
		}, []string{"network", "method"}),
		ProviderDemotions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_provider_demotions_total",
			Help: "Times a provider was marked unhealthy",
		}, []string{"network", "provider"}),

		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss, expired)",
		}, []string{"result"}),

		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_fetches_total",
			Help: "FetchContractInteractions calls by network and method",
		}, []string{"network", "method"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_fetch_duration_seconds",
			Help:    "Duration of FetchContractInteractions calls",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"network"}),
		HydrationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_hydration_failures_total",
			Help: "Transactions dropped because hydration failed",
		}, []string{"network"}),
		TransactionsFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_transactions_found_total",
			Help: "Transactions returned by source (event, directScan)",
		}, []string{"network", "source"}),
		BlocksDirectScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_direct_scan_blocks_total",
			Help: "Blocks fetched by the direct-scan phase",
		}, []string{"network"}),

		DeploymentLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_deployment_lookups_total",
			Help: "Deployment block lookups by source (store, explorer, binary_search)",
		}, []string{"source"}),
	}
}
