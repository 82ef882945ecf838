package engine

import (
	"time"
)

// RecordRPCAttempt records one provider attempt made by the failover executor
func (m *Metrics) RecordRPCAttempt(network, provider, method string, duration time.Duration, err error) {
	m.RPCRequestsTotal.WithLabelValues(network, provider, method).Inc()
	m.RPCLatency.WithLabelValues(network, method).Observe(duration.Seconds())
	if err != nil {
		m.RPCRequestsFailed.WithLabelValues(network, provider, method).Inc()
	}
}

// UpdateRPCHealthyNodes updates the healthy provider gauge for a network
func (m *Metrics) UpdateRPCHealthyNodes(network string, count int) {
	m.RPCHealthyNodes.WithLabelValues(network).Set(float64(count))
}

func (m *Metrics) RecordFailoverExhausted(network, method string) {
	m.FailoverExhausted.WithLabelValues(network, method).Inc()
}

func (m *Metrics) RecordProviderDemoted(network, provider string) {
	m.ProviderDemotions.WithLabelValues(network, provider).Inc()
}

// RecordCacheLookup result is one of hit, miss, expired
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordFetch records a completed FetchContractInteractions call
func (m *Metrics) RecordFetch(network, method string, duration time.Duration, eventTxs, directTxs int) {
	m.FetchesTotal.WithLabelValues(network, method).Inc()
	m.FetchDuration.WithLabelValues(network).Observe(duration.Seconds())
	m.TransactionsFound.WithLabelValues(network, "event").Add(float64(eventTxs))
	m.TransactionsFound.WithLabelValues(network, "directScan").Add(float64(directTxs))
}

func (m *Metrics) RecordHydrationFailure(network string) {
	m.HydrationFailures.WithLabelValues(network).Inc()
}

func (m *Metrics) RecordDirectScanBlocks(network string, n int) {
	m.BlocksDirectScanned.WithLabelValues(network).Add(float64(n))
}

// RecordDeploymentLookup source is one of store, explorer, binary_search
func (m *Metrics) RecordDeploymentLookup(source string) {
	m.DeploymentLookups.WithLabelValues(source).Inc()
}
