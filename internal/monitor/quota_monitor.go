package monitor

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	AlertThreshold    = 0.80 // 80% 预警阈值
	CriticalThreshold = 0.90 // 90% 临界阈值
)

// QuotaLevel 窗口配额使用状态
type QuotaLevel int

const (
	QuotaSafe QuotaLevel = iota
	QuotaWarning
	QuotaCritical
)

func (l QuotaLevel) String() string {
	switch l {
	case QuotaWarning:
		return "warning"
	case QuotaCritical:
		return "critical"
	default:
		return "safe"
	}
}

var (
	quotaUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_queue_quota_usage_percent",
		Help: "Percentage of the current admission window used (0-100)",
	}, []string{"network"})
	quotaStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_queue_quota_status",
		Help: "Admission window status: 0=Safe, 1=Warning, 2=Critical",
	}, []string{"network"})
)

// QuotaMonitor watches how much of each network's admission window is used
// and logs when a network crosses a threshold.
type QuotaMonitor struct {
	mu     sync.Mutex
	levels map[string]QuotaLevel
}

func NewQuotaMonitor() *QuotaMonitor {
	return &QuotaMonitor{levels: make(map[string]QuotaLevel)}
}

// Observe records used out of limit for network and returns the resulting level.
func (m *QuotaMonitor) Observe(network string, used, limit int) QuotaLevel {
	if limit <= 0 {
		return QuotaSafe
	}
	usage := float64(used) / float64(limit)
	level := QuotaSafe
	switch {
	case usage >= CriticalThreshold:
		level = QuotaCritical
	case usage >= AlertThreshold:
		level = QuotaWarning
	}
	quotaUsage.WithLabelValues(network).Set(usage * 100)
	quotaStatus.WithLabelValues(network).Set(float64(level))

	m.mu.Lock()
	prev := m.levels[network]
	m.levels[network] = level
	m.mu.Unlock()

	// 只在状态变化时记录，避免日志刷屏
	if level == prev {
		return level
	}
	attrs := []any{
		slog.String("network", network),
		slog.Float64("usage_percent", usage*100),
		slog.Int("used", used),
		slog.Int("limit", limit),
	}
	switch level {
	case QuotaCritical:
		slog.Error("queue_quota_critical", attrs...)
	case QuotaWarning:
		slog.Warn("queue_quota_warning", attrs...)
	default:
		slog.Info("queue_quota_recovered", attrs...)
	}
	return level
}

// Level returns the last observed level of network.
func (m *QuotaMonitor) Level(network string) QuotaLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[network]
}
