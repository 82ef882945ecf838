package engine

import (
	"log/slog"
	"os"
	"time"
)

// Logger 全局结构化日志器，InitLogger 之前使用 slog 默认实例
var Logger = slog.Default()

// InitLogger 初始化结构化日志; format 为 "text" 时输出文本，其余为 JSON
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	// CLI 的 stdout 留给 JSON 结果，日志写 stderr
	if format == "text" {
		Logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	} else {
		Logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	slog.SetDefault(Logger)
}

// LogProviderSkipped 记录未通过网络签名校验的节点
func LogProviderSkipped(network, provider, url string, err error) {
	Logger.Warn("provider_skipped",
		slog.String("network", network),
		slog.String("provider", provider),
		slog.String("url", maskURL(url)),
		slog.String("error", err.Error()),
	)
}

// LogProviderDemoted 记录节点被标记为不健康
func LogProviderDemoted(network, provider string, failures, successes int64, err error) {
	attrs := []any{
		slog.String("network", network),
		slog.String("provider", provider),
		slog.Int64("failure_count", failures),
		slog.Int64("success_count", successes),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	Logger.Warn("provider_demoted", attrs...)
}

// LogProviderRecovered 记录节点恢复
func LogProviderRecovered(network, provider string) {
	Logger.Info("provider_recovered",
		slog.String("network", network),
		slog.String("provider", provider),
	)
}

// LogFailoverExhausted 记录所有节点都失败
func LogFailoverExhausted(network, operation string, attempts int, err error) {
	Logger.Error("failover_exhausted",
		slog.String("network", network),
		slog.String("operation", operation),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogRPCRetry 记录 RPC 重试日志
func LogRPCRetry(provider, method string, attempt int, delay time.Duration, err error) {
	Logger.Debug("rpc_retry",
		slog.String("provider", provider),
		slog.String("method", method),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogPartialHydration 单笔交易补全失败，交易被丢弃但整体请求继续
func LogPartialHydration(w *PartialHydrationWarning) {
	Logger.Warn("partial_hydration",
		slog.String("network", w.Network),
		slog.String("tx_hash", w.TxHash),
		slog.String("error", w.Err.Error()),
	)
}

// LogFetchCompleted 记录一次交互抓取的结果
func LogFetchCompleted(network, address string, from, to uint64, method string, txs, events int, duration time.Duration) {
	Logger.Info("interactions_fetched",
		slog.String("network", network),
		slog.String("address", address),
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", to),
		slog.String("method", method),
		slog.Int("transactions", txs),
		slog.Int("events", events),
		slog.Float64("duration_seconds", duration.Seconds()),
	)
}
