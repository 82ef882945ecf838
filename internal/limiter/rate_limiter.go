package limiter

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// 🛡️ 单个 provider 的硬上限，防止配置错误把商业额度打穿
const (
	MaxSafetyRPS     = 50
	DefaultBurstSize = 1
)

// RateLimiter 单个 provider 的令牌桶
type RateLimiter struct {
	limiter *rate.Limiter
	maxRPS  float64 // 记录配置的 RPS（用于审计）
}

// NewRateLimiter returns nil when rps <= 0, meaning the endpoint is unmetered.
// A nil *RateLimiter is safe to Wait on.
func NewRateLimiter(name string, rps float64, local bool) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if rps > MaxSafetyRPS && !local {
		slog.Warn("⚠️  unsafe_rps_config",
			slog.String("provider", name),
			slog.Float64("requested_rps", rps),
			slog.Int("forced_rps", MaxSafetyRPS),
		)
		rps = MaxSafetyRPS
	}
	burst := DefaultBurstSize
	if rps >= 2 {
		burst = int(rps)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		maxRPS:  rps,
	}
}

// Wait 阻塞直到获取令牌（或上下文取消）
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

// MaxRPS 返回当前配置的最大 RPS（用于监控）, 0 表示不限速
func (rl *RateLimiter) MaxRPS() float64 {
	if rl == nil {
		return 0
	}
	return rl.maxRPS
}
