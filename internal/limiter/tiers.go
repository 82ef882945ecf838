package limiter

import (
	"fmt"
	"strings"
	"time"
)

// Tier 订阅等级，决定并发与窗口配额
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits is the admission budget applied to every network lane.
type TierLimits struct {
	MaxConcurrent int
	MaxPerWindow  int
	Window        time.Duration
	// BatchSize caps hydration fan-out inside one fetch.
	BatchSize int
}

func (l TierLimits) Validate() error {
	if l.MaxConcurrent <= 0 || l.MaxPerWindow <= 0 || l.Window <= 0 || l.BatchSize <= 0 {
		return fmt.Errorf("tier limits must be positive: %+v", l)
	}
	return nil
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[Tier]TierLimits {
	return map[Tier]TierLimits{
		TierFree:       {MaxConcurrent: 2, MaxPerWindow: 30, Window: time.Minute, BatchSize: 10},
		TierPro:        {MaxConcurrent: 5, MaxPerWindow: 100, Window: time.Minute, BatchSize: 15},
		TierEnterprise: {MaxConcurrent: 10, MaxPerWindow: 300, Window: time.Minute, BatchSize: 25},
	}
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierPro, TierEnterprise:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}
