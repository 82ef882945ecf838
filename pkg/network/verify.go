package network

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var (
	ErrSignatureMismatch = errors.New("endpoint url does not match network signature")
	ErrChainIDMismatch   = errors.New("network mismatch")
)

// IsLocalURL reports whether the endpoint points at a local dev node (Anvil etc).
func IsLocalURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1") ||
		strings.Contains(lower, "anvil") ||
		strings.Contains(lower, "host.docker.internal")
}

// VerifyEndpointURL 校验 RPC URL 是否属于目标网络。
// 目标网络要求的 token 必须全部出现，且不得出现其他已知网络独有的 token。
// 本地节点 URL 跳过 token 校验。
func (r *Registry) VerifyEndpointURL(networkID, raw string) error {
	spec, ok := r.Lookup(networkID)
	if !ok {
		return fmt.Errorf("unknown network %q", networkID)
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint url has no host")
	}
	if IsLocalURL(u.Host) {
		return nil
	}

	// 只比较 host + path，query 里常带 API key，不参与匹配
	subject := strings.ToLower(u.Host + u.Path)
	for _, t := range spec.URLTokens {
		if !strings.Contains(subject, strings.ToLower(t)) {
			return fmt.Errorf("%w: %s expects %q in url", ErrSignatureMismatch, spec.ID, t)
		}
	}
	for _, t := range r.foreignTokens(spec) {
		if strings.Contains(subject, t) {
			return fmt.Errorf("%w: %s url carries foreign token %q", ErrSignatureMismatch, spec.ID, t)
		}
	}
	return nil
}

// VerifyChainID 校验 RPC 节点返回的 Chain ID 与网络配置一致
func (r *Registry) VerifyChainID(networkID, actual string) error {
	spec, ok := r.Lookup(networkID)
	if !ok {
		return fmt.Errorf("unknown network %q", networkID)
	}
	if spec.ChainID == "" {
		return nil
	}
	actual = NormalizeChainID(actual)
	if actual != spec.ChainID {
		slog.Error("🛑 network_mismatch",
			slog.String("network", spec.ID),
			slog.String("expected", fmt.Sprintf("%s (ID: %s)", spec.Name, spec.ChainID)),
			slog.String("actual", fmt.Sprintf("%s (ID: %s)", r.Name(actual), actual)),
		)
		return fmt.Errorf("%w: expected %s, got %s", ErrChainIDMismatch, spec.ChainID, actual)
	}
	return nil
}
