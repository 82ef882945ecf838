package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// rpcCaller is the JSON-RPC plumbing shared by the EVM and Cairo clients.
type rpcCaller struct {
	provider string
	client   *rpc.Client
	retry    RetryPolicy
}

// call runs one JSON-RPC method under the shared retry policy and wraps the
// final failure as *ProviderRPCError.
func (c *rpcCaller) call(ctx context.Context, result any, method string, args ...any) error {
	err := c.retry.Do(ctx, func() error {
		return c.client.CallContext(ctx, result, method, args...)
	}, func(attempt int, delay time.Duration, err error) {
		LogRPCRetry(c.provider, method, attempt, delay, err)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderRPCError{Provider: c.provider, Method: method, Code: errorCode(err), Err: err}
}

// callObject decodes a result that may legitimately be null into out.
func (c *rpcCaller) callObject(ctx context.Context, out any, method string, args ...any) error {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, method, args...); err != nil {
		return err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &ProviderRPCError{Provider: c.provider, Method: method, Err: ErrNotFound}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderRPCError{Provider: c.provider, Method: method, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func (c *rpcCaller) Close() {
	c.client.Close()
}

func errorCode(err error) int {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

// isFilterNotFound matches the error nodes return for an expired or unknown filter id.
func isFilterNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "filter not found")
}

// quantity decodes hex strings (leading zeros tolerated), decimal strings and
// JSON numbers; null leaves it zero.
type quantity uint64

func (q *quantity) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		v, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid quantity %s: %w", b, err)
		}
		*q = quantity(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return err
	}
	*q = quantity(v)
	return nil
}

func parseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return 0, nil
		}
		v, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hex quantity %q: %w", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return v, nil
}
