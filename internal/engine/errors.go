package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is; the typed errors below unwrap to them.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrProviderTimeout    = errors.New("provider timeout")
	ErrProviderRPC        = errors.New("provider rpc error")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrIndexingFailed     = errors.New("indexing failed")
	ErrNotDeployed        = errors.New("no contract activity in search range")
)

// ConfigurationError: no usable provider configured for a network.
type ConfigurationError struct {
	Network string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for network %s: %s", e.Network, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
func (e *ConfigurationError) Kind() string  { return "configuration" }

// ProviderTimeoutError: one attempt exceeded the failover timeout.
type ProviderTimeoutError struct {
	Provider  string
	Operation string
	Timeout   string
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s on %s", e.Provider, e.Timeout, e.Operation)
}

func (e *ProviderTimeoutError) Unwrap() error { return ErrProviderTimeout }
func (e *ProviderTimeoutError) Kind() string  { return "provider_timeout" }

// ProviderRPCError: malformed response or RPC-level error from one provider.
type ProviderRPCError struct {
	Provider string
	Method   string
	Code     int // JSON-RPC code or HTTP status, 0 when unknown
	Err      error
}

func (e *ProviderRPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s %s failed (code %d): %v", e.Provider, e.Method, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s %s failed: %v", e.Provider, e.Method, e.Err)
}

func (e *ProviderRPCError) Unwrap() []error { return []error{ErrProviderRPC, e.Err} }
func (e *ProviderRPCError) Kind() string    { return "provider_rpc" }

// AllProvidersFailedError: the failover chain was exhausted.
type AllProvidersFailedError struct {
	Network   string
	Operation string
	Attempts  int
	LastErr   error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all %d providers failed for %s on %s: %v", e.Attempts, e.Operation, e.Network, e.LastErr)
}

func (e *AllProvidersFailedError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrAllProvidersFailed}
	}
	return []error{ErrAllProvidersFailed, e.LastErr}
}
func (e *AllProvidersFailedError) Kind() string { return "all_providers_failed" }

// IndexingFailedError: the event phase failed and direct scan could not cover the range.
type IndexingFailedError struct {
	Network   string
	Address   string
	FromBlock uint64
	ToBlock   uint64
	Reason    string
	Err       error
}

func (e *IndexingFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "indexing %s on %s [%d, %d] failed: %s", e.Address, e.Network, e.FromBlock, e.ToBlock, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IndexingFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIndexingFailed}
	}
	return []error{ErrIndexingFailed, e.Err}
}
func (e *IndexingFailedError) Kind() string { return "indexing_failed" }

// PartialHydrationWarning is logged, never returned: the transaction is dropped
// and the rest of the result stands.
type PartialHydrationWarning struct {
	Network string
	TxHash  string
	Err     error
}

func (w *PartialHydrationWarning) Error() string {
	return fmt.Sprintf("hydration of %s on %s failed: %v", w.TxHash, w.Network, w.Err)
}

func (w *PartialHydrationWarning) Unwrap() error { return w.Err }
func (w *PartialHydrationWarning) Kind() string  { return "partial_hydration" }
