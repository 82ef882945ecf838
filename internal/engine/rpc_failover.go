package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"interaction-indexer-go/internal/monitor"
	"interaction-indexer-go/internal/recovery"
)

var errNoHealthyProviders = errors.New("no healthy providers")

// Operation is one unit of provider work run by the failover executor.
type Operation func(ctx context.Context, client ChainClient) (any, error)

// Execute runs op against the network's healthy providers in priority order,
// trying each provider at most once. Every attempt is admitted through the
// request queue and bounded by the failover timeout.
func (p *ProviderPool) Execute(ctx context.Context, networkID, opName string, op Operation) (any, error) {
	np, err := p.ensure(ctx, networkID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempts := 0
	for _, n := range np.candidates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		start := time.Now()
		result, err := p.attempt(ctx, np, n, opName, op)
		latency := time.Since(start)
		if err == nil {
			p.metrics.RecordRPCAttempt(networkID, n.endpoint.Name, opName, latency, nil)
			p.recordOutcome(np, n, true, latency, nil)
			return result, nil
		}
		// caller gave up; the provider is not at fault
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.metrics.RecordRPCAttempt(networkID, n.endpoint.Name, opName, latency, err)
		p.recordOutcome(np, n, false, latency, err)
		p.tracker.Track(err, monitor.ErrorContext{Network: networkID, Provider: n.endpoint.Name, Method: opName})
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errNoHealthyProviders
	}
	exhausted := &AllProvidersFailedError{Network: networkID, Operation: opName, Attempts: attempts, LastErr: lastErr}
	p.metrics.RecordFailoverExhausted(networkID, opName)
	LogFailoverExhausted(networkID, opName, attempts, lastErr)
	return nil, exhausted
}

// ExecuteTyped is Execute with a typed result.
func ExecuteTyped[T any](ctx context.Context, p *ProviderPool, networkID, opName string, op func(ctx context.Context, client ChainClient) (T, error)) (T, error) {
	var zero T
	v, err := p.Execute(ctx, networkID, opName, func(ctx context.Context, c ChainClient) (any, error) {
		return op(ctx, c)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", opName, v)
	}
	return t, nil
}

func (p *ProviderPool) attempt(ctx context.Context, np *networkPool, n *rpcNode, opName string, op Operation) (any, error) {
	var result any
	run := func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := raceTimeout(ctx, p.opts.FailoverTimeout, n.endpoint.Name, opName, func(ctx context.Context) (any, error) {
			return op(ctx, n.client)
		})
		result = v
		return err
	}
	if p.queue == nil {
		return result, run(ctx)
	}
	err := p.queue.Do(ctx, np.spec.ID, run)
	return result, err
}

// raceTimeout 超时后立即返回，慢节点的调用在后台被 ctx 取消
func raceTimeout(ctx context.Context, timeout time.Duration, provider, opName string, fn func(context.Context) (any, error)) (any, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		o.err = recovery.Do(opName, func() error {
			v, err := fn(actx)
			o.value = v
			return err
		})
		done <- o
	}()

	timedOut := func() error {
		return &ProviderTimeoutError{Provider: provider, Operation: opName, Timeout: timeout.String()}
	}
	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timedOut()
		}
		return o.value, o.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timedOut()
	}
}
