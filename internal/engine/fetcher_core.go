package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"interaction-indexer-go/internal/limiter"
	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"golang.org/x/sync/singleflight"
)

const DefaultDirectScanCeiling = 100

// IndexerOptions 抓取参数；BatchSize 为 0 时跟随请求队列的档位
type IndexerOptions struct {
	BatchSize         int
	DirectScanCeiling uint64
}

// Indexer answers "which transactions touched this contract in [from, to]".
type Indexer struct {
	pool     *ProviderPool
	queue    *limiter.RequestQueue
	cache    *ResponseCache
	locator  *DeploymentLocator
	registry *network.Registry
	metrics  *Metrics
	opts     IndexerOptions
}

func NewIndexer(pool *ProviderPool, queue *limiter.RequestQueue, cache *ResponseCache, locator *DeploymentLocator, registry *network.Registry, opts IndexerOptions) *Indexer {
	if opts.DirectScanCeiling == 0 {
		opts.DirectScanCeiling = DefaultDirectScanCeiling
	}
	return &Indexer{
		pool:     pool,
		queue:    queue,
		cache:    cache,
		locator:  locator,
		registry: registry,
		metrics:  GetMetrics(),
		opts:     opts,
	}
}

func (x *Indexer) batchSize() int {
	if x.opts.BatchSize > 0 {
		return x.opts.BatchSize
	}
	if x.queue != nil {
		if b := x.queue.Limits().BatchSize; b > 0 {
			return b
		}
	}
	return 10
}

// fetchRun is the state of one FetchContractInteractions call.
type fetchRun struct {
	x       *Indexer
	network string
	address string
	from    uint64
	to      uint64

	mu         sync.Mutex
	blockTimes map[uint64]uint64
	blockGroup singleflight.Group
}

// GetCurrentBlockNumber returns the chain head; never cached.
func (x *Indexer) GetCurrentBlockNumber(ctx context.Context, networkID string) (uint64, error) {
	return ExecuteTyped(ctx, x.pool, networkID, "getBlockNumber", func(ctx context.Context, c ChainClient) (uint64, error) {
		return c.GetBlockNumber(ctx)
	})
}

// FetchContractInteractions collects the transactions that touched address
// within [fromBlock, toBlock] on networkID. Event logs are tried first; a
// direct block scan covers contracts that emit nothing, up to the configured
// ceiling.
func (x *Indexer) FetchContractInteractions(ctx context.Context, address string, fromBlock, toBlock uint64, networkID string) (*models.InteractionResult, error) {
	start := time.Now()
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid block range [%d, %d]", fromBlock, toBlock)
	}
	spec, ok := x.registry.Lookup(networkID)
	if !ok {
		return nil, &ConfigurationError{Network: networkID, Reason: "unknown network"}
	}
	addr, err := normalizeAddressFor(spec.Family, address)
	if err != nil {
		return nil, err
	}
	if err := x.pool.EnsureProviders(ctx, networkID); err != nil {
		return nil, err
	}

	run := &fetchRun{
		x:          x,
		network:    networkID,
		address:    addr,
		from:       fromBlock,
		to:         toBlock,
		blockTimes: make(map[uint64]uint64),
	}
	span := blockSpan(fromBlock, toBlock)
	failed := func(reason string, err error) error {
		return &IndexingFailedError{Network: networkID, Address: addr, FromBlock: fromBlock, ToBlock: toBlock, Reason: reason, Err: err}
	}

	var (
		txs    []*models.NormalizedTransaction
		method models.FetchMethod
	)
	events, eventErr := run.fetchEvents(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch {
	case eventErr != nil && span > x.opts.DirectScanCeiling:
		return nil, failed("event phase failed and range exceeds the direct-scan ceiling", eventErr)
	case eventErr != nil:
		Logger.Warn("event_phase_failed_falling_back",
			"network", networkID, "address", addr, "error", eventErr.Error())
		txs, err = run.directScan(ctx)
		if err != nil {
			return nil, failed("fallback direct scan failed", err)
		}
		method = models.MethodFallbackDirectScan
	case len(events) > 0:
		txs, err = run.hydrateEvents(ctx, events)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, failed("no event transaction could be hydrated", err)
		}
		method = models.MethodEventsFirst
	case span <= x.opts.DirectScanCeiling:
		txs, err = run.directScan(ctx)
		if err != nil {
			return nil, failed("direct scan failed", err)
		}
		method = models.MethodDirectScan
		if len(txs) == 0 {
			method = models.MethodNoInteractions
		}
	default:
		method = models.MethodNoInteractions
	}

	result := run.assemble(txs, events, method, span)
	result.Duration = time.Since(start)

	x.metrics.RecordFetch(networkID, string(method), result.Duration, result.Summary.EventTransactions, result.Summary.DirectTransactions)
	LogFetchCompleted(networkID, addr, fromBlock, toBlock, string(method), len(result.Transactions), len(result.Events), result.Duration)
	return result, nil
}

// FetchSinceDeployment fetches from the contract's deployment block up to the
// head, capped at maxSpan blocks when maxSpan > 0.
func (x *Indexer) FetchSinceDeployment(ctx context.Context, address, networkID string, maxSpan uint64) (*models.InteractionResult, error) {
	if x.locator == nil {
		return nil, &ConfigurationError{Network: networkID, Reason: "deployment locator not configured"}
	}
	head, err := x.GetCurrentBlockNumber(ctx, networkID)
	if err != nil {
		return nil, err
	}
	deployed, err := x.locator.FindDeploymentBlock(ctx, address, head, networkID, 0)
	if err != nil {
		return nil, err
	}
	to := head
	if maxSpan > 0 && blockSpan(deployed, head) > maxSpan {
		to = deployed + maxSpan - 1
	}
	return x.FetchContractInteractions(ctx, address, deployed, to, networkID)
}

// assemble deduplicates by hash, enforces the block range and orders the result.
func (r *fetchRun) assemble(txs []*models.NormalizedTransaction, events []models.NormalizedEvent, method models.FetchMethod, span uint64) *models.InteractionResult {
	seen := make(map[string]struct{}, len(txs))
	out := make([]models.NormalizedTransaction, 0, len(txs))
	var summary models.Summary
	for _, tx := range txs {
		if tx == nil || tx.BlockNumber < r.from || tx.BlockNumber > r.to {
			continue
		}
		if _, dup := seen[tx.Hash]; dup {
			continue
		}
		seen[tx.Hash] = struct{}{}
		out = append(out, *tx)
		if tx.Source == models.SourceEvent {
			summary.EventTransactions++
		} else {
			summary.DirectTransactions++
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].TransactionIndex != out[j].TransactionIndex {
			return out[i].TransactionIndex < out[j].TransactionIndex
		}
		return out[i].Hash < out[j].Hash
	})

	evs := make([]models.NormalizedEvent, len(events))
	for i, e := range events {
		evs[i] = cloneEvent(e)
	}
	summary.TotalTransactions = len(out)
	summary.TotalEvents = len(evs)
	summary.BlocksScanned = span

	return &models.InteractionResult{
		Network:      r.network,
		Address:      r.address,
		FromBlock:    r.from,
		ToBlock:      r.to,
		Transactions: out,
		Events:       evs,
		Summary:      summary,
		Method:       method,
	}
}

func cloneEvent(e models.NormalizedEvent) models.NormalizedEvent {
	e.Topics = append([]string(nil), e.Topics...)
	return e
}

// cachedCall serves cacheable reads from the response cache and otherwise
// runs them through the failover executor.
func cachedCall[T any](ctx context.Context, x *Indexer, networkID, method string, params []any, op func(ctx context.Context, c ChainClient) (T, error)) (T, error) {
	if v, ok := x.cache.Get(networkID, method, params); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	v, err := ExecuteTyped(ctx, x.pool, networkID, method, op)
	if err != nil {
		return v, err
	}
	x.cache.Set(networkID, method, params, v)
	return v, nil
}
