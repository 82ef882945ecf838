package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/internal/monitor"

	"golang.org/x/sync/errgroup"
)

// hydrateEvents turns event tx hashes into full transactions. Each batch is a
// sync point; a failed hash is logged and dropped. When no hash hydrates at
// all the call fails with the last error.
func (r *fetchRun) hydrateEvents(ctx context.Context, events []models.NormalizedEvent) ([]*models.NormalizedTransaction, error) {
	hashes := distinctHashes(events)
	out := make([]*models.NormalizedTransaction, len(hashes))
	batch := r.x.batchSize()

	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	for start := 0; start < len(hashes); start += batch {
		end := min(start+batch, len(hashes))
		var g errgroup.Group
		g.SetLimit(batch)
		for i := start; i < end; i++ {
			g.Go(func() error {
				tx, err := r.hydrate(ctx, hashes[i], nil)
				if err != nil {
					r.dropped(hashes[i], err)
					mu.Lock()
					failures++
					lastErr = err
					mu.Unlock()
					return nil
				}
				out[i] = tx
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if len(hashes) > 0 && failures == len(hashes) {
		return nil, fmt.Errorf("all %d event transactions failed to hydrate: %w", failures, lastErr)
	}
	return out, nil
}

// hydrate fetches the receipt of hash, and the transaction itself unless
// base already carries it (direct scan), then resolves the block timestamp.
func (r *fetchRun) hydrate(ctx context.Context, hash string, base *models.NormalizedTransaction) (*models.NormalizedTransaction, error) {
	var (
		tx      *models.NormalizedTransaction
		receipt *Receipt
	)
	g, gctx := errgroup.WithContext(ctx)
	if base == nil {
		g.Go(func() error {
			t, err := cachedCall(gctx, r.x, r.network, "getTransaction", []any{hash},
				func(ctx context.Context, c ChainClient) (*models.NormalizedTransaction, error) {
					return c.GetTransaction(ctx, hash)
				})
			tx = t
			return err
		})
	}
	g.Go(func() error {
		rc, err := cachedCall(gctx, r.x, r.network, "getReceipt", []any{hash},
			func(ctx context.Context, c ChainClient) (*Receipt, error) {
				return c.GetReceipt(ctx, hash)
			})
		receipt = rc
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if base != nil {
		tx = base
	}

	merged := *tx
	if merged.BlockNumber == 0 {
		merged.BlockNumber = receipt.BlockNumber
	}
	if merged.BlockNumber < r.from || merged.BlockNumber > r.to {
		return nil, fmt.Errorf("transaction mined in block %d, outside [%d, %d]", merged.BlockNumber, r.from, r.to)
	}
	merged.GasUsed = receipt.GasUsed
	merged.Success = receipt.Success
	merged.FeeWei = receipt.FeeWei
	if merged.GasPriceWei.IsZero() && !receipt.EffectiveGasPriceWei.IsZero() {
		merged.GasPriceWei = receipt.EffectiveGasPriceWei
	}
	merged.Events = make([]models.NormalizedEvent, len(receipt.Logs))
	for i, l := range receipt.Logs {
		merged.Events[i] = cloneEvent(l)
	}
	merged.Source = models.SourceEvent
	if base != nil {
		merged.Source = models.SourceDirectScan
	}

	if merged.BlockTimestamp == 0 {
		ts, err := r.blockTimestamp(ctx, merged.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block %d timestamp: %w", merged.BlockNumber, err)
		}
		merged.BlockTimestamp = ts
	}
	return &merged, nil
}

// blockTimestamp resolves a block's timestamp once per call; concurrent
// lookups of the same block share one request.
func (r *fetchRun) blockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	r.mu.Lock()
	ts, ok := r.blockTimes[number]
	r.mu.Unlock()
	if ok {
		return ts, nil
	}

	v, err, _ := r.blockGroup.Do(strconv.FormatUint(number, 10), func() (any, error) {
		block, err := cachedCall(ctx, r.x, r.network, "getBlockHeader", []any{number},
			func(ctx context.Context, c ChainClient) (*Block, error) {
				return c.GetBlock(ctx, number, false)
			})
		if err != nil {
			return uint64(0), err
		}
		r.rememberBlockTime(number, block.Timestamp)
		return block.Timestamp, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (r *fetchRun) rememberBlockTime(number, ts uint64) {
	r.mu.Lock()
	r.blockTimes[number] = ts
	r.mu.Unlock()
}

func (r *fetchRun) dropped(hash string, err error) {
	w := &PartialHydrationWarning{Network: r.network, TxHash: hash, Err: err}
	LogPartialHydration(w)
	r.x.metrics.RecordHydrationFailure(r.network)
	r.x.pool.Tracker().Track(w, monitor.ErrorContext{Network: r.network, Method: "hydrate"})
}
