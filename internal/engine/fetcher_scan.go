package engine

import (
	"context"
	"fmt"

	"interaction-indexer-go/internal/models"

	"golang.org/x/sync/errgroup"
)

// directScan walks every block of the range and keeps transactions whose
// sender, recipient or call targets include the address. Unlike hydration,
// a block that cannot be fetched fails the scan.
func (r *fetchRun) directScan(ctx context.Context) ([]*models.NormalizedTransaction, error) {
	span := blockSpan(r.from, r.to)
	if span > r.x.opts.DirectScanCeiling {
		return nil, fmt.Errorf("range of %d blocks exceeds direct-scan ceiling %d", span, r.x.opts.DirectScanCeiling)
	}
	numbers := make([]uint64, 0, span)
	for b := r.from; ; b++ {
		numbers = append(numbers, b)
		if b == r.to {
			break
		}
	}

	batch := r.x.batchSize()
	perBlock := make([][]models.NormalizedTransaction, len(numbers))
	for chunkIdx, chunk := range chunksOf(numbers, batch) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batch)
		for j, number := range chunk {
			slot := chunkIdx*batch + j
			g.Go(func() error {
				block, err := cachedCall(gctx, r.x, r.network, "getBlockWithTxs", []any{number},
					func(ctx context.Context, c ChainClient) (*Block, error) {
						return c.GetBlock(ctx, number, true)
					})
				if err != nil {
					return fmt.Errorf("block %d: %w", number, err)
				}
				r.rememberBlockTime(number, block.Timestamp)
				perBlock[slot] = r.matching(block)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	r.x.metrics.RecordDirectScanBlocks(r.network, len(numbers))

	var candidates []models.NormalizedTransaction
	for _, txs := range perBlock {
		candidates = append(candidates, txs...)
	}
	out := make([]*models.NormalizedTransaction, len(candidates))
	for _, chunk := range chunksOf(indexes(len(candidates)), batch) {
		var g errgroup.Group
		g.SetLimit(batch)
		for _, i := range chunk {
			g.Go(func() error {
				tx, err := r.hydrate(ctx, candidates[i].Hash, &candidates[i])
				if err != nil {
					r.dropped(candidates[i].Hash, err)
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
	return out, nil
}

func (r *fetchRun) matching(block *Block) []models.NormalizedTransaction {
	var out []models.NormalizedTransaction
	for _, bt := range block.Transactions {
		if !touches(bt, r.address) {
			continue
		}
		tx := bt.NormalizedTransaction
		tx.BlockNumber = block.Number
		tx.BlockTimestamp = block.Timestamp
		out = append(out, tx)
	}
	return out
}

func touches(bt BlockTransaction, address string) bool {
	if bt.From == address || bt.To == address {
		return true
	}
	for _, p := range bt.Participants {
		if p == address {
			return true
		}
	}
	return false
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
