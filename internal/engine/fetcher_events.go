package engine

import (
	"context"

	"interaction-indexer-go/internal/models"
)

// fetchEvents runs the event phase: one log query for the whole range.
// Logs outside the range, from another emitter, or removed by a reorg are dropped.
func (r *fetchRun) fetchEvents(ctx context.Context) ([]models.NormalizedEvent, error) {
	logs, err := cachedCall(ctx, r.x, r.network, "getLogs", []any{r.address, r.from, r.to},
		func(ctx context.Context, c ChainClient) ([]models.NormalizedEvent, error) {
			return c.GetLogs(ctx, r.address, r.from, r.to)
		})
	if err != nil {
		return nil, err
	}

	type logKey struct {
		tx    string
		index uint64
	}
	seen := make(map[logKey]struct{}, len(logs))
	out := make([]models.NormalizedEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed || l.BlockNumber < r.from || l.BlockNumber > r.to {
			continue
		}
		if l.ContractAddress != r.address {
			continue
		}
		k := logKey{l.TransactionHash, l.LogIndex}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// distinctHashes returns the transaction hashes of events in first-seen order.
func distinctHashes(events []models.NormalizedEvent) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if e.TransactionHash == "" {
			continue
		}
		if _, ok := seen[e.TransactionHash]; ok {
			continue
		}
		seen[e.TransactionHash] = struct{}{}
		out = append(out, e.TransactionHash)
	}
	return out
}
