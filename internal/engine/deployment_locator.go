package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"interaction-indexer-go/pkg/network"
)

// monthDuration approximates a month as 30 days.
const monthDuration = 30 * 24 * time.Hour

// DeploymentLocator finds the first block at which a contract exists.
type DeploymentLocator struct {
	pool      *ProviderPool
	registry  *network.Registry
	store     *DeploymentStore // optional
	explorers map[string]*ExplorerClient
	metrics   *Metrics
}

func NewDeploymentLocator(pool *ProviderPool, registry *network.Registry, store *DeploymentStore, explorers map[string]*ExplorerClient) *DeploymentLocator {
	if explorers == nil {
		explorers = make(map[string]*ExplorerClient)
	}
	return &DeploymentLocator{
		pool:      pool,
		registry:  registry,
		store:     store,
		explorers: explorers,
		metrics:   GetMetrics(),
	}
}

// FindDeploymentBlock returns the deployment block of address within
// [lowerBound, currentBlock]. A contract deployed before lowerBound yields
// lowerBound. Returns ErrNotDeployed when address has no activity at currentBlock.
func (l *DeploymentLocator) FindDeploymentBlock(ctx context.Context, address string, currentBlock uint64, networkID string, lowerBound uint64) (uint64, error) {
	if lowerBound > currentBlock {
		return 0, fmt.Errorf("lower bound %d above current block %d", lowerBound, currentBlock)
	}
	spec, ok := l.registry.Lookup(networkID)
	if !ok {
		return 0, &ConfigurationError{Network: networkID, Reason: "unknown network"}
	}
	addr, err := normalizeAddressFor(spec.Family, address)
	if err != nil {
		return 0, err
	}

	if l.store != nil {
		block, found, err := l.store.Get(networkID, addr)
		if err != nil {
			Logger.Warn("deployment_store_read_failed", slog.String("error", err.Error()))
		} else if found && block <= currentBlock {
			l.metrics.RecordDeploymentLookup("store")
			return max(block, lowerBound), nil
		}
	}

	if block, ok := l.fromExplorer(ctx, networkID, addr); ok && block <= currentBlock {
		l.metrics.RecordDeploymentLookup("explorer")
		l.persist(networkID, addr, block)
		return max(block, lowerBound), nil
	}

	block, err := BinarySearchDeployment(ctx, lowerBound, currentBlock, func(ctx context.Context, b uint64) (bool, error) {
		return l.CheckBlockForActivity(ctx, addr, b, networkID)
	})
	if err != nil {
		return 0, err
	}
	l.metrics.RecordDeploymentLookup("binary_search")
	// at the lower bound the contract may be older than the window
	if lowerBound == 0 || block > lowerBound {
		l.persist(networkID, addr, block)
	}
	return block, nil
}

// FindDeploymentBlockBounded searches only the last months of history,
// estimated from the network's average block time.
func (l *DeploymentLocator) FindDeploymentBlockBounded(ctx context.Context, address string, currentBlock uint64, networkID string, months int) (uint64, error) {
	spec, ok := l.registry.Lookup(networkID)
	if !ok {
		return 0, &ConfigurationError{Network: networkID, Reason: "unknown network"}
	}
	lower := uint64(0)
	if months > 0 && spec.BlockTime > 0 {
		window := uint64(time.Duration(months) * monthDuration / spec.BlockTime)
		lower = saturatingSub(currentBlock, window)
	}
	return l.FindDeploymentBlock(ctx, address, currentBlock, networkID, lower)
}

// CheckBlockForActivity reports whether address had code or a nonce at block.
func (l *DeploymentLocator) CheckBlockForActivity(ctx context.Context, address string, block uint64, networkID string) (bool, error) {
	return ExecuteTyped(ctx, l.pool, networkID, "hasActivity", func(ctx context.Context, c ChainClient) (bool, error) {
		return c.HasActivity(ctx, address, block)
	})
}

// BinarySearchDeployment returns the lowest block in [low, high] for which
// probe is true, assuming probe is monotonic.
func BinarySearchDeployment(ctx context.Context, low, high uint64, probe func(ctx context.Context, block uint64) (bool, error)) (uint64, error) {
	if low > high {
		return 0, fmt.Errorf("invalid search range [%d, %d]", low, high)
	}
	active, err := probe(ctx, high)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, ErrNotDeployed
	}
	lo, hi := low, high
	for lo < hi {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mid := lo + (hi-lo)/2
		active, err := probe(ctx, mid)
		if err != nil {
			return 0, err
		}
		if active {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// fromExplorer resolves the creation block through the explorer API, falling
// back to the creation transaction when the explorer omits the block number.
func (l *DeploymentLocator) fromExplorer(ctx context.Context, networkID, address string) (uint64, bool) {
	ex, ok := l.explorers[networkID]
	if !ok || ex == nil {
		return 0, false
	}
	creation, err := ex.ContractCreation(ctx, address)
	if err != nil {
		Logger.Debug("explorer_lookup_failed",
			slog.String("network", networkID),
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if creation == nil {
		return 0, false
	}
	if creation.BlockNumber > 0 {
		return creation.BlockNumber, true
	}
	receipt, err := ExecuteTyped(ctx, l.pool, networkID, "getReceipt", func(ctx context.Context, c ChainClient) (*Receipt, error) {
		return c.GetReceipt(ctx, creation.TxHash)
	})
	if err != nil || receipt.BlockNumber == 0 {
		return 0, false
	}
	return receipt.BlockNumber, true
}

func (l *DeploymentLocator) persist(networkID, address string, block uint64) {
	if l.store == nil {
		return
	}
	if err := l.store.Put(networkID, address, block); err != nil {
		Logger.Warn("deployment_store_write_failed", slog.String("error", err.Error()))
	}
}

func normalizeAddressFor(family network.Family, address string) (string, error) {
	switch family {
	case network.FamilyEVM:
		return normalizeEVMAddress(address)
	case network.FamilyCairo:
		return normalizeCairoAddress(address)
	default:
		return "", errors.New("unsupported chain family " + string(family))
	}
}
