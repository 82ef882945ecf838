package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = evmAddr("c0ffee")
	userAddr     = evmAddr("a11ce")
	otherAddr    = evmAddr("b0b")
)

type indexerFixture struct {
	*poolFixture
	indexer *Indexer
	cache   *ResponseCache
	clock   *fakeClock
}

func newIndexerFixture(t *testing.T, opts IndexerOptions, clients map[string][]ChainClient) *indexerFixture {
	t.Helper()
	fx := newPoolFixture(t, PoolOptions{}, clients)
	cache, clock := newTestCache(time.Minute)
	locator := NewDeploymentLocator(fx.pool, fx.registry, nil, nil)
	return &indexerFixture{
		poolFixture: fx,
		indexer:     NewIndexer(fx.pool, fx.queue, cache, locator, fx.registry, opts),
		cache:       cache,
		clock:       clock,
	}
}

func logFrom(address string, index uint64) models.NormalizedEvent {
	return models.NormalizedEvent{
		ContractAddress: address,
		Topics:          []string{"0xddf252ad"},
		Data:            "0x",
		LogIndex:        index,
	}
}

func TestFetch_EventsFirst(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(10, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.addTx(12, 1, "0x02", userAddr, otherAddr, logFrom(contractAddr, 0), logFrom(contractAddr, 1))
	chain.addTx(15, 0, "0x03", userAddr, otherAddr, logFrom(otherAddr, 0))
	chain.addTx(50, 0, "0x04", userAddr, contractAddr, logFrom(contractAddr, 0))

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 10, 20, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodEventsFirst, res.Method)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "0x01", res.Transactions[0].Hash)
	assert.Equal(t, "0x02", res.Transactions[1].Hash)
	assert.Len(t, res.Events, 3)
	assert.Equal(t, models.Summary{
		TotalTransactions: 2,
		EventTransactions: 2,
		TotalEvents:       3,
		BlocksScanned:     11,
	}, res.Summary)

	tx := res.Transactions[0]
	assert.Equal(t, models.SourceEvent, tx.Source)
	assert.Equal(t, uint64(1_700_000_010), tx.BlockTimestamp)
	assert.Equal(t, "21000000000000", tx.FeeWei.String())
	assert.Equal(t, "1000000000", tx.GasPriceWei.String())
	assert.Equal(t, uint64(21_000), tx.GasUsed)
	assert.True(t, tx.Success)
	assert.Len(t, res.Transactions[1].Events, 2)

	assert.Equal(t, 0, chain.count("GetBlockFull"), "no direct scan when events exist")
	assert.Equal(t, 2, chain.count("GetBlockHeader"))
}

func TestFetch_ResultInvariants(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	for i := uint64(0); i < 23; i++ {
		block := 100 + (i*7)%40
		chain.addTx(block, i, fmt.Sprintf("0x%02x", i), userAddr, contractAddr, logFrom(contractAddr, 0), logFrom(contractAddr, 1))
	}

	fx := newIndexerFixture(t, IndexerOptions{BatchSize: 4}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 110, 130, "lisk")
	require.NoError(t, err)
	require.NotEmpty(t, res.Transactions)

	seen := map[string]bool{}
	for i, tx := range res.Transactions {
		assert.False(t, seen[tx.Hash], "duplicate %s", tx.Hash)
		seen[tx.Hash] = true
		assert.GreaterOrEqual(t, tx.BlockNumber, uint64(110))
		assert.LessOrEqual(t, tx.BlockNumber, uint64(130))
		if i > 0 {
			assert.LessOrEqual(t, res.Transactions[i-1].BlockNumber, tx.BlockNumber)
		}
	}
	for _, ev := range res.Events {
		assert.True(t, seen[ev.TransactionHash])
	}
	assert.Equal(t, 2*len(res.Transactions), len(res.Events))
}

func TestFetch_DirectScanWhenNoEvents(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(5, 0, "0xd1", userAddr, contractAddr)
	chain.addTx(6, 0, "0xd2", userAddr, otherAddr)
	chain.addTx(7, 0, "0xd3", contractAddr, otherAddr)

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 10, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodDirectScan, res.Method)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "0xd1", res.Transactions[0].Hash)
	assert.Equal(t, "0xd3", res.Transactions[1].Hash)
	for _, tx := range res.Transactions {
		assert.Equal(t, models.SourceDirectScan, tx.Source)
		assert.NotZero(t, tx.BlockTimestamp)
	}
	assert.Equal(t, 2, res.Summary.DirectTransactions)
	assert.Equal(t, 10, chain.count("GetBlockFull"))
	assert.Equal(t, 0, chain.count("GetBlockHeader"), "timestamps come from the scanned blocks")
	assert.Equal(t, 0, chain.count("GetTransaction"))
}

func TestFetch_DirectScanMatchesCallTargets(t *testing.T) {
	contract := normalizeFelt("0x1234")
	account := normalizeFelt("0xacc")
	router := normalizeFelt("0x7777")

	chain := newFakeChain(network.FamilyCairo)
	chain.addTx(7, 0, normalizeFelt("0xaa"), account, router)
	chain.blocks[7].Transactions[0].Participants = []string{router, contract}

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"starknet": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), "0x1234", 5, 8, "starknet")
	require.NoError(t, err)

	assert.Equal(t, contract, res.Address)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, models.MethodDirectScan, res.Method)
}

func TestFetch_CeilingYieldsNoInteractions(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(300, 0, "0xd1", userAddr, contractAddr)

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 500, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodNoInteractions, res.Method)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, uint64(500), res.Summary.BlocksScanned)
	assert.Equal(t, 0, chain.count("GetBlockFull"))
}

func TestFetch_CeilingIsConfigurable(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(140, 0, "0xd1", userAddr, contractAddr)

	fx := newIndexerFixture(t, IndexerOptions{DirectScanCeiling: 200}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 150, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodDirectScan, res.Method)
	assert.Len(t, res.Transactions, 1)
	assert.Equal(t, 150, chain.count("GetBlockFull"))
}

func TestFetch_EmptyDirectScan(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(3, 0, "0xd2", userAddr, otherAddr)

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 10, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodNoInteractions, res.Method)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, 10, chain.count("GetBlockFull"))
}

func TestFetch_EventFailureFallsBackWithinCeiling(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(4, 0, "0xd1", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.logsErr = errors.New("query returned more than 10000 results")

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 10, "lisk")
	require.NoError(t, err)

	assert.Equal(t, models.MethodFallbackDirectScan, res.Method)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, models.SourceDirectScan, res.Transactions[0].Source)
	assert.Empty(t, res.Events)
}

func TestFetch_EventFailureBeyondCeiling(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.logsErr = errors.New("query timeout")

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	_, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 101, "lisk")
	require.Error(t, err)

	var indexErr *IndexingFailedError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, uint64(101), indexErr.ToBlock)
	assert.ErrorIs(t, err, ErrIndexingFailed)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, 0, chain.count("GetBlockFull"))
}

func TestFetch_BlockFailureFailsDirectScan(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.blockErr[4] = errors.New("header not found")

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	_, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 10, "lisk")
	assert.ErrorIs(t, err, ErrIndexingFailed)
}

func TestFetch_PartialHydrationDropsTransaction(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(10, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.addTx(11, 0, "0x02", userAddr, contractAddr, logFrom(contractAddr, 0))
	delete(chain.receipts, "0x02")

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 10, 11, "lisk")
	require.NoError(t, err)

	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "0x01", res.Transactions[0].Hash)
	assert.Len(t, res.Events, 2, "events are reported even when their transaction is dropped")
	assert.Equal(t, int64(1), fx.pool.Tracker().CountsByMethod()["hydrate"])
}

func TestFetch_HydrationFailsForEveryTransaction(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(10, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.addTx(11, 0, "0x02", userAddr, contractAddr, logFrom(contractAddr, 0))
	delete(chain.receipts, "0x01")
	delete(chain.receipts, "0x02")

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 10, 11, "lisk")
	require.Error(t, err)
	assert.Nil(t, res)

	var indexErr *IndexingFailedError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, uint64(10), indexErr.FromBlock)
	assert.Equal(t, uint64(11), indexErr.ToBlock)
	assert.ErrorIs(t, err, ErrIndexingFailed)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, int64(2), fx.pool.Tracker().CountsByMethod()["hydrate"])
}

func TestFetch_UsesResponseCache(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.addTx(10, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	ctx := context.Background()

	_, err := fx.indexer.FetchContractInteractions(ctx, contractAddr, 1, 20, "lisk")
	require.NoError(t, err)
	_, err = fx.indexer.FetchContractInteractions(ctx, contractAddr, 1, 20, "lisk")
	require.NoError(t, err)
	assert.Equal(t, 1, chain.count("GetLogs"))
	assert.Equal(t, 1, chain.count("GetReceipt"))

	fx.clock.Advance(time.Minute + time.Second)
	_, err = fx.indexer.FetchContractInteractions(ctx, contractAddr, 1, 20, "lisk")
	require.NoError(t, err)
	assert.Equal(t, 2, chain.count("GetLogs"))
}

func TestFetch_ChainIsolation(t *testing.T) {
	lisk := newFakeChain(network.FamilyEVM)
	sepolia := newFakeChain(network.FamilyEVM)
	lisk.addTx(10, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))
	sepolia.addTx(10, 0, "0xee", userAddr, contractAddr, logFrom(contractAddr, 0))

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{
		"lisk":    {lisk},
		"sepolia": {sepolia},
	})
	res, err := fx.indexer.FetchContractInteractions(context.Background(), contractAddr, 1, 20, "lisk")
	require.NoError(t, err)

	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "0x01", res.Transactions[0].Hash)
	assert.Equal(t, "lisk", res.Network)
	assert.Equal(t, 0, sepolia.count("GetLogs"))
	assert.Equal(t, 0, sepolia.count("GetReceipt"))
}

func TestFetch_InputValidation(t *testing.T) {
	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {newFakeChain(network.FamilyEVM)}})
	ctx := context.Background()

	_, err := fx.indexer.FetchContractInteractions(ctx, contractAddr, 20, 10, "lisk")
	assert.Error(t, err)

	_, err = fx.indexer.FetchContractInteractions(ctx, "not-an-address", 1, 10, "lisk")
	assert.Error(t, err)

	_, err = fx.indexer.FetchContractInteractions(ctx, contractAddr, 1, 10, "polygon")
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = fx.indexer.FetchContractInteractions(ctx, contractAddr, 1, 10, "sepolia")
	assert.ErrorIs(t, err, ErrConfiguration, "network without providers")
}

func TestFetchSinceDeployment(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.head = 2_000
	chain.deployedAt = 1_000
	chain.addTx(1_000, 0, "0x01", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.addTx(1_050, 0, "0x02", userAddr, contractAddr, logFrom(contractAddr, 0))
	chain.addTx(1_500, 0, "0x03", userAddr, contractAddr, logFrom(contractAddr, 0))

	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})
	res, err := fx.indexer.FetchSinceDeployment(context.Background(), contractAddr, "lisk", 100)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000), res.FromBlock)
	assert.Equal(t, uint64(1_099), res.ToBlock)
	assert.Len(t, res.Transactions, 2)
}

func TestGetCurrentBlockNumber(t *testing.T) {
	chain := newFakeChain(network.FamilyEVM)
	chain.head = 4242
	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {chain}})

	for i := 0; i < 2; i++ {
		n, err := fx.indexer.GetCurrentBlockNumber(context.Background(), "lisk")
		require.NoError(t, err)
		assert.Equal(t, uint64(4242), n)
	}
	assert.Equal(t, 2, chain.count("GetBlockNumber"), "head is never cached")
}

func TestIndexerBatchSize(t *testing.T) {
	fx := newIndexerFixture(t, IndexerOptions{}, map[string][]ChainClient{"lisk": {newFakeChain(network.FamilyEVM)}})
	assert.Equal(t, 8, fx.indexer.batchSize(), "follows the queue tier")

	fx = newIndexerFixture(t, IndexerOptions{BatchSize: 3}, map[string][]ChainClient{"lisk": {newFakeChain(network.FamilyEVM)}})
	assert.Equal(t, 3, fx.indexer.batchSize())
}
