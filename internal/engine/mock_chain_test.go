package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"interaction-indexer-go/internal/limiter"
	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChainClient for testing the provider pool
type MockChainClient struct {
	mock.Mock
	family network.Family
}

func newMockClient(family network.Family) *MockChainClient {
	return &MockChainClient{family: family}
}

func (m *MockChainClient) Family() network.Family { return m.family }

func (m *MockChainClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) GetBlock(ctx context.Context, number uint64, fullTxs bool) (*Block, error) {
	args := m.Called(ctx, number, fullTxs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Block), args.Error(1)
}

func (m *MockChainClient) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]models.NormalizedEvent, error) {
	args := m.Called(ctx, address, fromBlock, toBlock)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.NormalizedEvent), args.Error(1)
}

func (m *MockChainClient) GetTransaction(ctx context.Context, hash string) (*models.NormalizedTransaction, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NormalizedTransaction), args.Error(1)
}

func (m *MockChainClient) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Receipt), args.Error(1)
}

func (m *MockChainClient) ChainID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) HasActivity(ctx context.Context, address string, block uint64) (bool, error) {
	args := m.Called(ctx, address, block)
	return args.Bool(0), args.Error(1)
}

func (m *MockChainClient) NormalizeAddress(address string) (string, error) {
	return normalizeAddressFor(m.family, address)
}

func (m *MockChainClient) Close() {}

// fakeChain is an in-memory chain. GetLogs returns every stored log
// unfiltered so callers' range and address filtering is exercised.
type fakeChain struct {
	mu       sync.Mutex
	family   network.Family
	head     uint64
	blocks   map[uint64]*Block
	logs     []models.NormalizedEvent
	txs      map[string]models.NormalizedTransaction
	receipts map[string]Receipt
	calls    map[string]int

	deployedAt uint64 // HasActivity is true from this block on
	logsErr    error
	blockErr   map[uint64]error
}

func newFakeChain(family network.Family) *fakeChain {
	return &fakeChain{
		family:     family,
		head:       1_000,
		blocks:     make(map[uint64]*Block),
		txs:        make(map[string]models.NormalizedTransaction),
		receipts:   make(map[string]Receipt),
		calls:      make(map[string]int),
		deployedAt: 1,
		blockErr:   make(map[uint64]error),
	}
}

// addTx mines a transaction into block; logs are attributed to it.
func (f *fakeChain) addTx(block, index uint64, hash, from, to string, logs ...models.NormalizedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[block]
	if !ok {
		b = &Block{Number: block, Hash: fmt.Sprintf("0xb%d", block), Timestamp: 1_700_000_000 + block}
		f.blocks[block] = b
	}
	tx := models.NormalizedTransaction{
		Hash:             hash,
		From:             from,
		To:               to,
		ValueWei:         models.NewUint256(1),
		GasPriceWei:      models.NewUint256(0),
		GasLimit:         50_000,
		BlockNumber:      block,
		TransactionIndex: index,
	}
	b.Transactions = append(b.Transactions, BlockTransaction{NormalizedTransaction: tx})
	f.txs[hash] = tx

	for i := range logs {
		logs[i].TransactionHash = hash
		logs[i].TransactionIndex = index
		if logs[i].BlockNumber == 0 {
			logs[i].BlockNumber = block
		}
	}
	f.logs = append(f.logs, logs...)
	f.receipts[hash] = Receipt{
		TxHash:               hash,
		BlockNumber:          block,
		Success:              true,
		GasUsed:              21_000,
		EffectiveGasPriceWei: models.NewUint256(1_000_000_000),
		FeeWei:               models.NewUint256(21_000 * 1_000_000_000),
		Logs:                 logs,
	}
}

func (f *fakeChain) ensureBlock(number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blocks[number]; !ok {
		f.blocks[number] = &Block{Number: number, Hash: fmt.Sprintf("0xb%d", number), Timestamp: 1_700_000_000 + number}
	}
}

func (f *fakeChain) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeChain) hit(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *fakeChain) Family() network.Family { return f.family }

func (f *fakeChain) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.hit("GetBlockNumber")
	return f.head, nil
}

func (f *fakeChain) GetBlock(ctx context.Context, number uint64, fullTxs bool) (*Block, error) {
	if fullTxs {
		f.hit("GetBlockFull")
	} else {
		f.hit("GetBlockHeader")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.blockErr[number]; err != nil {
		return nil, err
	}
	b, ok := f.blocks[number]
	if !ok {
		// empty block
		return &Block{Number: number, Hash: fmt.Sprintf("0xb%d", number), Timestamp: 1_700_000_000 + number}, nil
	}
	out := &Block{Number: b.Number, Hash: b.Hash, Timestamp: b.Timestamp}
	if fullTxs {
		out.Transactions = append([]BlockTransaction(nil), b.Transactions...)
	}
	return out, nil
}

func (f *fakeChain) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]models.NormalizedEvent, error) {
	f.hit("GetLogs")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return append([]models.NormalizedEvent(nil), f.logs...), nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, hash string) (*models.NormalizedTransaction, error) {
	f.hit("GetTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, &ProviderRPCError{Provider: "fake", Method: "getTransaction", Err: ErrNotFound}
	}
	return &tx, nil
}

func (f *fakeChain) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	f.hit("GetReceipt")
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, &ProviderRPCError{Provider: "fake", Method: "getReceipt", Err: ErrNotFound}
	}
	return &r, nil
}

func (f *fakeChain) ChainID(ctx context.Context) (string, error) {
	return "0x0", nil
}

func (f *fakeChain) HasActivity(ctx context.Context, address string, block uint64) (bool, error) {
	f.hit("HasActivity")
	return block >= f.deployedAt, nil
}

func (f *fakeChain) NormalizeAddress(address string) (string, error) {
	return normalizeAddressFor(f.family, address)
}

func (f *fakeChain) Close() {}

// testURL builds an endpoint URL that passes the network's signature check.
func testURL(networkID string, i int) string {
	host := map[string]string{
		"ethereum":         "eth",
		"sepolia":          "sepolia",
		"lisk":             "lisk",
		"lisk-sepolia":     "lisk-sepolia",
		"starknet":         "starknet",
		"starknet-sepolia": "starknet-sepolia",
	}[networkID]
	return fmt.Sprintf("https://rpc-%d.%s.example.org/v1", i, host)
}

// poolFixture wires clients into a ProviderPool; clients[network][i] answers testURL(network, i).
type poolFixture struct {
	registry *network.Registry
	queue    *limiter.RequestQueue
	pool     *ProviderPool
}

func newPoolFixture(t *testing.T, opts PoolOptions, clients map[string][]ChainClient) *poolFixture {
	t.Helper()
	registry, err := network.NewRegistry(network.Defaults())
	require.NoError(t, err)

	queue, err := limiter.NewRequestQueue(limiter.TierEnterprise, map[limiter.Tier]limiter.TierLimits{
		limiter.TierEnterprise: {MaxConcurrent: 64, MaxPerWindow: 1_000_000, Window: time.Minute, BatchSize: 8},
	})
	require.NoError(t, err)

	byURL := make(map[string]ChainClient)
	var endpoints []ProviderEndpoint
	for networkID, list := range clients {
		for i, c := range list {
			url := testURL(networkID, i)
			byURL[url] = c
			endpoints = append(endpoints, ProviderEndpoint{
				Name:      fmt.Sprintf("%s-%d", networkID, i),
				URL:       url,
				Priority:  i,
				NetworkID: networkID,
			})
		}
	}
	factory := func(ctx context.Context, family network.Family, ep ProviderEndpoint) (ChainClient, error) {
		c, ok := byURL[ep.URL]
		if !ok {
			return nil, errors.New("no client for " + ep.URL)
		}
		return c, nil
	}
	if opts.FailoverTimeout == 0 {
		opts.FailoverTimeout = 2 * time.Second
	}
	pool := NewProviderPool(registry, endpoints, factory, queue, nil, opts)
	t.Cleanup(pool.Close)
	return &poolFixture{registry: registry, queue: queue, pool: pool}
}

func evmAddr(suffix string) string {
	return "0x" + strings.Repeat("0", 40-len(suffix)) + suffix
}
