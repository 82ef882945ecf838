package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNotFound is returned when a provider answers null for a block, tx or receipt.
var ErrNotFound = errors.New("not found")

// ChainClient is the per-provider RPC surface. One implementation per chain family.
type ChainClient interface {
	Family() network.Family
	GetBlockNumber(ctx context.Context) (uint64, error)
	// GetBlock returns the block header and, when fullTxs is set, its transactions.
	GetBlock(ctx context.Context, number uint64, fullTxs bool) (*Block, error)
	GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]models.NormalizedEvent, error)
	GetTransaction(ctx context.Context, hash string) (*models.NormalizedTransaction, error)
	GetReceipt(ctx context.Context, hash string) (*Receipt, error)
	ChainID(ctx context.Context) (string, error)
	// HasActivity reports whether address has deployed code or a nonce at block.
	HasActivity(ctx context.Context, address string, block uint64) (bool, error)
	NormalizeAddress(address string) (string, error)
	Close()
}

// Block 链无关的区块
type Block struct {
	Number       uint64
	Hash         string
	Timestamp    uint64
	Transactions []BlockTransaction
}

// BlockTransaction is a transaction as listed in a block body.
// Participants lists extra addresses the call touches (Cairo multicall targets).
type BlockTransaction struct {
	models.NormalizedTransaction
	Participants []string
}

// Receipt 交易回执中索引器需要的部分
type Receipt struct {
	TxHash               string
	BlockNumber          uint64
	Success              bool
	GasUsed              uint64
	EffectiveGasPriceWei models.Uint256
	FeeWei               models.Uint256
	Logs                 []models.NormalizedEvent
}

// ClientFactory builds the chain client for one endpoint.
type ClientFactory func(ctx context.Context, family network.Family, ep ProviderEndpoint) (ChainClient, error)

// NewClientFactory dials endpoints with go-ethereum's JSON-RPC client; every
// client shares retry and httpClient.
func NewClientFactory(retry RetryPolicy, httpClient *http.Client) ClientFactory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(ctx context.Context, family network.Family, ep ProviderEndpoint) (ChainClient, error) {
		raw, err := rpc.DialOptions(ctx, ep.URL, rpc.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", maskURL(ep.URL), err)
		}
		caller := &rpcCaller{provider: ep.Name, client: raw, retry: retry}
		switch family {
		case network.FamilyEVM:
			return &evmClient{rpcCaller: caller}, nil
		case network.FamilyCairo:
			return &cairoClient{rpcCaller: caller}, nil
		default:
			raw.Close()
			return nil, fmt.Errorf("unsupported chain family %q", family)
		}
	}
}
