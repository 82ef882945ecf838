package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type evmClient struct {
	*rpcCaller
}

type evmLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      quantity `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex quantity `json:"transactionIndex"`
	LogIndex         quantity `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

type evmTransaction struct {
	Hash             string         `json:"hash"`
	From             string         `json:"from"`
	To               *string        `json:"to"`
	Value            models.Uint256 `json:"value"`
	GasPrice         models.Uint256 `json:"gasPrice"`
	Gas              quantity       `json:"gas"`
	Input            string         `json:"input"`
	Nonce            quantity       `json:"nonce"`
	BlockNumber      *quantity      `json:"blockNumber"`
	TransactionIndex *quantity      `json:"transactionIndex"`
}

type evmReceipt struct {
	TransactionHash   string         `json:"transactionHash"`
	BlockNumber       quantity       `json:"blockNumber"`
	Status            *quantity      `json:"status"`
	GasUsed           quantity       `json:"gasUsed"`
	EffectiveGasPrice models.Uint256 `json:"effectiveGasPrice"`
	Logs              []evmLog       `json:"logs"`
}

type evmBlock struct {
	Number       quantity        `json:"number"`
	Hash         string          `json:"hash"`
	Timestamp    quantity        `json:"timestamp"`
	Transactions json.RawMessage `json:"transactions"`
}

func (c *evmClient) Family() network.Family { return network.FamilyEVM }

func (c *evmClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n quantity
	if err := c.call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (c *evmClient) GetBlock(ctx context.Context, number uint64, fullTxs bool) (*Block, error) {
	var raw evmBlock
	if err := c.callObject(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), fullTxs); err != nil {
		return nil, err
	}
	block := &Block{
		Number:    uint64(raw.Number),
		Hash:      strings.ToLower(raw.Hash),
		Timestamp: uint64(raw.Timestamp),
	}
	if !fullTxs || len(raw.Transactions) == 0 {
		return block, nil
	}
	var txs []evmTransaction
	if err := json.Unmarshal(raw.Transactions, &txs); err != nil {
		return nil, &ProviderRPCError{Provider: c.provider, Method: "eth_getBlockByNumber", Err: fmt.Errorf("malformed transactions: %w", err)}
	}
	block.Transactions = make([]BlockTransaction, 0, len(txs))
	for _, tx := range txs {
		n := tx.normalize()
		n.BlockNumber = block.Number
		n.BlockTimestamp = block.Timestamp
		block.Transactions = append(block.Transactions, BlockTransaction{NormalizedTransaction: n})
	}
	return block, nil
}

func (c *evmClient) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]models.NormalizedEvent, error) {
	filter := map[string]any{
		"address":   address,
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   hexutil.EncodeUint64(toBlock),
	}
	var logs []evmLog
	if err := c.call(ctx, &logs, "eth_getLogs", filter); err != nil {
		return nil, err
	}
	return normalizeEVMLogs(logs), nil
}

// GetFilterChanges polls an installed log filter. An expired or unknown
// filter yields no changes instead of an error.
func (c *evmClient) GetFilterChanges(ctx context.Context, filterID string) ([]models.NormalizedEvent, error) {
	var logs []evmLog
	if err := c.call(ctx, &logs, "eth_getFilterChanges", filterID); err != nil {
		if isFilterNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return normalizeEVMLogs(logs), nil
}

func (c *evmClient) GetTransaction(ctx context.Context, hash string) (*models.NormalizedTransaction, error) {
	var raw evmTransaction
	if err := c.callObject(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	tx := raw.normalize()
	return &tx, nil
}

func (c *evmClient) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw evmReceipt
	if err := c.callObject(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	// pre-Byzantium receipts carry a state root instead of status
	success := raw.Status == nil || *raw.Status == 1
	gasUsed := models.NewUint256(uint64(raw.GasUsed))
	return &Receipt{
		TxHash:               strings.ToLower(raw.TransactionHash),
		BlockNumber:          uint64(raw.BlockNumber),
		Success:              success,
		GasUsed:              uint64(raw.GasUsed),
		EffectiveGasPriceWei: raw.EffectiveGasPrice,
		FeeWei:               gasUsed.Mul(raw.EffectiveGasPrice),
		Logs:                 normalizeEVMLogs(raw.Logs),
	}, nil
}

func (c *evmClient) ChainID(ctx context.Context) (string, error) {
	var id quantity
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return "", err
	}
	return hexutil.EncodeUint64(uint64(id)), nil
}

func (c *evmClient) HasActivity(ctx context.Context, address string, block uint64) (bool, error) {
	tag := hexutil.EncodeUint64(block)
	var nonce quantity
	if err := c.call(ctx, &nonce, "eth_getTransactionCount", address, tag); err != nil {
		return false, err
	}
	if nonce > 0 {
		return true, nil
	}
	var code string
	if err := c.call(ctx, &code, "eth_getCode", address, tag); err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

func (c *evmClient) NormalizeAddress(address string) (string, error) {
	return normalizeEVMAddress(address)
}

func normalizeEVMAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid EVM address %q", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

func (tx evmTransaction) normalize() models.NormalizedTransaction {
	out := models.NormalizedTransaction{
		Hash:        strings.ToLower(tx.Hash),
		From:        strings.ToLower(tx.From),
		ValueWei:    tx.Value,
		GasPriceWei: tx.GasPrice,
		GasLimit:    uint64(tx.Gas),
		Input:       tx.Input,
		Nonce:       uint64(tx.Nonce),
	}
	if tx.To != nil {
		out.To = strings.ToLower(*tx.To)
	}
	if tx.BlockNumber != nil {
		out.BlockNumber = uint64(*tx.BlockNumber)
	}
	if tx.TransactionIndex != nil {
		out.TransactionIndex = uint64(*tx.TransactionIndex)
	}
	return out
}

func normalizeEVMLogs(logs []evmLog) []models.NormalizedEvent {
	out := make([]models.NormalizedEvent, 0, len(logs))
	for _, l := range logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = strings.ToLower(t)
		}
		out = append(out, models.NormalizedEvent{
			ContractAddress:  strings.ToLower(l.Address),
			Topics:           topics,
			Data:             l.Data,
			BlockNumber:      uint64(l.BlockNumber),
			TransactionHash:  strings.ToLower(l.TransactionHash),
			TransactionIndex: uint64(l.TransactionIndex),
			LogIndex:         uint64(l.LogIndex),
			Removed:          l.Removed,
		})
	}
	return out
}
