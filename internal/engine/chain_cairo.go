package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"interaction-indexer-go/internal/models"
	"interaction-indexer-go/pkg/network"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	cairoEventsChunkSize = 1000
	cairoMaxEventPages   = 10000

	// Starknet JSON-RPC error codes
	cairoContractNotFound = 20
)

type cairoClient struct {
	*rpcCaller
}

type cairoBlockID struct {
	BlockNumber uint64 `json:"block_number"`
}

type cairoEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	BlockNumber     quantity `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`

	// 仅 starknet_getEvents 返回（RPC 0.8+），event_index 为事件在交易回执中的位置
	TransactionIndex *quantity `json:"transaction_index"`
	EventIndex       *quantity `json:"event_index"`
}

type cairoEventsPage struct {
	Events            []cairoEvent `json:"events"`
	ContinuationToken string       `json:"continuation_token"`
}

type cairoTransaction struct {
	TransactionHash string   `json:"transaction_hash"`
	Type            string   `json:"type"`
	Version         string   `json:"version"`
	SenderAddress   string   `json:"sender_address"`
	ContractAddress string   `json:"contract_address"`
	Calldata        []string `json:"calldata"`
	Nonce           string   `json:"nonce"`
}

type cairoReceipt struct {
	TransactionHash string          `json:"transaction_hash"`
	BlockNumber     quantity        `json:"block_number"`
	ExecutionStatus string          `json:"execution_status"`
	Status          string          `json:"status"`
	ActualFee       json.RawMessage `json:"actual_fee"`
	Events          []cairoEvent    `json:"events"`
}

type cairoBlock struct {
	BlockNumber  quantity        `json:"block_number"`
	BlockHash    string          `json:"block_hash"`
	Timestamp    quantity        `json:"timestamp"`
	Transactions json.RawMessage `json:"transactions"`
}

func (c *cairoClient) Family() network.Family { return network.FamilyCairo }

func (c *cairoClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n quantity
	if err := c.call(ctx, &n, "starknet_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (c *cairoClient) GetBlock(ctx context.Context, number uint64, fullTxs bool) (*Block, error) {
	method := "starknet_getBlockWithTxHashes"
	if fullTxs {
		method = "starknet_getBlockWithTxs"
	}
	var raw cairoBlock
	if err := c.callObject(ctx, &raw, method, cairoBlockID{BlockNumber: number}); err != nil {
		return nil, err
	}
	block := &Block{
		Number:    uint64(raw.BlockNumber),
		Hash:      normalizeFelt(raw.BlockHash),
		Timestamp: uint64(raw.Timestamp),
	}
	if block.Number == 0 && number != 0 {
		block.Number = number
	}
	if !fullTxs || len(raw.Transactions) == 0 {
		return block, nil
	}
	var txs []cairoTransaction
	if err := json.Unmarshal(raw.Transactions, &txs); err != nil {
		return nil, &ProviderRPCError{Provider: c.provider, Method: method, Err: fmt.Errorf("malformed transactions: %w", err)}
	}
	block.Transactions = make([]BlockTransaction, 0, len(txs))
	for i, tx := range txs {
		n := tx.normalize()
		n.BlockNumber = block.Number
		n.BlockTimestamp = block.Timestamp
		n.TransactionIndex = uint64(i)
		block.Transactions = append(block.Transactions, BlockTransaction{
			NormalizedTransaction: n,
			Participants:          multicallTargets(tx.Calldata),
		})
	}
	return block, nil
}

// GetLogs pages through starknet_getEvents until the continuation token runs out.
func (c *cairoClient) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]models.NormalizedEvent, error) {
	var out []models.NormalizedEvent
	perTx := make(map[string]uint64)
	token := ""
	for page := 0; page < cairoMaxEventPages; page++ {
		filter := map[string]any{
			"from_block": cairoBlockID{BlockNumber: fromBlock},
			"to_block":   cairoBlockID{BlockNumber: toBlock},
			"address":    address,
			"chunk_size": cairoEventsChunkSize,
		}
		if token != "" {
			filter["continuation_token"] = token
		}
		var resp cairoEventsPage
		if err := c.call(ctx, &resp, "starknet_getEvents", filter); err != nil {
			return nil, err
		}
		for _, ev := range resp.Events {
			if ev.EventIndex != nil {
				out = append(out, ev.normalize(uint64(*ev.EventIndex)))
				continue
			}
			// older nodes omit event_index; number this emitter's events per transaction
			hash := normalizeFelt(ev.TransactionHash)
			idx := perTx[hash]
			perTx[hash] = idx + 1
			out = append(out, ev.normalize(idx))
		}
		if resp.ContinuationToken == "" {
			return out, nil
		}
		token = resp.ContinuationToken
	}
	return nil, &ProviderRPCError{Provider: c.provider, Method: "starknet_getEvents", Err: fmt.Errorf("more than %d pages", cairoMaxEventPages)}
}

func (c *cairoClient) GetTransaction(ctx context.Context, hash string) (*models.NormalizedTransaction, error) {
	var raw cairoTransaction
	if err := c.callObject(ctx, &raw, "starknet_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if raw.TransactionHash == "" {
		raw.TransactionHash = hash
	}
	tx := raw.normalize()
	return &tx, nil
}

func (c *cairoClient) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw cairoReceipt
	if err := c.callObject(ctx, &raw, "starknet_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	fee, err := parseCairoFee(raw.ActualFee)
	if err != nil {
		return nil, &ProviderRPCError{Provider: c.provider, Method: "starknet_getTransactionReceipt", Err: err}
	}
	txHash := normalizeFelt(raw.TransactionHash)
	if raw.TransactionHash == "" {
		txHash = normalizeFelt(hash)
	}
	logs := make([]models.NormalizedEvent, 0, len(raw.Events))
	for i, ev := range raw.Events {
		ev.TransactionHash = txHash
		ev.BlockNumber = raw.BlockNumber
		logs = append(logs, ev.normalize(uint64(i)))
	}
	return &Receipt{
		TxHash:      txHash,
		BlockNumber: uint64(raw.BlockNumber),
		Success:     raw.ExecutionStatus != "REVERTED" && raw.Status != "REJECTED",
		FeeWei:      fee,
		Logs:        logs,
	}, nil
}

func (c *cairoClient) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, &id, "starknet_chainId"); err != nil {
		return "", err
	}
	return network.NormalizeChainID(id), nil
}

// HasActivity reports whether a class is deployed at address as of block.
func (c *cairoClient) HasActivity(ctx context.Context, address string, block uint64) (bool, error) {
	var classHash string
	err := c.call(ctx, &classHash, "starknet_getClassHashAt", cairoBlockID{BlockNumber: block}, address)
	if err == nil {
		return classHash != "", nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == cairoContractNotFound {
		return false, nil
	}
	return false, err
}

func (c *cairoClient) NormalizeAddress(address string) (string, error) {
	return normalizeCairoAddress(address)
}

func normalizeCairoAddress(address string) (string, error) {
	digits := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	if digits == "" || len(strings.TrimLeft(digits, "0")) > 64 {
		return "", fmt.Errorf("invalid Cairo address %q", address)
	}
	if _, ok := new(big.Int).SetString(digits, 16); !ok {
		return "", fmt.Errorf("invalid Cairo address %q", address)
	}
	return normalizeFelt(address), nil
}

// normalizeFelt pads a felt to 0x + 64 lower-case hex digits; non-hex input is lower-cased as is.
func normalizeFelt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	v, err := models.ParseUint256Hex(s)
	if err != nil {
		return strings.ToLower(s)
	}
	return fmt.Sprintf("0x%064x", v.ToBig())
}

func (ev cairoEvent) normalize(logIndex uint64) models.NormalizedEvent {
	keys := make([]string, len(ev.Keys))
	for i, k := range ev.Keys {
		keys[i] = normalizeFelt(k)
	}
	var data strings.Builder
	data.WriteString("0x")
	for _, d := range ev.Data {
		data.WriteString(strings.TrimPrefix(normalizeFelt(d), "0x"))
	}
	out := models.NormalizedEvent{
		ContractAddress: normalizeFelt(ev.FromAddress),
		Topics:          keys,
		Data:            data.String(),
		BlockNumber:     uint64(ev.BlockNumber),
		TransactionHash: normalizeFelt(ev.TransactionHash),
		LogIndex:        logIndex,
	}
	if ev.TransactionIndex != nil {
		out.TransactionIndex = uint64(*ev.TransactionIndex)
	}
	return out
}

func (tx cairoTransaction) normalize() models.NormalizedTransaction {
	out := models.NormalizedTransaction{
		Hash:        normalizeFelt(tx.TransactionHash),
		ValueWei:    models.NewUint256(0),
		GasPriceWei: models.NewUint256(0),
	}
	switch tx.Type {
	case "L1_HANDLER", "DEPLOY", "DEPLOY_ACCOUNT":
		out.To = normalizeFelt(tx.ContractAddress)
	default:
		if tx.SenderAddress == "" {
			// INVOKE v0 names the called contract directly
			out.To = normalizeFelt(tx.ContractAddress)
			break
		}
		out.From = normalizeFelt(tx.SenderAddress)
		if targets := multicallTargets(tx.Calldata); len(targets) > 0 {
			out.To = targets[0]
		}
	}
	if nonce, err := models.ParseUint256Hex(tx.Nonce); err == nil && nonce.IsUint64() {
		out.Nonce = nonce.Uint64()
	}
	if len(tx.Calldata) > 0 {
		felts := make([]string, len(tx.Calldata))
		for i, f := range tx.Calldata {
			felts[i] = normalizeFelt(f)
		}
		out.Input = strings.Join(felts, ",")
	}
	return out
}

// multicallTargets decodes the call array of an account __execute__ calldata:
// [n_calls, to, selector, len, ...args] repeated. Returns nil when the layout
// does not parse.
func multicallTargets(calldata []string) []string {
	if len(calldata) < 2 {
		return nil
	}
	n, ok := feltToInt(calldata[0])
	if !ok || n == 0 || n > len(calldata) {
		return nil
	}
	targets := make([]string, 0, n)
	pos := 1
	for i := 0; i < n; i++ {
		if pos+2 >= len(calldata) {
			return firstTarget(calldata, targets)
		}
		targets = append(targets, normalizeFelt(calldata[pos]))
		argc, ok := feltToInt(calldata[pos+2])
		if !ok {
			return firstTarget(calldata, targets)
		}
		pos += 3 + argc
	}
	return targets
}

func firstTarget(calldata, parsed []string) []string {
	if len(parsed) > 0 {
		return parsed
	}
	return []string{normalizeFelt(calldata[1])}
}

func feltToInt(s string) (int, bool) {
	v, err := models.ParseUint256Hex(s)
	if err != nil || !v.IsUint64() || v.Uint64() > 1<<20 {
		return 0, false
	}
	return int(v.Uint64()), true
}

// parseCairoFee accepts both the v0.7 {amount, unit} object and the older bare felt.
func parseCairoFee(raw json.RawMessage) (models.Uint256, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.NewUint256(0), nil
	}
	var obj struct {
		Amount string `json:"amount"`
	}
	if raw[0] == '{' {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return models.Uint256{}, fmt.Errorf("malformed actual_fee: %w", err)
		}
		return models.ParseUint256Hex(obj.Amount)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Uint256{}, fmt.Errorf("malformed actual_fee: %w", err)
	}
	return models.ParseUint256Hex(s)
}
