package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Uint256 封装 uint256.Int，JSON 输出为十进制字符串.
// 专为 EVM 链金额计算设计，避免精度丢失.
type Uint256 struct {
	*uint256.Int
}

func NewUint256(n uint64) Uint256 {
	return Uint256{uint256.NewInt(n)}
}

func NewUint256FromBigInt(b *big.Int) Uint256 {
	if b == nil {
		return Uint256{uint256.NewInt(0)}
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		// 处理溢出，返回最大值
		return Uint256{new(uint256.Int).SetAllOne()}
	}
	return Uint256{u}
}

func NewUint256FromString(s string) (Uint256, bool) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Uint256{}, false
	}
	return Uint256{u}, true
}

// ParseUint256Hex accepts RPC quantities and Cairo felts, tolerating leading zeros.
func ParseUint256Hex(s string) (Uint256, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return NewUint256(0), nil
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return Uint256{}, fmt.Errorf("invalid hex quantity %q", s)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Uint256{}, fmt.Errorf("hex quantity %q overflows uint256", s)
	}
	return Uint256{u}, nil
}

// Mul returns u*v, saturating at the maximum value.
func (u Uint256) Mul(v Uint256) Uint256 {
	if u.Int == nil || v.Int == nil {
		return NewUint256(0)
	}
	out, overflow := new(uint256.Int).MulOverflow(u.Int, v.Int)
	if overflow {
		return Uint256{new(uint256.Int).SetAllOne()}
	}
	return Uint256{out}
}

// IsZero treats an unset value as zero.
func (u Uint256) IsZero() bool {
	return u.Int == nil || u.Int.IsZero()
}

// String 返回十进制字符串表示.
func (u Uint256) String() string {
	if u.Int == nil {
		return "0"
	}
	return u.Int.Dec()
}

func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Uint256) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "0x") {
		v, err := ParseUint256Hex(s)
		if err != nil {
			return err
		}
		*u = v
		return nil
	}
	v, ok := NewUint256FromString(s)
	if !ok {
		return fmt.Errorf("invalid decimal quantity %q", s)
	}
	*u = v
	return nil
}

// Source 记录交易是通过哪条路径发现的
type Source string

const (
	SourceEvent      Source = "event"
	SourceDirectScan Source = "directScan"
)

// FetchMethod 记录哪个阶段产出了数据
type FetchMethod string

const (
	MethodEventsFirst        FetchMethod = "events-first"
	MethodDirectScan         FetchMethod = "direct-scan"
	MethodFallbackDirectScan FetchMethod = "fallback-direct-scan"
	MethodNoInteractions     FetchMethod = "no-interactions"
)

// NormalizedEvent is a log entry in chain-independent form.
// (TransactionHash, LogIndex) is unique within a result.
type NormalizedEvent struct {
	ContractAddress  string   `json:"contractAddress"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      uint64   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex uint64   `json:"transactionIndex"`
	LogIndex         uint64   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// NormalizedTransaction is a hydrated transaction; Hash is unique within a result.
type NormalizedTransaction struct {
	Hash             string            `json:"hash"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	ValueWei         Uint256           `json:"valueWei"`
	GasPriceWei      Uint256           `json:"gasPriceWei"`
	GasUsed          uint64            `json:"gasUsed"`
	GasLimit         uint64            `json:"gasLimit"`
	FeeWei           Uint256           `json:"feeWei"`
	Input            string            `json:"input"`
	BlockNumber      uint64            `json:"blockNumber"`
	BlockTimestamp   uint64            `json:"blockTimestamp"`
	TransactionIndex uint64            `json:"transactionIndex"`
	Success          bool              `json:"success"`
	Nonce            uint64            `json:"nonce"`
	Events           []NormalizedEvent `json:"events"`
	Source           Source            `json:"source"`
}

type Summary struct {
	TotalTransactions  int    `json:"totalTransactions"`
	EventTransactions  int    `json:"eventTransactions"`
	DirectTransactions int    `json:"directTransactions"`
	TotalEvents        int    `json:"totalEvents"`
	BlocksScanned      uint64 `json:"blocksScanned"`
}

// InteractionResult 一次 FetchContractInteractions 调用的完整结果，归调用方所有
type InteractionResult struct {
	Network      string                  `json:"network"`
	Address      string                  `json:"address"`
	FromBlock    uint64                  `json:"fromBlock"`
	ToBlock      uint64                  `json:"toBlock"`
	Transactions []NormalizedTransaction `json:"transactions"`
	Events       []NormalizedEvent       `json:"events"`
	Summary      Summary                 `json:"summary"`
	Method       FetchMethod             `json:"method"`
	Duration     time.Duration           `json:"duration"`
}
