package network

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Family 链家族：决定使用哪一种 Chain Client
type Family string

const (
	FamilyEVM   Family = "evm"
	FamilyCairo Family = "cairo"
)

func (f Family) Valid() bool {
	return f == FamilyEVM || f == FamilyCairo
}

// 预定义的 Chain ID（十六进制，EVM 与 Starknet 统一用字符串表示）
const (
	MainnetChainID         = "0x1"
	SepoliaChainID         = "0xaa36a7"
	LiskChainID            = "0x46f"
	LiskSepoliaChainID     = "0x106a"
	AnvilChainID           = "0x7a69"
	StarknetMainnetChainID = "0x534e5f4d41494e"
	StarknetSepoliaChainID = "0x534e5f5345504f4c4941"
)

// Spec describes one network the indexer can talk to.
type Spec struct {
	ID        string
	Name      string
	Family    Family
	ChainID   string
	BlockTime time.Duration
	// URLTokens must all appear in an endpoint URL for it to be accepted.
	URLTokens []string
}

var defaults = []Spec{
	{ID: "ethereum", Name: "Ethereum Mainnet", Family: FamilyEVM, ChainID: MainnetChainID, BlockTime: 12 * time.Second},
	{ID: "sepolia", Name: "Sepolia Testnet", Family: FamilyEVM, ChainID: SepoliaChainID, BlockTime: 12 * time.Second, URLTokens: []string{"sepolia"}},
	{ID: "lisk", Name: "Lisk Mainnet", Family: FamilyEVM, ChainID: LiskChainID, BlockTime: 2 * time.Second, URLTokens: []string{"lisk"}},
	{ID: "lisk-sepolia", Name: "Lisk Sepolia", Family: FamilyEVM, ChainID: LiskSepoliaChainID, BlockTime: 2 * time.Second, URLTokens: []string{"lisk", "sepolia"}},
	{ID: "starknet", Name: "Starknet Mainnet", Family: FamilyCairo, ChainID: StarknetMainnetChainID, BlockTime: 30 * time.Second, URLTokens: []string{"starknet"}},
	{ID: "starknet-sepolia", Name: "Starknet Sepolia", Family: FamilyCairo, ChainID: StarknetSepoliaChainID, BlockTime: 30 * time.Second, URLTokens: []string{"starknet", "sepolia"}},
}

// Defaults returns a copy of the built-in network table.
func Defaults() []Spec {
	out := make([]Spec, len(defaults))
	for i, s := range defaults {
		s.URLTokens = append([]string(nil), s.URLTokens...)
		out[i] = s
	}
	return out
}

// Registry is an immutable lookup table of network specs.
type Registry struct {
	specs map[string]Spec
}

func NewRegistry(specs []Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("network spec without id")
		}
		if !s.Family.Valid() {
			return nil, fmt.Errorf("network %s: unknown family %q", s.ID, s.Family)
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("network %s defined twice", s.ID)
		}
		s.ChainID = NormalizeChainID(s.ChainID)
		r.specs[s.ID] = s
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns the registered network ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Name 返回 Chain ID 对应的网络名称
func (r *Registry) Name(chainID string) string {
	chainID = NormalizeChainID(chainID)
	for _, id := range r.IDs() {
		if s := r.specs[id]; s.ChainID != "" && s.ChainID == chainID {
			return s.Name
		}
	}
	if chainID == AnvilChainID {
		return "Anvil Local"
	}
	return fmt.Sprintf("Unknown Network (Chain ID: %s)", chainID)
}

// foreignTokens lists the URL tokens that identify other networks but not target.
func (r *Registry) foreignTokens(target Spec) []string {
	own := make(map[string]struct{}, len(target.URLTokens))
	for _, t := range target.URLTokens {
		own[strings.ToLower(t)] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, id := range r.IDs() {
		if id == target.ID {
			continue
		}
		for _, t := range r.specs[id].URLTokens {
			t = strings.ToLower(t)
			if _, mine := own[t]; mine {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// NormalizeChainID lower-cases a hex chain id and strips leading zeros.
func NormalizeChainID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "0x") {
		return id
	}
	digits := strings.TrimLeft(id[2:], "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}
