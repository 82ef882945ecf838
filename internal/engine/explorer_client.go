package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ContractCreation is the explorer's record of how a contract was deployed.
// BlockNumber is zero when the explorer does not report it.
type ContractCreation struct {
	Address     string
	Creator     string
	TxHash      string
	BlockNumber uint64
}

// ExplorerClient queries an Etherscan-compatible API (Etherscan, Blockscout).
type ExplorerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewExplorerClient(baseURL, apiKey string, httpClient *http.Client) *ExplorerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ExplorerClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerCreation struct {
	ContractAddress string   `json:"contractAddress"`
	ContractCreator string   `json:"contractCreator"`
	TxHash          string   `json:"txHash"`
	BlockNumber     quantity `json:"blockNumber"`
}

// ContractCreation returns nil, nil when the explorer has no record of address.
func (e *ExplorerClient) ContractCreation(ctx context.Context, address string) (*ContractCreation, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getcontractcreation")
	q.Set("contractaddresses", address)
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	sep := "?"
	if strings.Contains(e.baseURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+sep+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("explorer read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned HTTP %d", resp.StatusCode)
	}

	var env explorerResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("explorer response: %w", err)
	}
	if env.Status != "1" {
		// "No data found" is the normal answer for EOAs and unknown contracts
		if strings.Contains(strings.ToLower(env.Message), "no data") {
			return nil, nil
		}
		var msg string
		_ = json.Unmarshal(env.Result, &msg)
		return nil, fmt.Errorf("explorer error: %s %s", env.Message, msg)
	}
	var rows []explorerCreation
	if err := json.Unmarshal(env.Result, &rows); err != nil {
		return nil, fmt.Errorf("explorer result: %w", err)
	}
	if len(rows) == 0 || rows[0].TxHash == "" {
		return nil, nil
	}
	return &ContractCreation{
		Address:     strings.ToLower(rows[0].ContractAddress),
		Creator:     strings.ToLower(rows[0].ContractCreator),
		TxHash:      strings.ToLower(rows[0].TxHash),
		BlockNumber: uint64(rows[0].BlockNumber),
	}, nil
}
