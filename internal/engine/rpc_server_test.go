package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"interaction-indexer-go/pkg/network"

	"github.com/stretchr/testify/require"
)

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcReply is what a test handler answers; Status other than 0 or 200 is sent
// as a bare HTTP error.
type rpcReply struct {
	Result any
	Err    *jsonrpcError
	Status int
}

type rpcServer struct {
	*httptest.Server
	mu     sync.Mutex
	calls  map[string]int
	params map[string][]json.RawMessage // last params per method
}

func (s *rpcServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *rpcServer) lastParams(method string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[method]
}

func newRPCServer(t *testing.T, handle func(method string, params []json.RawMessage, call int) rpcReply) *rpcServer {
	t.Helper()
	s := &rpcServer{calls: make(map[string]int), params: make(map[string][]json.RawMessage)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.calls[req.Method]++
		call := s.calls[req.Method]
		s.params[req.Method] = req.Params
		s.mu.Unlock()

		reply := handle(req.Method, req.Params, call)
		if reply.Status != 0 && reply.Status != http.StatusOK {
			http.Error(w, http.StatusText(reply.Status), reply.Status)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if reply.Err != nil {
			resp["error"] = reply.Err
		} else {
			resp["result"] = reply.Result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func dialTestClient(t *testing.T, s *rpcServer, family network.Family) ChainClient {
	t.Helper()
	c, err := NewClientFactory(fastRetry(), s.Client())(context.Background(), family, ProviderEndpoint{Name: "test", URL: s.URL})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
