package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"interaction-indexer-go/internal/engine"
)

func (s *Server) network(q url.Values) string {
	if n := q.Get("network"); n != "" {
		return n
	}
	return s.svc.cfg.DefaultNetwork
}

// GET /api/interactions?address=&network=&from=&to=
// to defaults to the chain head.
func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	networkID := s.network(q)
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	from, err := parseBlock(q, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseBlock(q, "to", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if to == 0 {
		head, err := s.svc.indexer.GetCurrentBlockNumber(ctx, networkID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		to = head
	}

	res, err := s.svc.indexer.FetchContractInteractions(ctx, address, from, to, networkID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSONResponse(w, res)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	networkID := s.network(r.URL.Query())
	head, err := s.svc.indexer.GetCurrentBlockNumber(r.Context(), networkID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSONResponse(w, map[string]any{"network": networkID, "blockNumber": head})
}

// GET /api/deployment?address=&network=&months=
func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	networkID := s.network(q)
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	months, err := strconv.Atoi(q.Get("months"))
	if q.Get("months") != "" && (err != nil || months < 0) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid months %q", q.Get("months")))
		return
	}

	head, err := s.svc.indexer.GetCurrentBlockNumber(ctx, networkID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	block, err := s.svc.locator.FindDeploymentBlockBounded(ctx, address, head, networkID, months)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSONResponse(w, map[string]any{"network": networkID, "address": address, "deploymentBlock": block, "head": head})
}

// GET /api/health lists every initialized network's providers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	networks := make(map[string]any)
	lanes := make(map[string]any)
	levels := s.svc.observeQuota()
	for _, id := range s.svc.pool.Networks() {
		st := s.svc.queue.Stats(id)
		networks[id] = s.svc.pool.Health(id)
		lanes[id] = map[string]any{
			"inFlight":     st.InFlight,
			"windowUsed":   st.WindowUsed,
			"windowLimit":  st.WindowLimit,
			"windowResets": st.WindowResets,
			"quota":        levels[id].String(),
		}
	}
	tracker := s.svc.pool.Tracker()
	writeJSONResponse(w, map[string]any{
		"tier":         s.svc.queue.Tier(),
		"networks":     networks,
		"queue":        lanes,
		"cacheEntries": s.svc.cache.Len(),
		"errors": map[string]any{
			"total":      tracker.Total(),
			"byProvider": tracker.CountsByProvider(),
			"byMethod":   tracker.CountsByMethod(),
			"recent":     tracker.Recent(20),
		},
	})
}

func parseBlock(q url.Values, key string, def uint64) (uint64, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

// statusFor maps engine errors onto HTTP status codes; anything unrecognized
// is an input problem.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotDeployed):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrIndexingFailed),
		errors.Is(err, engine.ErrAllProvidersFailed),
		errors.Is(err, engine.ErrProviderTimeout),
		errors.Is(err, engine.ErrProviderRPC):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Warn("api_request_failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed_to_encode_response", "err", err)
	}
}
