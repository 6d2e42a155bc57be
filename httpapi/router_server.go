package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/metrics"
	"github.com/inference-sim/cacherouter/protocol"
	"github.com/inference-sim/cacherouter/router"
)

var validate = validator.New()

// completionsRequest is the client-facing /v1/completions body (spec.md §6).
type completionsRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0"`
}

// completionsResponse mirrors spec.md §6's documented response shape.
type completionsResponse struct {
	AssignedWorker string   `json:"assigned_worker"`
	Status         string   `json:"status"` // "forwarded" | "simulated"
	BlockHashes    []string `json:"block_hashes"`
	MatchLength    int      `json:"match_length"`
	CacheStatus    string   `json:"cache_status"`
	Forwarded      any      `json:"forwarded,omitempty"`
}

type okBody struct {
	OK bool `json:"ok"`
}

// RouterServer wires the Dispatcher and protocol Handler into chi routes.
type RouterServer struct {
	Dispatcher *router.Dispatcher
	Registry   *router.Registry
	Protocol   *protocol.Handler
	ProxyMode  bool
	Now        func() int64

	httpClient *http.Client
}

// NewRouterServer builds the HTTP surface for the router process.
func NewRouterServer(d *router.Dispatcher, reg *router.Registry, h *protocol.Handler, proxyMode bool, now func() int64) *RouterServer {
	return &RouterServer{
		Dispatcher: d,
		Registry:   reg,
		Protocol:   h,
		ProxyMode:  proxyMode,
		Now:        now,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Routes returns the assembled chi.Router for the router process.
func (s *RouterServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer, requestID)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/workers", s.handleListWorkers)
	r.Post("/v1/completions", s.handleCompletions)

	r.Post("/internal/heartbeat", s.handleHeartbeat)
	r.Post("/internal/evict", s.handleEvict)
	r.Post("/internal/sync", s.handleSync)

	return r
}

func (s *RouterServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

func (s *RouterServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if len(s.Registry.LiveWorkers()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "no workers available")
		return
	}
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

// workerListing is one entry of the /v1/workers response (SPEC_FULL.md §7).
type workerListing struct {
	WorkerID         string  `json:"worker_id"`
	CurrentLoad      float64 `json:"current_load"`
	CachedBlockCount int     `json:"cached_block_count"`
	LastHeartbeat    int64   `json:"last_heartbeat"`
}

func (s *RouterServer) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snapshots := s.Registry.Snapshot(s.Now())
	workers := make([]workerListing, 0, len(snapshots))
	for _, snap := range snapshots {
		workers = append(workers, workerListing{
			WorkerID:         snap.WorkerID,
			CurrentLoad:      snap.CurrentLoad,
			CachedBlockCount: len(s.Dispatcher.Map.KnownHashes(snap.WorkerID)),
			LastHeartbeat:    snap.LastHeartbeat,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (s *RouterServer) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	now := s.Now()
	decision, err := s.Dispatcher.Dispatch(req.Prompt, now)
	if err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues("no_workers_available").Inc()
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		return
	}

	metrics.DispatchTotal.WithLabelValues(string(decision.CacheStatus), string(s.Dispatcher.Strategy)).Inc()
	if s.Dispatcher.Strategy == router.CacheAware {
		metrics.MatchLength.Observe(float64(decision.MatchLength))
	}

	resp := completionsResponse{
		AssignedWorker: decision.AssignedWorker,
		Status:         "simulated",
		BlockHashes:    hashesToStrings(decision.BlockHashes),
		MatchLength:    decision.MatchLength,
		CacheStatus:    string(decision.CacheStatus),
	}

	if s.ProxyMode {
		workerURL := s.Registry.URL(decision.AssignedWorker)
		admitReq := workerAdmitRequest{
			RequestID:    uuid.NewString(),
			PromptTokens: blockhash.Tokenize(req.Prompt),
			DecodeTokens: req.MaxTokens,
		}
		forwarded, status, ferr := s.forward(r.Context(), workerURL, admitReq)
		if ferr != nil {
			writeError(w, http.StatusBadGateway, "bad_gateway", ferr.Error())
			return
		}
		resp.Status = "forwarded"
		resp.Forwarded = forwarded
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// workerAdmitRequest is the payload forwarded to a worker's /admit endpoint
// in proxy mode, matching the contract httpapi.admitRequest decodes
// (SPEC_FULL.md §8).
type workerAdmitRequest struct {
	RequestID    string   `json:"request_id"`
	PromptTokens []string `json:"prompt_tokens"`
	DecodeTokens int      `json:"decode_tokens"`
}

func (s *RouterServer) forward(ctx context.Context, workerURL string, req workerAdmitRequest) (any, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL+"/admit", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	var parsed any
	if jerr := json.Unmarshal(raw, &parsed); jerr != nil {
		parsed = string(raw)
	}
	return parsed, resp.StatusCode, nil
}

func (s *RouterServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Heartbeat
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validate.Struct(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.Protocol.HandleHeartbeat(msg)
	metrics.LiveWorkers.Set(float64(len(s.Registry.LiveWorkers())))
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

func (s *RouterServer) handleEvict(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Eviction
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validate.Struct(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.Protocol.HandleEviction(msg)
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

func (s *RouterServer) handleSync(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Sync
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validate.Struct(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.Protocol.HandleSync(msg)
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

func hashesToStrings(hashes []blockhash.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = string(h)
	}
	return out
}
