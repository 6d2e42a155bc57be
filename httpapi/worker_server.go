package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/metrics"
	"github.com/inference-sim/cacherouter/scheduler"
	"github.com/inference-sim/cacherouter/workercache"
)

var workerValidate = validator.New()

// admitRequest is the worker's admission API body, forwarded from the
// router in proxy mode or posted directly in standalone testing (spec.md
// §4.3; SPEC_FULL.md §8). Tokens arrive pre-tokenized: tokenization is out
// of scope (spec.md §1).
type admitRequest struct {
	RequestID    string   `json:"request_id" validate:"required"`
	PromptTokens []string `json:"prompt_tokens" validate:"required,min=1"`
	DecodeTokens int      `json:"decode_tokens" validate:"gte=0"`
}

// admitResponse mirrors SPEC_FULL.md §8's documented /admit contract.
type admitResponse struct {
	RequestID      string  `json:"request_id"`
	CacheStatus    string  `json:"cache_status"` // "HIT" | "MISS"
	MatchLength    int     `json:"match_length"`
	TotalBlocks    int     `json:"total_blocks"`
	PrefillMS      float64 `json:"prefill_ms"`
	DecodeMS       float64 `json:"decode_ms"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
}

// WorkerServer wires a Scheduler into chi routes (spec.md §4.3's admission
// contract; the /admit endpoint is this corpus's stand-in for spec.md §6's
// "forwarding the request to the worker's URL").
type WorkerServer struct {
	Scheduler *scheduler.Scheduler
	BlockSize int
	Now       func() int64

	// defaultDecodeTokens is used when a caller supplies max_tokens == 0;
	// the scheduler's contract only requires a positive integer (spec.md
	// §4.3), and the real token count comes from an out-of-scope inference
	// engine.
	defaultDecodeTokens int
}

// NewWorkerServer builds the HTTP surface for a worker process.
func NewWorkerServer(s *scheduler.Scheduler, blockSize int, now func() int64) *WorkerServer {
	return &WorkerServer{Scheduler: s, BlockSize: blockSize, Now: now, defaultDecodeTokens: 32}
}

// Routes returns the assembled chi.Router for the worker process.
func (s *WorkerServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer, requestID)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admit", s.handleAdmit)

	return r
}

func (s *WorkerServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okBody{OK: true})
}

func (s *WorkerServer) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := workerValidate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	seq, _ := blockhash.HashPrompt(req.PromptTokens, s.BlockSize) // empty-prompt error degrades to an empty block sequence

	decodeTokens := req.DecodeTokens
	if decodeTokens <= 0 {
		decodeTokens = s.defaultDecodeTokens
	}

	now := s.Now()
	task, err := s.Scheduler.Admit(req.RequestID, seq.Hashes, decodeTokens, now)
	if err != nil {
		if err == workercache.ErrRequestTooLarge {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	metrics.CacheOccupancy.Set(float64(s.Scheduler.Cache().Len()))
	metrics.CurrentLoad.Set(s.Scheduler.CurrentLoad(now))
	metrics.TaskLatencyMS.WithLabelValues("prefill").Observe(task.PrefillMS)
	metrics.TaskLatencyMS.WithLabelValues("decode").Observe(task.DecodeMS)

	go s.completeAfter(task.RequestID, task.TotalLatencyMS)

	cacheStatus := "MISS"
	if task.NumCachedAtIngress > 0 {
		cacheStatus = "HIT"
	}

	writeJSON(w, http.StatusOK, admitResponse{
		RequestID:      task.RequestID,
		CacheStatus:    cacheStatus,
		MatchLength:    task.NumCachedAtIngress,
		TotalBlocks:    len(task.Sequence),
		PrefillMS:      task.PrefillMS,
		DecodeMS:       task.DecodeMS,
		TotalLatencyMS: task.TotalLatencyMS,
	})
}

// completeAfter simulates task execution: it waits out the computed latency,
// then releases the task's blocks. Real production code would instead be
// driven by the downstream inference engine's actual completion signal,
// which is out of scope (spec.md §1).
func (s *WorkerServer) completeAfter(requestID string, totalLatencyMS float64) {
	time.Sleep(time.Duration(totalLatencyMS) * time.Millisecond)
	s.Scheduler.Complete(requestID, s.Now())
	logrus.WithField("request_id", requestID).Debug("httpapi: task completed")
}
