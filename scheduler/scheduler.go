package scheduler

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/workercache"
)

// Scheduler admits tasks onto a worker's block cache, prices them with the
// latency model, and tracks current_load. All mutations are serialized
// through a single mutex, matching spec.md §5's "owned by its worker
// process; all mutations ... are serialized per worker".
type Scheduler struct {
	mu      sync.Mutex
	cache   *workercache.Cache
	latency LatencyConfig
	active  map[string]*Task
}

// New creates a Scheduler over the given block cache.
func New(cache *workercache.Cache, latency LatencyConfig) *Scheduler {
	return &Scheduler{
		cache:   cache,
		latency: latency,
		active:  make(map[string]*Task),
	}
}

// Cache returns the underlying block cache (for metrics/diagnostics).
func (s *Scheduler) Cache() *workercache.Cache { return s.cache }

// Admit allocates blocks for sequence, computes its latency, and tracks it
// as an active Task. decodeTokens must be a positive integer supplied by the
// (out-of-scope) inference-engine stand-in; the scheduler's contract only
// requires it to be positive (spec.md §4.3).
func (s *Scheduler) Admit(requestID string, sequence []blockhash.Hash, decodeTokens int, now int64) (*Task, error) {
	if decodeTokens <= 0 {
		return nil, fmt.Errorf("scheduler: decodeTokens must be positive, got %d", decodeTokens)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[requestID]; exists {
		return nil, fmt.Errorf("scheduler: request %q already admitted", requestID)
	}

	cachedPrefix, _, err := s.cache.Allocate(sequence, now)
	if err != nil {
		return nil, err
	}

	blocksToCompute := len(sequence) - cachedPrefix
	prefillMS, decodeMS, totalMS := s.latency.Compute(blocksToCompute, decodeTokens)

	task := &Task{
		RequestID:          requestID,
		Sequence:           sequence,
		NumCachedAtIngress: cachedPrefix,
		DecodeTokens:       decodeTokens,
		AdmittedAt:         now,
		PrefillMS:          prefillMS,
		DecodeMS:           decodeMS,
		TotalLatencyMS:     totalMS,
		CompletionTime:     now + int64(totalMS),
	}
	s.active[requestID] = task

	logrus.WithFields(logrus.Fields{
		"request_id":    requestID,
		"cached_prefix": cachedPrefix,
		"blocks_total":  len(sequence),
		"total_latency": totalMS,
		"decode_tokens": decodeTokens,
	}).Debug("task admitted")

	return task, nil
}

// ExtendDecode prices k additional full blocks discovered mid-decode at the
// prefill rate (spec.md §4.3) and pushes the task's completion time out.
func (s *Scheduler) ExtendDecode(requestID string, extraFullBlocks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.active[requestID]
	if !ok {
		return fmt.Errorf("scheduler: unknown request %q", requestID)
	}
	extra := s.latency.ExtraBlockMS(extraFullBlocks)
	task.TotalLatencyMS += extra
	task.CompletionTime += int64(extra)
	return nil
}

// Complete releases a task's blocks and stops tracking it. A completion for
// an unknown request id is a no-op (it may have already been completed, or
// never admitted — callers are expected to be idempotent on retries).
func (s *Scheduler) Complete(requestID string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.active[requestID]
	if !ok {
		return
	}
	s.cache.Release(task.Sequence, now)
	delete(s.active, requestID)
}

// CurrentLoad is the sum of remaining estimated latency across active tasks,
// the load proxy reported in heartbeats (spec.md §3, §4.3).
func (s *Scheduler) CurrentLoad(now int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, task := range s.active {
		total += task.RemainingMS(now)
	}
	return total
}

// ActiveCount returns the number of in-flight tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
