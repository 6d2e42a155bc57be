package protocol

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cacherouter/cachemap"
	"github.com/inference-sim/cacherouter/router"
)

// Handler applies incoming worker messages to the router's shared state: the
// Global Cache Map and the live-worker Registry (spec.md §4.6). It holds no
// state of its own beyond its collaborators, so it is safe to share across
// concurrently handled HTTP requests.
type Handler struct {
	Map      *cachemap.Map
	Registry *router.Registry
	Now      func() int64 // injected for deterministic tests; wall-clock millis in production
}

// NewHandler wires a Handler against the router's shared Map and Registry.
func NewHandler(m *cachemap.Map, reg *router.Registry, now func() int64) *Handler {
	return &Handler{Map: m, Registry: reg, Now: now}
}

// HandleHeartbeat registers or refreshes a worker's liveness and load.
func (h *Handler) HandleHeartbeat(msg Heartbeat) {
	now := h.Now()
	h.Registry.Heartbeat(msg.WorkerID, msg.WorkerURL, msg.CurrentLoad, now)
	logrus.WithFields(logrus.Fields{
		"worker_id":    msg.WorkerID,
		"current_load": msg.CurrentLoad,
	}).Debug("protocol: heartbeat received")
}

// HandleEviction applies the fast-path correction: a block the worker just
// evicted is removed from the router's view immediately, ahead of the next
// sync (spec.md §4.6).
func (h *Handler) HandleEviction(msg Eviction) {
	h.Map.RemoveBlock(msg.WorkerID, msg.BlockHash)
	logrus.WithFields(logrus.Fields{
		"worker_id":  msg.WorkerID,
		"block_hash": msg.BlockHash,
	}).Debug("protocol: eviction applied")
}

// HandleSync applies the slow-path anti-entropy correction: the router's
// belief about the worker is reconciled against its authoritative state
// (spec.md §4.6, §8's idempotence requirement).
func (h *Handler) HandleSync(msg Sync) {
	h.Map.SyncWorkerState(msg.WorkerID, msg.CachedHashes, msg.Sequences)
	logrus.WithFields(logrus.Fields{
		"worker_id":  msg.WorkerID,
		"num_cached": len(msg.CachedHashes),
		"num_seqs":   len(msg.Sequences),
	}).Debug("protocol: sync applied")
}
