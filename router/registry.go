// Package router implements the Router Dispatcher: strategy selection,
// speculative updates, and the live-worker table (spec.md §4.5, §4.6).
package router

import (
	"sort"
	"sync"
)

// WorkerView is the router's picture of one worker (spec.md §3's Worker,
// router-visible half — the worker's own block cache lives in the worker
// process, package workercache).
type WorkerView struct {
	ID            string
	URL           string
	BaseLoad      float64
	SpecAddend    float64
	SpecAddedAt   int64
	LastHeartbeat int64
	Healthy       bool
}

// Registry is the router's shared live-worker table. All mutations go
// through a single mutex per spec.md §5's shared-resource policy for
// router-side state.
type Registry struct {
	mu                 sync.Mutex
	workers            map[string]*WorkerView
	staleWindow        int64
	speculativeLoadTTL int64
	rrCounter          uint64
}

// NewRegistry creates an empty Registry. staleWindow and speculativeLoadTTL
// are expressed in the same clock units as every timestamp passed in
// (milliseconds, by convention, to match the latency model's units).
func NewRegistry(staleWindow, speculativeLoadTTL int64) *Registry {
	return &Registry{
		workers:            make(map[string]*WorkerView),
		staleWindow:        staleWindow,
		speculativeLoadTTL: speculativeLoadTTL,
	}
}

// Heartbeat registers a worker on first receipt and refreshes its load and
// liveness. Per spec.md §9's Open Question, the speculative addend decays
// on heartbeat receipt (the observed default behavior).
func (r *Registry) Heartbeat(workerID, url string, load float64, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		w = &WorkerView{ID: workerID}
		r.workers[workerID] = w
	}
	w.URL = url
	w.BaseLoad = load
	w.SpecAddend = 0
	w.LastHeartbeat = now
	w.Healthy = true
}

// MarkUnhealthy excludes a worker from routing after a fatal invariant
// violation is reported (spec.md §7), until it re-registers via heartbeat.
func (r *Registry) MarkUnhealthy(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.Healthy = false
	}
}

// ReapStale removes workers whose last heartbeat is older than staleWindow.
// Run periodically, not on every lookup, so lookups stay non-blocking
// (SPEC_FULL.md §10).
func (r *Registry) ReapStale(now int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, w := range r.workers {
		if now-w.LastHeartbeat > r.staleWindow {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// InflateLoad applies the speculative load addend to a chosen worker
// immediately after dispatch, to prevent the thundering-herd stampede
// described in spec.md §9.
func (r *Registry) InflateLoad(workerID string, addend float64, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.SpecAddend += addend
		w.SpecAddedAt = now
	}
}

// Load returns a worker's effective current_load: base load plus any
// still-live speculative addend. Returns 0 for an unknown worker.
func (r *Registry) Load(workerID string, now int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(workerID, now)
}

func (r *Registry) loadLocked(workerID string, now int64) float64 {
	w, ok := r.workers[workerID]
	if !ok {
		return 0
	}
	load := w.BaseLoad
	if w.SpecAddend != 0 && now-w.SpecAddedAt < r.speculativeLoadTTL {
		load += w.SpecAddend
	}
	return load
}

// LiveWorkers returns the ids of healthy workers, sorted for determinism.
func (r *Registry) LiveWorkers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.workers))
	for id, w := range r.workers {
		if w.Healthy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// WorkerSnapshot is a point-in-time view of one live worker, for the
// /v1/workers listing (SPEC_FULL.md §7).
type WorkerSnapshot struct {
	WorkerID      string
	CurrentLoad   float64
	LastHeartbeat int64
}

// Snapshot returns a sorted snapshot of every healthy worker's id, current
// effective load, and last heartbeat timestamp.
func (r *Registry) Snapshot(now int64) []WorkerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WorkerSnapshot, 0, len(r.workers))
	for _, w := range r.workers {
		if !w.Healthy {
			continue
		}
		out = append(out, WorkerSnapshot{
			WorkerID:      w.ID,
			CurrentLoad:   r.loadLocked(w.ID, now),
			LastHeartbeat: w.LastHeartbeat,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// URL returns a worker's registered URL, for proxy mode.
func (r *Registry) URL(workerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		return w.URL
	}
	return ""
}

// nextRoundRobin atomically advances and returns the shared round-robin
// counter (spec.md §5: "round-robin counters ... must be updated atomically").
func (r *Registry) nextRoundRobin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.rrCounter
	r.rrCounter++
	return v
}
