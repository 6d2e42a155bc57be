// Package protocol implements the Consistency Protocol between workers and
// the router: heartbeats, push-based eviction reports, and periodic
// anti-entropy sync (spec.md §4.6).
package protocol

import "github.com/inference-sim/cacherouter/blockhash"

// Heartbeat is sent by a worker roughly once per second. It registers the
// worker on first receipt and refreshes its load and liveness thereafter.
type Heartbeat struct {
	WorkerID    string  `json:"worker_id" validate:"required"`
	CurrentLoad float64 `json:"current_load" validate:"gte=0"`
	WorkerURL   string  `json:"worker_url,omitempty"`
}

// Eviction is sent immediately, best-effort, whenever a worker evicts a
// block. Applying it for a block the router never believed the worker held
// is a no-op (spec.md §8).
type Eviction struct {
	WorkerID  string         `json:"worker_id" validate:"required"`
	BlockHash blockhash.Hash `json:"block_hash" validate:"required"`
}

// Sync is sent roughly once every five seconds and carries a worker's full
// authoritative cached-block state. Sequences are optional: without them the
// router degrades to set-membership matching for the fresh hashes (spec.md
// §4.4's documented fallback).
type Sync struct {
	WorkerID     string             `json:"worker_id" validate:"required"`
	CachedHashes []blockhash.Hash   `json:"cached_hashes"`
	Sequences    [][]blockhash.Hash `json:"sequences,omitempty"`
}
