package router

import (
	"errors"
	"sort"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/cachemap"
)

// Strategy selects how the Dispatcher picks a worker (spec.md §4.5).
type Strategy string

const (
	CacheAware  Strategy = "cache_aware"
	RoundRobin  Strategy = "round_robin"
	LeastLoaded Strategy = "least_loaded"
)

// CacheStatus reports whether the routed prompt's leading blocks were
// already cached at the chosen worker.
type CacheStatus string

const (
	Hit  CacheStatus = "HIT"
	Miss CacheStatus = "MISS"
)

// ErrNoWorkersAvailable is returned when no worker is live (spec.md §7
// "service_unavailable" — the router never queues).
var ErrNoWorkersAvailable = errors.New("router: no workers available")

// Decision is what the Dispatcher returns for one request (spec.md §4.5,
// the client-facing /v1/completions response body of spec.md §6).
type Decision struct {
	AssignedWorker string
	CacheStatus    CacheStatus
	MatchLength    int
	BlockHashes    []blockhash.Hash
}

// Dispatcher selects a worker per its configured Strategy, consulting the
// Global Cache Map and live-worker Registry, and speculatively updates both
// after selection (spec.md §4.5).
type Dispatcher struct {
	Strategy              Strategy
	Map                   *cachemap.Map
	Registry              *Registry
	BlockSize             int
	SpeculativeLoadAddend float64
}

// Dispatch routes one prompt. now is the dispatch timestamp in the same
// clock units as every other timestamp in the system (milliseconds, by
// convention).
func (d *Dispatcher) Dispatch(prompt string, now int64) (Decision, error) {
	tokens := blockhash.Tokenize(prompt)
	seq, _ := blockhash.HashPrompt(tokens, d.BlockSize) // empty-prompt error degrades to an empty hash sequence (MISS)

	workers := d.Registry.LiveWorkers()
	if len(workers) == 0 {
		return Decision{}, ErrNoWorkersAvailable
	}

	loadFn := func(id string) float64 { return d.Registry.Load(id, now) }
	bestWorker, matchLen, found := d.Map.LongestPrefixMatch(seq.Hashes, loadFn)
	status := Miss
	if found && matchLen > 0 {
		status = Hit
	}

	var target string
	switch d.Strategy {
	case CacheAware:
		if status == Hit {
			target = bestWorker
		} else {
			target = d.leastLoaded(workers, now)
		}
	case RoundRobin:
		idx := d.Registry.nextRoundRobin() % uint64(len(workers))
		target = workers[idx]
	case LeastLoaded:
		target = d.leastLoaded(workers, now)
	default:
		target = d.leastLoaded(workers, now)
	}

	// Round-robin and least-loaded may pick a worker other than bestWorker:
	// report the cache status and match length of the worker actually chosen.
	if target != bestWorker {
		held := make(map[blockhash.Hash]bool)
		for _, h := range d.Map.KnownHashes(target) {
			held[h] = true
		}
		matchLen = 0
		for matchLen < len(seq.Hashes) && held[seq.Hashes[matchLen]] {
			matchLen++
		}
		status = Miss
		if matchLen > 0 {
			status = Hit
		}
	}

	// Speculative update (spec.md §4.5 step 3): make this decision visible
	// to concurrent requests before the worker itself confirms anything.
	d.Map.AddBlockSequence(target, seq.Hashes)
	d.Registry.InflateLoad(target, d.SpeculativeLoadAddend, now)

	return Decision{
		AssignedWorker: target,
		CacheStatus:    status,
		MatchLength:    matchLen,
		BlockHashes:    seq.Hashes,
	}, nil
}

// leastLoaded selects the minimum-load worker among live, breaking ties by
// rotating through the tied subset via the registry's shared round-robin
// pointer (spec.md §4.5).
func (d *Dispatcher) leastLoaded(workers []string, now int64) string {
	ids := append([]string(nil), workers...)
	sort.Strings(ids)

	minLoad := d.Registry.Load(ids[0], now)
	tied := []string{ids[0]}
	for _, id := range ids[1:] {
		l := d.Registry.Load(id, now)
		switch {
		case l < minLoad:
			minLoad = l
			tied = []string{id}
		case l == minLoad:
			tied = append(tied, id)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	idx := d.Registry.nextRoundRobin() % uint64(len(tied))
	return tied[idx]
}
