// Package cachemap implements the router-side Global Cache Map: a prefix
// trie plus reverse index supporting longest-prefix lookup and
// eviction/sync-driven convergence toward worker truth (spec.md §4.4).
package cachemap

import (
	"sort"
	"sync"

	"github.com/inference-sim/cacherouter/blockhash"
)

// LoadFunc reports a worker's current load, used to break ties among
// equally-matching workers (spec.md §4.4).
type LoadFunc func(workerID string) float64

// Map is the router's many-worker view of which block sequences live where.
// A single mutex guards both the trie and the reverse index, matching
// spec.md §5's "single coarse lock is acceptable for the sizes contemplated"
// — finer-grained locking (per-subtree, lock-free reverse index) is called
// out there as an optimization, not a requirement.
type Map struct {
	mu      sync.Mutex
	root    *trieNode
	byHash  map[blockhash.Hash]*trieNode      // reverse lookup from hash to its unique trie node
	reverse map[blockhash.Hash]map[string]struct{} // block_hash -> set<worker_id>, per spec.md §3
	known   map[string]map[blockhash.Hash]struct{} // worker_id -> hashes the router currently believes it holds

	tieCounter int // shared round-robin pointer across all tie classes
}

// New creates an empty Global Cache Map.
func New() *Map {
	return &Map{
		root:    newTrieNode(nil, ""),
		byHash:  make(map[blockhash.Hash]*trieNode),
		reverse: make(map[blockhash.Hash]map[string]struct{}),
		known:   make(map[string]map[blockhash.Hash]struct{}),
	}
}

// LongestPrefixMatch returns the worker holding the longest matching prefix
// of sequence and the depth matched, per spec.md §4.4. Returns ("", 0, false)
// if no worker holds even the first block.
func (m *Map) LongestPrefixMatch(sequence []blockhash.Hash, load LoadFunc) (workerID string, matchLength int, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.root
	var candidates map[string]struct{}
	var bestCandidates map[string]struct{}
	bestDepth := 0

	for i, h := range sequence {
		child, ok := cur.children[h]
		if !ok {
			break
		}
		if i == 0 {
			candidates = cloneSet(child.workers)
		} else {
			candidates = intersectSets(candidates, child.workers)
		}
		if len(candidates) == 0 {
			break
		}
		bestCandidates = candidates
		bestDepth = i + 1
		cur = child
	}

	if len(bestCandidates) == 0 {
		return "", 0, false
	}
	return m.tieBreak(bestCandidates, load), bestDepth, true
}

// AddBlockSequence records that worker holds every block along sequence,
// extending the trie path and updating the reverse index (spec.md §4.4).
func (m *Map) AddBlockSequence(workerID string, sequence []blockhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addBlockSequenceLocked(workerID, sequence)
}

func (m *Map) addBlockSequenceLocked(workerID string, sequence []blockhash.Hash) {
	cur := m.root
	for _, h := range sequence {
		child, ok := cur.children[h]
		if !ok {
			child = newTrieNode(cur, h)
			cur.children[h] = child
			m.byHash[h] = child
		}
		child.workers[workerID] = struct{}{}

		if m.reverse[h] == nil {
			m.reverse[h] = make(map[string]struct{})
		}
		m.reverse[h][workerID] = struct{}{}

		if m.known[workerID] == nil {
			m.known[workerID] = make(map[blockhash.Hash]struct{})
		}
		m.known[workerID][h] = struct{}{}

		cur = child
	}
}

// RemoveBlock removes workerID from hash everywhere it is known to hold it
// and prunes any trie node left with no workers and no children. A hash the
// worker was never known to hold is a no-op (spec.md §8 idempotence).
func (m *Map) RemoveBlock(workerID string, hash blockhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeBlockLocked(workerID, hash)
}

func (m *Map) removeBlockLocked(workerID string, hash blockhash.Hash) {
	node, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(node.workers, workerID)

	if set, ok := m.reverse[hash]; ok {
		delete(set, workerID)
		if len(set) == 0 {
			delete(m.reverse, hash)
		}
	}
	if set, ok := m.known[workerID]; ok {
		delete(set, hash)
	}

	m.pruneIfEmpty(node)
}

// pruneIfEmpty removes node (and its now-empty ancestors) from the trie once
// it has neither workers nor children.
func (m *Map) pruneIfEmpty(node *trieNode) {
	for node != nil && node.parent != nil && node.isEmpty() {
		parent := node.parent
		delete(parent.children, node.edge)
		delete(m.byHash, node.edge)
		node = parent
	}
}

// SyncWorkerState replaces the router's belief about workerID with
// authoritative, reconstructing trie paths from sequences when given
// (spec.md §4.4). Without sequences, each newly-fresh hash is attached to
// its existing trie node if the trie already has one, and otherwise recorded
// as a degenerate depth-1 sequence — the documented set-membership fallback
// (see attachFreshHashLocked).
func (m *Map) SyncWorkerState(workerID string, authoritative []blockhash.Hash, sequences [][]blockhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	authSet := make(map[blockhash.Hash]struct{}, len(authoritative))
	for _, h := range authoritative {
		authSet[h] = struct{}{}
	}

	current := m.known[workerID]
	stale := make([]blockhash.Hash, 0)
	for h := range current {
		if _, ok := authSet[h]; !ok {
			stale = append(stale, h)
		}
	}
	for _, h := range stale {
		m.removeBlockLocked(workerID, h)
	}

	if len(sequences) > 0 {
		for _, seq := range sequences {
			m.addBlockSequenceLocked(workerID, seq)
		}
		return
	}

	for h := range authSet {
		if current != nil {
			if _, ok := current[h]; ok {
				continue
			}
		}
		m.attachFreshHashLocked(workerID, h)
	}
}

// attachFreshHashLocked records workerID as holding h when no sequence was
// supplied for it. If h is already known anywhere in the trie (possibly
// deep, under a different parent), it attaches workerID to that existing
// node directly; calling addBlockSequenceLocked here instead would create a
// second, shallow root-child node and overwrite byHash[h], orphaning the
// real node and corrupting later RemoveBlock pruning. Only a hash the trie
// has never seen falls back to the degenerate depth-1 node.
func (m *Map) attachFreshHashLocked(workerID string, h blockhash.Hash) {
	if node, ok := m.byHash[h]; ok {
		node.workers[workerID] = struct{}{}

		if m.reverse[h] == nil {
			m.reverse[h] = make(map[string]struct{})
		}
		m.reverse[h][workerID] = struct{}{}

		if m.known[workerID] == nil {
			m.known[workerID] = make(map[blockhash.Hash]struct{})
		}
		m.known[workerID][h] = struct{}{}
		return
	}
	m.addBlockSequenceLocked(workerID, []blockhash.Hash{h})
}

// KnownHashes returns the router's current belief about what workerID
// holds, for diagnostics and tests.
func (m *Map) KnownHashes(workerID string) []blockhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.known[workerID]
	out := make([]blockhash.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// tieBreak picks a worker from candidates: least-loaded first, then
// round-robin among load ties via a shared, monotonically advancing
// pointer (spec.md §4.4, §4.5).
func (m *Map) tieBreak(candidates map[string]struct{}, load LoadFunc) string {
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic base ordering before load comparison

	if load == nil || len(ids) == 1 {
		idx := m.tieCounter % len(ids)
		m.tieCounter++
		return ids[idx]
	}

	minLoad := load(ids[0])
	tied := []string{ids[0]}
	for _, id := range ids[1:] {
		l := load(id)
		switch {
		case l < minLoad:
			minLoad = l
			tied = []string{id}
		case l == minLoad:
			tied = append(tied, id)
		}
	}

	m.tieCounter++
	return tied[m.tieCounter%len(tied)]
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func intersectSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if _, ok := big[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}
