package workercache

import "github.com/inference-sim/cacherouter/blockhash"

// Block is the atomic cache unit (spec.md §3). SequenceIndex is assigned
// once at first insertion and never mutated afterward.
type Block struct {
	Hash          blockhash.Hash
	RefCount      int
	LastUsed      int64
	SequenceIndex int

	heapIndex int // maintained by evictableQueue; -1 when not queued
}

// Evictable reports whether the block currently has no live references.
// Kept as a derived getter rather than a stored field so it can never drift
// from RefCount (spec.md §3 invariant: evictable ⇔ ref_count == 0).
func (b *Block) Evictable() bool {
	return b.RefCount == 0
}

// evictableQueue is a container/heap min-priority queue over evictable
// blocks, ordered (last_used ascending, sequence_index descending, hash
// ascending) per spec.md §4.2's tie-breaking rule: among equally-stale
// blocks, evict the one deepest into its originating sequence first, since
// it is the least valuable shared prefix.
type evictableQueue []*Block

func (q evictableQueue) Len() int { return len(q) }

func (q evictableQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.LastUsed != b.LastUsed {
		return a.LastUsed < b.LastUsed
	}
	if a.SequenceIndex != b.SequenceIndex {
		return a.SequenceIndex > b.SequenceIndex
	}
	return a.Hash < b.Hash
}

func (q evictableQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *evictableQueue) Push(x any) {
	b := x.(*Block)
	b.heapIndex = len(*q)
	*q = append(*q, b)
}

func (q *evictableQueue) Pop() any {
	old := *q
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIndex = -1
	*q = old[:n-1]
	return b
}
