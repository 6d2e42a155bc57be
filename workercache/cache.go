// Package workercache implements the per-worker KV block cache: fixed
// capacity, refcounted blocks, and priority-queue eviction (spec.md §4.2).
package workercache

import (
	"container/heap"
	"fmt"

	"github.com/inference-sim/cacherouter/blockhash"
)

// ErrRequestTooLarge is returned when a request needs more blocks than the
// cache can ever hold (spec.md §7 "request_too_large").
var ErrRequestTooLarge = fmt.Errorf("workercache: request exceeds cache capacity")

// ErrNoEvictableBlock is returned when an allocation within capacity finds
// every resident block still referenced, so none can be evicted to make
// room. Scheduler.Admit returns it to its caller unchanged and the worker's
// /admit handler answers it with 400 bad_request; it is not reported to the
// router and does not stop the worker process.
var ErrNoEvictableBlock = fmt.Errorf("workercache: no evictable block available within capacity")

// Cache is a single worker's fixed-capacity KV block store.
//
// Not safe for concurrent use on its own: a worker process serializes all
// mutations (allocate/release/eviction) through its Scheduler, which holds
// its own mutex around every Allocate and Release, per spec.md §5's
// shared-resource policy. If a caller needs concurrent access, wrap a Cache
// in its own mutex rather than adding one here — that way non-worker code
// such as tests can use a Cache without paying for synchronization it
// doesn't need.
type Cache struct {
	capacity  int
	blocks    map[blockhash.Hash]*Block
	queue     evictableQueue
	nextSeq   int
	sequences map[blockhash.Hash][]blockhash.Hash // terminal hash -> full chain, for anti-entropy sync

	// OnEvict, when set, is called synchronously whenever a block is
	// evicted to make room for a new one. Used by the router-facing side
	// to keep the Global Cache Map's reverse index converged (spec.md §4.6
	// "push-based eviction report").
	OnEvict func(blockhash.Hash)
}

// New creates an empty Cache with the given block capacity.
func New(capacity int) *Cache {
	return &Cache{
		capacity:  capacity,
		blocks:    make(map[blockhash.Hash]*Block, capacity),
		queue:     make(evictableQueue, 0, capacity),
		sequences: make(map[blockhash.Hash][]blockhash.Hash),
	}
}

// Capacity returns N_BLOCKS.
func (c *Cache) Capacity() int { return c.capacity }

// Len returns the number of resident blocks.
func (c *Cache) Len() int { return len(c.blocks) }

// Has reports whether hash is currently resident.
func (c *Cache) Has(hash blockhash.Hash) bool {
	_, ok := c.blocks[hash]
	return ok
}

// CachedPrefixLen returns the length of the longest leading prefix of
// sequence that is already resident, without mutating any state. Mirrors
// spec.md §4.2 AllocateKVBlocks's cached-prefix computation, split out so
// routing policies can call it read-only (no ref-count side effects).
func (c *Cache) CachedPrefixLen(sequence []blockhash.Hash) int {
	n := 0
	for _, h := range sequence {
		if !c.Has(h) {
			break
		}
		n++
	}
	return n
}

// Allocate reserves blocks for sequence, reusing already-resident blocks and
// allocating/evicting as needed (spec.md §4.2). Returns the length of the
// prefix that was already resident before this call and the count of blocks
// newly inserted (whether freshly allocated or recycled via eviction).
func (c *Cache) Allocate(sequence []blockhash.Hash, now int64) (cachedPrefix, newlyAllocated int, err error) {
	if len(sequence) > c.capacity {
		return 0, 0, ErrRequestTooLarge
	}

	cachedPrefix = c.CachedPrefixLen(sequence)

	for _, h := range sequence {
		if blk, ok := c.blocks[h]; ok {
			if blk.RefCount == 0 {
				heap.Remove(&c.queue, blk.heapIndex)
			}
			blk.RefCount++
			blk.LastUsed = now
			continue
		}

		if len(c.blocks) >= c.capacity {
			if c.queue.Len() == 0 {
				return cachedPrefix, newlyAllocated, ErrNoEvictableBlock
			}
			victim := heap.Pop(&c.queue).(*Block)
			delete(c.blocks, victim.Hash)
			delete(c.sequences, victim.Hash)
			if c.OnEvict != nil {
				c.OnEvict(victim.Hash)
			}
		}

		blk := &Block{
			Hash:          h,
			RefCount:      1,
			LastUsed:      now,
			SequenceIndex: c.nextSeq,
			heapIndex:     -1,
		}
		c.nextSeq++
		c.blocks[h] = blk
		newlyAllocated++
	}

	if len(sequence) > 0 {
		terminal := sequence[len(sequence)-1]
		chain := make([]blockhash.Hash, len(sequence))
		copy(chain, sequence)
		c.sequences[terminal] = chain
	}

	return cachedPrefix, newlyAllocated, nil
}

// Release drops one reference from each block in sequence. Blocks whose
// ref count reaches zero become evictable and are pushed onto the eviction
// queue with last_used = now.
func (c *Cache) Release(sequence []blockhash.Hash, now int64) {
	for _, h := range sequence {
		blk, ok := c.blocks[h]
		if !ok {
			continue
		}
		if blk.RefCount == 0 {
			continue // already released; avoid going negative on a double-release
		}
		blk.RefCount--
		if blk.RefCount == 0 {
			blk.LastUsed = now
			heap.Push(&c.queue, blk)
		}
	}
}

// CachedHashes returns every resident block hash, for anti-entropy sync
// (spec.md §4.6) and diagnostics. Order is unspecified.
func (c *Cache) CachedHashes() []blockhash.Hash {
	out := make([]blockhash.Hash, 0, len(c.blocks))
	for h := range c.blocks {
		out = append(out, h)
	}
	return out
}

// Sequences returns the ordered block-hash chain for every still-resident
// allocation, so the router can reconstruct exact trie paths during
// anti-entropy sync instead of falling back to set-membership (spec.md
// §4.4, §4.6). A chain is omitted once its terminal block has been evicted;
// only the terminal block's residency is checked, not that of the blocks
// before it.
func (c *Cache) Sequences() [][]blockhash.Hash {
	out := make([][]blockhash.Hash, 0, len(c.sequences))
	for terminal, chain := range c.sequences {
		if !c.Has(terminal) {
			continue
		}
		out = append(out, chain)
	}
	return out
}
