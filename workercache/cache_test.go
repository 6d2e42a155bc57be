package workercache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cacherouter/blockhash"
)

func hashes(ss ...string) []blockhash.Hash {
	out := make([]blockhash.Hash, len(ss))
	for i, s := range ss {
		out[i] = blockhash.Hash(s)
	}
	return out
}

func TestAllocate_ColdCacheAllNew(t *testing.T) {
	c := New(4)
	cached, allocated, err := c.Allocate(hashes("a", "b"), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, cached)
	assert.Equal(t, 2, allocated)
	assert.Equal(t, 2, c.Len())
}

func TestAllocate_ReusesResidentPrefix(t *testing.T) {
	c := New(4)
	_, _, err := c.Allocate(hashes("a", "b"), 10)
	require.NoError(t, err)
	c.Release(hashes("a", "b"), 11)

	cached, allocated, err := c.Allocate(hashes("a", "b", "c"), 12)
	require.NoError(t, err)
	assert.Equal(t, 2, cached)
	assert.Equal(t, 1, allocated)
}

func TestAllocateThenRelease_RoundTrip(t *testing.T) {
	c := New(4)
	seq := hashes("a", "b", "c")
	_, _, err := c.Allocate(seq, 1)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	c.Release(seq, 2)
	assert.Equal(t, 3, c.Len(), "membership unchanged by release")
	for _, h := range seq {
		assert.True(t, c.Has(h))
	}
}

func TestAllocate_EvictsOldestEvictableOnCapacity(t *testing.T) {
	c := New(2)
	_, _, err := c.Allocate(hashes("a"), 1)
	require.NoError(t, err)
	c.Release(hashes("a"), 2)

	_, _, err = c.Allocate(hashes("b"), 3)
	require.NoError(t, err)
	c.Release(hashes("b"), 4)

	var evicted blockhash.Hash
	c.OnEvict = func(h blockhash.Hash) { evicted = h }

	_, _, err = c.Allocate(hashes("c"), 5)
	require.NoError(t, err)
	assert.Equal(t, blockhash.Hash("a"), evicted, "a is older (last_used=2 < b's 4)")
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("c"))
}

func TestAllocate_NeverEvictsRefCountedBlock(t *testing.T) {
	c := New(1)
	_, _, err := c.Allocate(hashes("a"), 1)
	require.NoError(t, err)
	// "a" still has ref_count 1 (never released): no evictable block exists.
	_, _, err = c.Allocate(hashes("b"), 2)
	assert.ErrorIs(t, err, ErrNoEvictableBlock)
}

func TestAllocate_TieBreakBySequenceIndexDescending(t *testing.T) {
	c := New(2)
	// Two blocks from the same request, same last_used on release.
	_, _, err := c.Allocate(hashes("a", "b"), 1)
	require.NoError(t, err)
	c.Release(hashes("a", "b"), 5) // both become evictable at the same timestamp

	var evicted blockhash.Hash
	c.OnEvict = func(h blockhash.Hash) { evicted = h }
	_, _, err = c.Allocate(hashes("c"), 6)
	require.NoError(t, err)
	// b has the larger sequence index (1 > 0) so it is evicted first.
	assert.Equal(t, blockhash.Hash("b"), evicted)
}

func TestAllocate_RequestTooLarge(t *testing.T) {
	c := New(2)
	_, _, err := c.Allocate(hashes("a", "b", "c"), 1)
	assert.ErrorIs(t, err, ErrRequestTooLarge)
}

func TestAllocate_ExactlyAtCapacity(t *testing.T) {
	c := New(2)
	_, allocated, err := c.Allocate(hashes("a", "b"), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, allocated)
}

func TestRelease_DoubleReleaseIsNoOp(t *testing.T) {
	c := New(2)
	_, _, err := c.Allocate(hashes("a"), 1)
	require.NoError(t, err)
	c.Release(hashes("a"), 2)
	assert.NotPanics(t, func() { c.Release(hashes("a"), 3) })
}

func TestSequences_ReturnsOnlyStillResidentChains(t *testing.T) {
	c := New(4)
	_, _, err := c.Allocate(hashes("a", "b"), 1)
	require.NoError(t, err)
	_, _, err = c.Allocate(hashes("x"), 1)
	require.NoError(t, err)

	seqs := c.Sequences()
	require.Len(t, seqs, 2)
	assert.ElementsMatch(t, [][]blockhash.Hash{hashes("a", "b"), hashes("x")}, seqs)
}

func TestSequences_DropsEvictedChain(t *testing.T) {
	c := New(2)
	_, _, err := c.Allocate(hashes("a", "b"), 1)
	require.NoError(t, err)
	c.Release(hashes("a", "b"), 2)

	_, _, err = c.Allocate(hashes("c"), 3) // evicts "b" (higher sequence_index, tie-broken first)
	require.NoError(t, err)

	assert.Empty(t, c.Sequences(), "a,b's chain is gone once its terminal block b is evicted")
}

func TestCachedPrefixLen_ReadOnly(t *testing.T) {
	c := New(4)
	_, _, err := c.Allocate(hashes("a", "b"), 1)
	require.NoError(t, err)

	n := c.CachedPrefixLen(hashes("a", "b", "c"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len(), "read-only: no mutation")
}
