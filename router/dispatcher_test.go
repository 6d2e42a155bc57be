package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cacherouter/blockhash"
	"github.com/inference-sim/cacherouter/cachemap"
)

func newTestDispatcher(strategy Strategy) (*Dispatcher, *Registry) {
	reg := NewRegistry(10_000, 1_000)
	d := &Dispatcher{
		Strategy:              strategy,
		Map:                   cachemap.New(),
		Registry:              reg,
		BlockSize:             4,
		SpeculativeLoadAddend: 0.1,
	}
	return d, reg
}

func TestDispatch_MissThenHit(t *testing.T) {
	d, reg := newTestDispatcher(CacheAware)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	first, err := d.Dispatch("alpha beta gamma delta", 0)
	require.NoError(t, err)
	assert.Equal(t, Miss, first.CacheStatus)

	second, err := d.Dispatch("alpha beta gamma delta", 1)
	require.NoError(t, err)
	assert.Equal(t, Hit, second.CacheStatus)
	assert.Equal(t, first.AssignedWorker, second.AssignedWorker)
	assert.Equal(t, 1, second.MatchLength)
}

func TestDispatch_LongestPrefixWins(t *testing.T) {
	d, reg := newTestDispatcher(CacheAware)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	// w1 warms a short prefix, w2 a longer one sharing the same start.
	shortSeq, err := blockhash.HashPrompt(blockhash.Tokenize("alpha beta gamma delta"), d.BlockSize)
	require.NoError(t, err)
	longSeq, err := blockhash.HashPrompt(blockhash.Tokenize("alpha beta gamma delta epsilon zeta eta theta"), d.BlockSize)
	require.NoError(t, err)

	d.Map.AddBlockSequence("w1", shortSeq.Hashes)
	d.Map.AddBlockSequence("w2", longSeq.Hashes)

	decision, err := d.Dispatch("alpha beta gamma delta epsilon zeta eta theta", 1)
	require.NoError(t, err)
	assert.Equal(t, Hit, decision.CacheStatus)
	assert.Equal(t, "w2", decision.AssignedWorker)
	assert.Equal(t, 2, decision.MatchLength)
}

func TestDispatch_SpeculativeUpdatePreventsStampede(t *testing.T) {
	d, reg := newTestDispatcher(CacheAware)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	first, err := d.Dispatch("alpha beta gamma delta", 0)
	require.NoError(t, err)
	assert.Equal(t, Miss, first.CacheStatus)

	// A second concurrent identical request arrives before any heartbeat
	// confirms the first worker actually holds the blocks; the speculative
	// map entry must already route it as a HIT to the same worker.
	second, err := d.Dispatch("alpha beta gamma delta", 0)
	require.NoError(t, err)
	assert.Equal(t, Hit, second.CacheStatus)
	assert.Equal(t, first.AssignedWorker, second.AssignedWorker)
}

func TestDispatch_EvictionThenMiss(t *testing.T) {
	d, reg := newTestDispatcher(CacheAware)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	first, err := d.Dispatch("alpha beta gamma delta", 0)
	require.NoError(t, err)

	for _, h := range first.BlockHashes {
		d.Map.RemoveBlock(first.AssignedWorker, h)
	}

	second, err := d.Dispatch("alpha beta gamma delta", 1)
	require.NoError(t, err)
	assert.Equal(t, Miss, second.CacheStatus)
}

func TestDispatch_RoundRobinDistributesAcrossWorkers(t *testing.T) {
	d, reg := newTestDispatcher(RoundRobin)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		decision, err := d.Dispatch("unique prompt text here", int64(i))
		require.NoError(t, err)
		seen[decision.AssignedWorker]++
	}
	assert.Equal(t, 5, seen["w1"])
	assert.Equal(t, 5, seen["w2"])
}

func TestDispatch_LeastLoadedWithTiesRoundRobins(t *testing.T) {
	d, reg := newTestDispatcher(LeastLoaded)
	reg.Heartbeat("w1", "http://w1", 0, 0)
	reg.Heartbeat("w2", "http://w2", 0, 0)

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		// SpeculativeLoadAddend ties expire immediately at TTL 1000 relative
		// to the widely spaced timestamps below, so base load stays equal.
		decision, err := d.Dispatch("distinct prompt for each call", int64(i)*2_000)
		require.NoError(t, err)
		seen[decision.AssignedWorker]++
	}
	assert.Equal(t, 5, seen["w1"])
	assert.Equal(t, 5, seen["w2"])
}

func TestDispatch_NoWorkersAvailable(t *testing.T) {
	d, _ := newTestDispatcher(CacheAware)
	_, err := d.Dispatch("alpha beta", 0)
	assert.ErrorIs(t, err, ErrNoWorkersAvailable)
}
