// Package scheduler admits one Task per worker request, computes the
// piecewise prefill/decode latency model, and reports current_load
// (spec.md §4.3).
package scheduler

// LatencyConfig groups the piecewise latency model's configuration knobs.
// These are tunable, not invariants (spec.md §4.3).
type LatencyConfig struct {
	PrefillBaseMS     float64
	PrefillPerBlockMS float64
	DecodePerTokenMS  float64
}

// DefaultLatencyConfig returns the reference configuration's constants.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		PrefillBaseMS:     5.0,
		PrefillPerBlockMS: 2.5,
		DecodePerTokenMS:  15.0,
	}
}

// Compute returns (prefillMS, decodeMS, totalMS) for a task that must
// compute blocksToCompute fresh blocks and decode decodeTokens tokens.
func (lc LatencyConfig) Compute(blocksToCompute, decodeTokens int) (prefillMS, decodeMS, totalMS float64) {
	prefillMS = lc.PrefillBaseMS + float64(blocksToCompute)*lc.PrefillPerBlockMS
	decodeMS = float64(decodeTokens) * lc.DecodePerTokenMS
	return prefillMS, decodeMS, prefillMS + decodeMS
}

// ExtraBlockMS prices k additional full blocks discovered mid-decode at the
// prefill per-block rate, per spec.md §4.3's cache-miss-within-decode
// policy: recomputed like prefill, not treated as an error.
func (lc LatencyConfig) ExtraBlockMS(k int) float64 {
	return float64(k) * lc.PrefillPerBlockMS
}
