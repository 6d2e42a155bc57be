package scheduler

import "github.com/inference-sim/cacherouter/blockhash"

// Task is a pending or in-flight request admitted onto a worker (spec.md §3).
type Task struct {
	RequestID          string
	Sequence           []blockhash.Hash
	NumCachedAtIngress int
	DecodeTokens       int

	AdmittedAt     int64
	PrefillMS      float64
	DecodeMS       float64
	TotalLatencyMS float64
	CompletionTime int64 // AdmittedAt + TotalLatencyMS, truncated to whole clock units
}

// RemainingMS returns the task's remaining estimated latency at now, floored
// at zero. Summed across active tasks this is a worker's current_load
// (spec.md §4.3).
func (t *Task) RemainingMS(now int64) float64 {
	remaining := float64(t.AdmittedAt) + t.TotalLatencyMS - float64(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
