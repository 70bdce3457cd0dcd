package ringstats

import "sort"

// LatencyVec is an append-only, bounded vector of latency samples for one
// open window. Once it reaches its cap, further samples are dropped rather
// than evicting older ones: the aggregator only needs a representative
// sample for a p95 estimate, not every observation.
type LatencyVec struct {
	values []float64
	cap    int
}

// NewLatencyVec creates a vector bounded at capacity entries.
func NewLatencyVec(capacity int) *LatencyVec {
	return &LatencyVec{cap: capacity}
}

// Add appends v if the vector has not reached capacity. Non-finite or
// non-positive values are rejected by the caller before Add is invoked.
func (l *LatencyVec) Add(v float64) {
	if len(l.values) >= l.cap {
		return
	}
	l.values = append(l.values, v)
}

// Len returns the number of samples currently held.
func (l *LatencyVec) Len() int { return len(l.values) }

// P95 returns the 95th percentile using the index rule index = floor(n*0.95),
// sorting a copy of the underlying values. For n=5 values this yields
// index 4, i.e. the maximum.
func (l *LatencyVec) P95() float64 {
	n := len(l.values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, l.values)
	sort.Float64s(sorted)
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Sum returns the sum of all held samples, used for throughput-adjacent
// computations where callers want an average over the window rather than a
// tail estimate.
func (l *LatencyVec) Sum() float64 {
	var s float64
	for _, v := range l.values {
		s += v
	}
	return s
}
