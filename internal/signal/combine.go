// Package signal combines per-producer fraud scores into a single confidence.
package signal

import (
	"math"
	"sort"
)

// DefaultWeight applies to any signal name missing from a weight map.
const DefaultWeight = 0.1

// Weights maps signal names to their contribution in the weighted mean.
type Weights map[string]float64

// Weight returns the weight for name, falling back to DefaultWeight.
func (w Weights) Weight(name string) float64 {
	if v, ok := w[name]; ok {
		return v
	}
	return DefaultWeight
}

// Combine computes the weighted mean of the present signals.
//
// Only signals present in scores contribute to the denominator, so a failed
// producer lowers nothing. Non-finite scores count as absent. The result is
// clamped to [0,1]; no signals or a zero total weight yields 0.
func Combine(scores map[string]float64, weights Weights) float64 {
	if len(scores) == 0 {
		return 0
	}

	// Sum in name order so the result does not depend on map iteration.
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var weighted, total float64
	for _, name := range names {
		score := scores[name]
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		weight := weights.Weight(name)
		if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			continue
		}
		weighted += Clamp(score) * weight
		total += weight
	}

	if total == 0 {
		return 0
	}
	return Clamp(weighted / total)
}

// Clamp bounds v to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
