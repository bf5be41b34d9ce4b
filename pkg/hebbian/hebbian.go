// Package hebbian implements the per-edge strengthening rule invoked
// whenever an edge is traversed in the context of a successful
// co-activation (spec.md §4.4): a base Hebbian co-firing term, a context-
// match bonus, and an optional prediction-accuracy bonus or penalty, all
// drawn from the running-statistics service via pkg/thresholds rather
// than hardcoded constants.
package hebbian

import (
	"math"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
)

// Signal carries the optional confirmed-prediction outcome for one
// co-activation event. Correct and Incorrect are mutually exclusive;
// leaving both false means no accuracy signal is available for this
// update, matching spec.md §4.4's "0 when no signal is available".
type Signal struct {
	Correct   bool
	Incorrect bool
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// dominanceFactor is `factor(w / local_avg)` from spec.md §4.4, in
// [0.67, 2.0]: edges weaker than their local neighbourhood average learn
// faster, edges at or above the average learn progressively slower,
// preventing runaway growth.
func dominanceFactor(weight, localAvg float64) float64 {
	if localAvg <= 0 {
		return 2.0
	}
	ratio := weight / localAvg
	return clip(2.0-1.33*ratio, 0.67, 2.0)
}

// baseHebbian is `h * (1/sqrt(w+1)) * factor(w/local_avg)`.
func baseHebbian(snap stats.Snapshot, weight, localAvg float64) float64 {
	h := thresholds.HebbianBaseRate(snap)
	return h * (1 / math.Sqrt(weight+1)) * dominanceFactor(weight, localAvg)
}

// contextBonus is ε_c when contextMatch exceeds the 0.8 threshold, else 0.
func contextBonus(snap stats.Snapshot, contextMatch float64) float64 {
	if contextMatch > 0.8 {
		return thresholds.ContextBonusRate(snap)
	}
	return 0
}

// accuracyBonus is +ε_a for a confirmed correct prediction, −ε_n for a
// confirmed incorrect one, 0 with no signal.
func accuracyBonus(snap stats.Snapshot, signal Signal) float64 {
	switch {
	case signal.Correct:
		return thresholds.AccuracyBonusRate(snap)
	case signal.Incorrect:
		return -thresholds.AccuracyPenaltyRate(snap)
	default:
		return 0
	}
}

// Strengthen applies one Hebbian update to e: computes
// base_hebbian + context_bonus + accuracy_bonus and writes the result
// through gs.Strengthen, so the store's [1,255] clamp and cached
// weight-sum invalidation apply as usual. Returns the delta actually
// requested (before clamping) for callers that log or test against it.
func Strengthen(gs *graphcore.GraphStore, snap stats.Snapshot, e *graphcore.Edge, contextMatch float64, signal Signal, ingestSeq int64) float64 {
	source, ok := gs.Node(e.Source)
	if !ok {
		return 0
	}
	localAvg := gs.LocalAverageWeight(source)

	delta := baseHebbian(snap, e.Weight(), localAvg)
	delta += contextBonus(snap, contextMatch)
	delta += accuracyBonus(snap, signal)

	gs.Strengthen(e, delta, ingestSeq)
	return delta
}

// AccuracyDelta returns the signed accuracy_bonus term alone, with no
// base-Hebbian or context contribution. pkg/feedback uses this to apply
// only the prediction-accuracy adjustment to edges the decoder already
// walked, since those edges were not just co-activated during ingest.
func AccuracyDelta(snap stats.Snapshot, signal Signal) float64 {
	return accuracyBonus(snap, signal)
}

// InitialWeight is the weight assigned to a freshly created edge:
// 0.5 + maturity, where maturity = local_avg/(local_avg+2) ∈ [0,1).
// Young regions of the graph commit conservatively; mature regions
// commit with a stronger default (spec.md §4.4).
func InitialWeight(localAvg float64) float64 {
	return 0.5 + thresholds.EdgeMaturity(localAvg)
}
