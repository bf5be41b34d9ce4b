// Package thresholds is the adaptive-thresholds facade: a thin layer of
// pure functions that turn a stats.Snapshot into the concrete numbers the
// rest of the engine consults (neighbour sampling limit, weight
// floor/ceiling, activation cutoffs, hierarchy formation threshold, stop
// competitiveness, learning rates, decode temperature, output cap).
//
// Every function here is a pure mapping from (stats.Snapshot, local
// scalar arguments) to a number. None of them read global state, use a
// clock, or consult a random source — that is what makes them testable
// in isolation (spec.md §4.8).
package thresholds

import (
	"math"

	"github.com/orneryd/synapsegraph/pkg/stats"
)

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// NeighbourLimit bounds how many of a node's neighbours the wave engine
// samples per refine step: sqrt(outdegree)·(1+level)·graph_factor.
func NeighbourLimit(snap stats.Snapshot, outdegree int, level int) int {
	if outdegree <= 0 {
		return 1
	}
	limit := math.Sqrt(float64(outdegree)) * float64(1+level) * snap.GraphConnectivityFactor
	if limit < 1 {
		limit = 1
	}
	return int(math.Round(limit))
}

// WeightFloor is the minimum edge weight allowed to survive a wave's
// cleanup pass: max(1, local_avg·0.1).
func WeightFloor(localAvg float64) float64 {
	return math.Max(1, localAvg*0.1)
}

// WeightCeiling is the soft ceiling newly strengthened edges saturate
// toward: min(255, local_avg·2).
func WeightCeiling(localAvg float64) float64 {
	return math.Min(255, localAvg*2)
}

// RateBounds clips a mean±2·stddev interval into [0,1], used for any
// learned rate that must stay a valid probability-like scalar.
func RateBounds(mean, stddev float64) (lo, hi float64) {
	lo = clip(mean-2*stddev, 0, 1)
	hi = clip(mean+2*stddev, 0, 1)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// CycleWindow is the loop-suppression lookback window size:
// 2·(mean_path + 2·stddev_path), clamped to the spec's [1,10] cycle
// length range.
func CycleWindow(snap stats.Snapshot) int {
	w := 2 * (snap.PathMean + 2*snap.PathStdDev)
	if w < 1 {
		w = 1
	}
	if w > 10 {
		w = 10
	}
	return int(math.Round(w))
}

// HierarchyWeightMultiplier is the weight-dominance bar an edge must
// clear for its endpoints to be considered for hierarchy formation:
// 1.2 + 0.8·graph_maturity.
func HierarchyWeightMultiplier(snap stats.Snapshot) float64 {
	return 1.2 + 0.8*snap.GraphMaturity
}

// HierarchyVarianceMultiplier is the relative-strength bar, scaled by
// the normalised variance of the activation stream: 1.0 + 0.5·variance_norm.
func HierarchyVarianceMultiplier(snap stats.Snapshot) float64 {
	varianceNorm := clip(snap.ActivationStdDev, 0, 1)
	return 1.0 + 0.5*varianceNorm
}

// ActivationCutoff is the high-percentile activation level above which
// the wave engine's suppression phase softens a node's activation.
func ActivationCutoff(snap stats.Snapshot, service *stats.Service) float64 {
	return service.Percentile(stats.StreamActivation, 0.9)
}

// SuppressionFactor is the variance-dependent softening multiplier
// applied to activations above ActivationCutoff: the noisier activation
// has been recently, the harder over-active nodes get damped.
func SuppressionFactor(snap stats.Snapshot) float64 {
	return clip(1-snap.ActivationStdDev, 0.2, 0.9)
}

// SpreadBoost answers spec.md §9's open question (a): the multiplicative
// boost applied to edge.weight during activation spreading, ensuring
// continuation nodes dominate input-node self-activation. It is always
// derived from the running activation statistics — never the fixed
// constant of 10 some variants of the source implementation used.
func SpreadBoost(snap stats.Snapshot) float64 {
	boost := 2 + 8*snap.GraphMaturity - 4*snap.ActivationStdDev
	return clip(boost, 1, 12)
}

// StopCompetitiveness is the multiplier applied to a node's learned
// stop_weight before it competes against the best regular outgoing edge
// score; more mature graphs trust their learned stop weight more.
func StopCompetitiveness(snap stats.Snapshot) float64 {
	return 0.5 + 0.5*snap.GraphMaturity
}

// HebbianBaseRate is the `h` coefficient of the base-Hebbian term,
// bounded by the confidence stream's rate bounds and scaled down as the
// graph matures (young regions of the graph learn faster).
func HebbianBaseRate(snap stats.Snapshot) float64 {
	_, hi := RateBounds(snap.ConfidenceMean, snap.ConfidenceStdDev)
	rate := hi * (1 - 0.5*snap.GraphMaturity)
	return clip(rate, 0.02, 0.5)
}

// ContextBonusRate is ε_c, the flat bonus applied when a target's
// context trace matches the live context above the 0.8 threshold.
func ContextBonusRate(snap stats.Snapshot) float64 {
	return clip(0.05+0.05*snap.ConfidenceStdDev, 0.01, 0.2)
}

// AccuracyBonusRate is ε_a, the bonus for a confirmed correct prediction.
func AccuracyBonusRate(snap stats.Snapshot) float64 {
	return clip(0.05+0.1*(1-snap.ErrorMean), 0.01, 0.2)
}

// AccuracyPenaltyRate is ε_n, the (small) penalty for a confirmed
// incorrect prediction — deliberately smaller in magnitude than the
// bonus rate so a single wrong guess doesn't erase many right ones.
func AccuracyPenaltyRate(snap stats.Snapshot) float64 {
	return clip(AccuracyBonusRate(snap)*0.4, 0.005, 0.1)
}

// DisuseWindow is the number of ingests a node may sit untouched since
// its creation before it becomes eligible for disuse-driven pruning:
// 50 + 200·graph_maturity. Young graphs prune stale single-touch nodes
// aggressively to keep the vocabulary tight; mature graphs give a node
// far longer to be revisited before giving up on it.
func DisuseWindow(snap stats.Snapshot) int64 {
	return int64(math.Round(50 + 200*snap.GraphMaturity))
}

// RefineIterations is the mini-net-decided number of REFINE steps,
// scaled between 2 and maxIterations by graph maturity.
func RefineIterations(snap stats.Snapshot, maxIterations int) int {
	if maxIterations < 2 {
		maxIterations = 2
	}
	n := 2 + (float64(maxIterations)-2)*snap.GraphMaturity
	return int(math.Round(clip(n, 2, float64(maxIterations))))
}

// Temperature is the mini-net-decided sampling temperature τ∈[0.1,1.5],
// driven by the normalised entropy of the current activation field.
func Temperature(normalisedEntropy float64) float64 {
	return clip(0.1+1.4*normalisedEntropy, 0.1, 1.5)
}

// OutputCap is the absolute ceiling on generated output length:
// input_len · multiplier · f(maturity, path_stats, connectivity).
func OutputCap(snap stats.Snapshot, inputLen int, multiplier float64) int {
	f := clip(0.5+0.5*snap.GraphMaturity+snap.PathMean/20, 0.25, 2.0) * snap.GraphConnectivityFactor
	cap := float64(inputLen) * multiplier * f
	if cap < 1 {
		cap = 1
	}
	return int(math.Round(cap))
}

// EdgeMaturity is the per-edge-region maturity used for the initial-
// weight formula in pkg/hebbian: local_avg / (local_avg + 2).
func EdgeMaturity(localAvg float64) float64 {
	return stats.Maturity(localAvg, 2)
}

// FeedbackRate is η, the rate external feedback adjusts a terminal
// node's stop_weight by: young graphs correct themselves aggressively,
// mature graphs trust what they have already learned and adjust more
// conservatively (spec.md §4.9).
func FeedbackRate(snap stats.Snapshot) float64 {
	return clip(1-0.5*snap.GraphMaturity, 0.3, 1.0)
}

// VarianceWeights turns a set of stream standard deviations into a
// normalised weight vector: the signal that has been moving around the
// most lately carries the most information right now, so it gets the
// largest share. Used by pkg/wave's self/neighbour/context activation
// mix and pkg/decode's three-component edge score, so neither hardcodes
// its blend weights (spec.md §4.6/§4.7, "weights are derived ... from
// their respective variances").
func VarianceWeights(variances ...float64) []float64 {
	weights := make([]float64, len(variances))
	sum := 0.0
	for i, v := range variances {
		if v < 0 {
			v = 0
		}
		// A floor keeps an all-zero input from dividing to NaN and
		// keeps a momentarily silent signal from collapsing to
		// exactly zero weight.
		v += 0.01
		weights[i] = v
		sum += v
	}
	if sum <= 0 {
		equal := 1.0 / float64(len(weights))
		for i := range weights {
			weights[i] = equal
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}
