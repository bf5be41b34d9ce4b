// Package decode implements the autoregressive DECODE phase (spec.md
// §4.7): starting at the last seed node, it walks outgoing edges one
// step at a time, scoring each candidate by a variance-weighted blend
// of target activation, relative edge weight, and context fit, letting
// the node's learned stop_weight compete against the best continuation,
// sampling under an entropy-derived temperature, and suppressing
// repeating cycles that have no outgoing edge leading somewhere new.
// Nodes named as input to the triggering ENCODE call are never
// themselves selected as continuation candidates.
package decode

import (
	"math"
	"math/rand"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
	"github.com/orneryd/synapsegraph/pkg/wave"
)

// Trail is the record of one decode run, consumed by pkg/feedback:
// every edge walked, the bytes emitted, and the node the walk stopped
// at (the one whose stop_weight feedback will adjust).
type Trail struct {
	Edges    []graphcore.EdgeHandle
	Output   []byte
	Terminal graphcore.NodeHandle
}

type candidate struct {
	edge   *graphcore.Edge
	target *graphcore.Node
	score  float64
}

// Decode runs the autoregressive walk from start, recording into
// habituation exactly as the wave engine's REFINE phase expects so a
// subsequent refine call damps whatever this call just emitted.
// outputCapMultiplier scales spec.md §6's output_cap_multiplier
// configuration option; inputLen is the length of the triggering input.
// excludeInputs names the nodes ENCODE seeded from; they are never
// selected as output candidates (spec.md §9, "always exclude input
// nodes from decode candidates").
func Decode(
	gs *graphcore.GraphStore,
	snap stats.Snapshot,
	start graphcore.NodeHandle,
	habituation *wave.HabituationWindow,
	inputLen int,
	outputCapMultiplier float64,
	rng *rand.Rand,
	excludeInputs ...graphcore.NodeHandle,
) Trail {
	trail := Trail{Terminal: start}

	outputCap := thresholds.OutputCap(snap, inputLen, outputCapMultiplier)
	cycleWindow := thresholds.CycleWindow(snap)
	weights := thresholds.VarianceWeights(snap.ActivationStdDev, snap.ConfidenceStdDev, snap.ErrorStdDev)
	wActivation, wWeight, wContext := weights[0], weights[1], weights[2]
	stopCompetitiveness := thresholds.StopCompetitiveness(snap)

	excluded := make(map[graphcore.NodeHandle]bool, len(excludeInputs))
	for _, h := range excludeInputs {
		excluded[h] = true
	}

	current, ok := gs.Node(start)
	if !ok {
		return trail
	}

	var history []graphcore.NodeHandle

	for steps := 0; steps < outputCap; steps++ {
		candidates := scoreCandidates(gs, current, wActivation, wWeight, wContext, excluded)

		best := 0.0
		for _, c := range candidates {
			if c.score > best {
				best = c.score
			}
		}

		stopProb := current.StopWeight * stopCompetitiveness
		if len(candidates) == 0 || stopProb/(stopProb+best) > rng.Float64() {
			trail.Terminal = current.Handle()
			return trail
		}

		entropy := normalisedEntropy(candidates)
		temperature := thresholds.Temperature(entropy)
		chosen := sampleCandidate(rng, candidates, temperature)

		trail.Edges = append(trail.Edges, chosen.edge.Handle())
		trail.Output = append(trail.Output, chosen.target.Payload...)
		habituation.Record(chosen.target.Handle())
		gs.RecordContext(current, chosen.target.Handle())

		history = append(history, chosen.target.Handle())
		if _, suppressed := detectSuppressedCycle(gs, history, cycleWindow); suppressed {
			trail.Terminal = chosen.target.Handle()
			return trail
		}

		if chosen.target.OutDegree() == 0 {
			trail.Terminal = chosen.target.Handle()
			return trail
		}

		current = chosen.target
	}

	trail.Terminal = current.Handle()
	return trail
}

// scoreCandidates enumerates current's outgoing edges, excluding any
// edge to STOP (the STOP control signal always competes via the node's
// stop_weight scalar, never as a sampled continuation) and any edge into
// an excluded input node, and returns each candidate's blended score.
func scoreCandidates(gs *graphcore.GraphStore, current *graphcore.Node, wActivation, wWeight, wContext float64, excluded map[graphcore.NodeHandle]bool) []candidate {
	localAvg := gs.LocalAverageWeight(current)
	var out []candidate

	for _, eh := range current.Outgoing() {
		e, ok := gs.Edge(eh)
		if !ok || e.MarkedForDeletion() || e.Target == graphcore.StopHandle || excluded[e.Target] {
			continue
		}
		target, ok := gs.Node(e.Target)
		if !ok {
			continue
		}

		weightScore := 1.0
		if localAvg > 0 {
			weightScore = e.Weight() / localAvg
		}
		contextScore := target.ContextMatch(current.Handle())

		score := wActivation*target.Activation() + wWeight*weightScore + wContext*contextScore
		out = append(out, candidate{edge: e, target: target, score: score})
	}

	return out
}

func normalisedEntropy(candidates []candidate) float64 {
	if len(candidates) <= 1 {
		return 0
	}
	probs := softmax(candidates, 1.0)
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h / math.Log(float64(len(candidates)))
}

func softmax(candidates []candidate, temperature float64) []float64 {
	if temperature <= 0 {
		temperature = 1
	}
	maxLogit := math.Inf(-1)
	logits := make([]float64, len(candidates))
	for i, c := range candidates {
		logits[i] = c.score / temperature
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}
	probs := make([]float64, len(candidates))
	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs
}

func sampleCandidate(rng *rand.Rand, candidates []candidate, temperature float64) candidate {
	if len(candidates) == 1 {
		return candidates[0]
	}
	probs := softmax(candidates, temperature)
	r := rng.Float64()
	cumulative := 0.0
	for i, p := range probs {
		cumulative += p
		if r <= cumulative {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// detectSuppressedCycle looks for a repeating tail in history of period
// 1..window with at least 3 repetitions, and, if found, checks whether
// any node in that cycle has an outgoing edge leaving the cycle with
// strength above its local average. If no such escape exists, decoding
// should stop (spec.md §4.7, "Loop suppression").
func detectSuppressedCycle(gs *graphcore.GraphStore, history []graphcore.NodeHandle, window int) ([]graphcore.NodeHandle, bool) {
	n := len(history)
	for period := 1; period <= window && period*3 <= n; period++ {
		reps := 1
		for (reps+1)*period <= n && equalTail(history, n, period, reps) {
			reps++
		}
		if reps >= 3 {
			cycle := append([]graphcore.NodeHandle(nil), history[n-period:]...)
			if cycleHasEscape(gs, cycle) {
				continue
			}
			return cycle, true
		}
	}
	return nil, false
}

func equalTail(history []graphcore.NodeHandle, n, period, reps int) bool {
	a := history[n-period : n]
	b := history[n-(reps+1)*period : n-reps*period]
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cycleHasEscape(gs *graphcore.GraphStore, cycle []graphcore.NodeHandle) bool {
	inCycle := make(map[graphcore.NodeHandle]bool, len(cycle))
	for _, h := range cycle {
		inCycle[h] = true
	}
	for _, h := range cycle {
		n, ok := gs.Node(h)
		if !ok {
			continue
		}
		localAvg := gs.LocalAverageWeight(n)
		for _, eh := range n.Outgoing() {
			e, ok := gs.Edge(eh)
			if !ok || e.MarkedForDeletion() || inCycle[e.Target] {
				continue
			}
			if e.Weight() > localAvg {
				return true
			}
		}
	}
	return false
}
