// Package feedback implements the external feedback hook (spec.md
// §4.9): given an error signal in [0,1] and the trail of the most
// recent decode, it nudges the terminal node's learned stop_weight and
// applies the matching accuracy_bonus sign to every edge the decoder
// walked, then records the signal into the running-statistics service.
package feedback

import (
	"github.com/orneryd/synapsegraph/pkg/decode"
	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/hebbian"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
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

// Apply records signal (clamped to [0,1], per spec.md §6's Contract
// handling of out-of-range inputs) against the graph's running error
// stream, and, if trail names a decode that actually emitted something,
// nudges the terminal node's stop_weight by
// `(signal - 0.5) * FeedbackRate(snap) * 2` and applies the accuracy
// bonus's sign to every edge in the trail. A trail with no edges
// (nothing to give feedback about) is a no-op beyond recording the
// signal — this call never fails (spec.md §4.9, "Recovery: never
// fails; no-ops when no recent trail exists").
func Apply(gs *graphcore.GraphStore, svc *stats.Service, snap stats.Snapshot, trail decode.Trail, signal float64, ingestSeq int64) {
	signal = clip(signal, 0, 1)
	svc.Update(stats.StreamError, signal)

	if len(trail.Edges) == 0 {
		return
	}

	if terminal, ok := gs.Node(trail.Terminal); ok {
		deltaStop := (signal - 0.5) * thresholds.FeedbackRate(snap) * 2
		terminal.SetStopWeight(terminal.StopWeight + deltaStop)
	}

	result := hebbian.Signal{Correct: signal > 0.5, Incorrect: signal < 0.5}
	delta := hebbian.AccuracyDelta(snap, result)
	if delta == 0 {
		return
	}

	for _, eh := range trail.Edges {
		e, ok := gs.Edge(eh)
		if !ok || e.MarkedForDeletion() {
			continue
		}
		gs.Strengthen(e, delta, ingestSeq)
	}
}
