// Package wave implements the ENCODE and REFINE phases of the
// cognitive loop (spec.md §4.6): seeding a sparse activation field from
// the input, then iteratively spreading it along learned edges while
// applying habituation (recently decoded nodes are damped) and
// suppression (over-active nodes are softened), halting early once the
// field settles.
package wave

import (
	"math"
	"sort"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
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

// Seed is one input byte's contribution to the ENCODE phase: its graph
// node together with the temporal-trace and position-weight factors
// spec.md §4.6 combines into the node's initial activation.
type Seed struct {
	Node           graphcore.NodeHandle
	TemporalTrace  float64
	PositionWeight float64
}

// Field is the set of nodes touched by the current wave. REFINE only
// iterates the active frontier, not the whole graph, which keeps one
// ingest's cost proportional to what it actually touched.
type Field struct {
	active map[graphcore.NodeHandle]struct{}
}

func newField() *Field {
	return &Field{active: make(map[graphcore.NodeHandle]struct{})}
}

func (f *Field) touch(h graphcore.NodeHandle) {
	f.active[h] = struct{}{}
}

// Contains reports whether h is part of the active field.
func (f *Field) Contains(h graphcore.NodeHandle) bool {
	_, ok := f.active[h]
	return ok
}

// Handles returns every node handle currently in the field, in stable
// ascending order.
func (f *Field) Handles() []graphcore.NodeHandle {
	out := make([]graphcore.NodeHandle, 0, len(f.active))
	for h := range f.active {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of nodes currently in the field.
func (f *Field) Len() int { return len(f.active) }

// HabituationWindow tracks the most recently decoder-emitted node
// handles so REFINE can damp a node's activation the moment the decoder
// has just emitted it, per spec.md §4.6's "a node recently emitted by
// the decoder is attenuated by an exponential-decay kernel over the
// recent-output window". The engine keeps one instance per Engine,
// shared across produce calls; the decoder records into it as it emits
// and the wave engine only reads it.
type HabituationWindow struct {
	recent []graphcore.NodeHandle
	size   int
}

// NewHabituationWindow creates a window retaining the last size emitted
// handles (spec.md §6's configurable habituation_window, default 8).
func NewHabituationWindow(size int) *HabituationWindow {
	if size < 1 {
		size = 1
	}
	return &HabituationWindow{size: size}
}

// Record appends h as the most recently emitted node, evicting the
// oldest entry once the window is full.
func (w *HabituationWindow) Record(h graphcore.NodeHandle) {
	w.recent = append(w.recent, h)
	if len(w.recent) > w.size {
		w.recent = w.recent[len(w.recent)-w.size:]
	}
}

// Factor returns the multiplicative attenuation applied to h's
// activation: 1 (no attenuation) if h was not recently emitted,
// decaying exponentially from a strong initial damping back toward 1 as
// the emission recedes into the window's past.
func (w *HabituationWindow) Factor(h graphcore.NodeHandle) float64 {
	age := -1
	for i := len(w.recent) - 1; i >= 0; i-- {
		if w.recent[i] == h {
			age = len(w.recent) - 1 - i
			break
		}
	}
	if age < 0 {
		return 1
	}
	decayed := math.Exp(-float64(age) / float64(w.size))
	return clip(1-0.7*decayed, 0.1, 1)
}

// Encode seeds every node in seeds with `temporal_trace(i) *
// position_weight(i)`, clamped into [0,1], then spreads one hop from
// the last seed along its outgoing edges with `spread = edge.weight *
// boost`. Input nodes are recorded in the returned field like any other
// touched node; callers that must exclude them from output selection
// (the decoder) track the seed set separately.
func Encode(gs *graphcore.GraphStore, snap stats.Snapshot, seeds []Seed, ingestSeq int64) *Field {
	field := newField()
	if len(seeds) == 0 {
		return field
	}

	for _, s := range seeds {
		n, ok := gs.Node(s.Node)
		if !ok {
			continue
		}
		n.SetActivation(clip(s.TemporalTrace*s.PositionWeight, 0, 1))
		field.touch(s.Node)
		gs.Touch(s.Node, ingestSeq)
	}

	last := seeds[len(seeds)-1]
	lastNode, ok := gs.Node(last.Node)
	if !ok {
		return field
	}

	boost := thresholds.SpreadBoost(snap)
	for _, eh := range lastNode.Outgoing() {
		e, ok := gs.Edge(eh)
		if !ok || e.MarkedForDeletion() {
			continue
		}
		target, ok := gs.Node(e.Target)
		if !ok {
			continue
		}
		target.SetActivation(target.Activation() + e.Weight()*boost)
		field.touch(e.Target)
		gs.RecordContext(lastNode, e.Target)
	}

	return field
}

// RefineStep runs one REFINE iteration over field: samples each active
// node's neighbours up to the adaptive limit, applies habituation and
// suppression, then folds prior self-activation, neighbour spread, and
// context fit into the node's next activation with per-call variance-
// derived weights. Freshly sampled neighbours join the field for the
// next step. An edge whose weight has fallen below
// thresholds.WeightFloor(local_avg) is marked for deletion on the spot
// and excluded from this step's spread (spec.md §4.3, "entered when the
// wave engine observes the edge's usage fall below its adaptive floor
// within propagation"); Cleanup removes it once REFINE finishes.
// Returns the total absolute activation change, the signal Refine uses
// to halt early.
func RefineStep(gs *graphcore.GraphStore, snap stats.Snapshot, svc *stats.Service, field *Field, habituation *HabituationWindow) float64 {
	cutoff := thresholds.ActivationCutoff(snap, svc)
	suppression := thresholds.SuppressionFactor(snap)
	weights := thresholds.VarianceWeights(snap.ActivationStdDev, snap.ConfidenceStdDev, snap.ErrorStdDev)
	wSelf, wSpread, wContext := weights[0], weights[1], weights[2]

	type pendingUpdate struct {
		node  *graphcore.Node
		value float64
	}

	handles := field.Handles()
	updates := make([]pendingUpdate, 0, len(handles))
	var newlyTouched []graphcore.NodeHandle
	totalChange := 0.0

	for _, h := range handles {
		n, ok := gs.Node(h)
		if !ok {
			continue
		}

		limit := thresholds.NeighbourLimit(snap, n.OutDegree(), n.Level)
		neighbours := gs.IterateNeighbours(n, graphcore.DirectionOutgoing, limit)

		neighbourSpread := 0.0
		contextFit := 0.0
		if len(neighbours) > 0 {
			localAvg := gs.LocalAverageWeight(n)
			floor := thresholds.WeightFloor(localAvg)
			for _, nb := range neighbours {
				nbNode, ok := gs.Node(nb)
				if !ok {
					continue
				}
				ratio := 1.0
				if edge, ok := gs.FindEdge(h, nb); ok {
					if edge.Weight() < floor {
						gs.MarkForDeletion(edge)
						continue
					}
					if localAvg > 0 {
						ratio = edge.Weight() / localAvg
					}
				}
				neighbourSpread += nbNode.Activation() * ratio
				contextFit += n.ContextMatch(nb)
				if !field.Contains(nb) {
					newlyTouched = append(newlyTouched, nb)
				}
			}
			neighbourSpread /= float64(len(neighbours))
			contextFit /= float64(len(neighbours))
		}

		self := n.Activation() * habituation.Factor(h)
		if self > cutoff {
			self *= suppression
		}

		next := math.Max(0, wSelf*self+wSpread*neighbourSpread+wContext*contextFit)
		updates = append(updates, pendingUpdate{n, next})
		totalChange += math.Abs(next - n.Activation())
	}

	for _, u := range updates {
		u.node.SetActivation(u.value)
	}
	for _, h := range newlyTouched {
		field.touch(h)
	}

	return totalChange
}

// Refine runs up to thresholds.RefineIterations(snap, maxIterations)
// REFINE steps, halting as soon as a step's total activation change
// drops below the running activation stream's own standard deviation
// (spec.md §4.6, "the iteration halts early when the activation field
// changes by less than its own running stddev"). Returns the number of
// steps actually run.
func Refine(gs *graphcore.GraphStore, snap stats.Snapshot, svc *stats.Service, field *Field, habituation *HabituationWindow, maxIterations int) int {
	target := thresholds.RefineIterations(snap, maxIterations)
	halt := svc.StdDev(stats.StreamActivation)

	steps := 0
	for steps < target {
		change := RefineStep(gs, snap, svc, field, habituation)
		steps++
		if change < halt {
			break
		}
	}
	return steps
}

// Cleanup releases every edge marked for deletion during the wave. It
// must run exactly once, after REFINE has finished, never mid-iteration
// (spec.md §4.6, "the non-negotiable invariant that enables long-running
// stability").
func Cleanup(gs *graphcore.GraphStore) int {
	removed := 0
	for _, eh := range gs.AllEdgeHandles() {
		e, ok := gs.Edge(eh)
		if !ok || !e.MarkedForDeletion() {
			continue
		}
		if err := gs.RemoveEdge(eh); err == nil {
			removed++
		}
	}
	return removed
}
