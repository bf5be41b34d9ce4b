// Package hierarchy implements per-ingest hierarchy formation (spec.md
// §4.5): examining edges strengthened during the current ingest and,
// under variance-adaptive dominance thresholds, materialising a
// higher-level node whose payload is the concatenation of its two
// components. Formation runs as a bounded loop to fixpoint, since a
// freshly formed hierarchy node's own edges may themselves become
// dominant enough to trigger further formation within the same ingest.
package hierarchy

import (
	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/hebbian"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
)

// levelSpan bounds the fixpoint loop at max_level+4 (spec.md §4.5,
// "bounded by the adaptive pattern-match limit, typically max_level+4").
const levelSpan = 4

// Form runs the formation fixpoint loop over candidates — the edges
// strengthened earlier in this ingest — and returns every hierarchy node
// handle materialised, in formation order. txn, if non-nil, is notified
// of every node and edge this call creates so a later fatal abort in the
// same ingest can roll them all back.
func Form(gs *graphcore.GraphStore, snap stats.Snapshot, candidates []graphcore.EdgeHandle, ingestSeq int64, txn *graphcore.Txn) []graphcore.NodeHandle {
	var formed []graphcore.NodeHandle
	frontier := candidates
	bound := currentMaxLevel(gs, frontier) + levelSpan

	for iter := 0; iter <= bound && len(frontier) > 0; iter++ {
		var next []graphcore.EdgeHandle
		changed := false

		for _, eh := range frontier {
			e, ok := gs.Edge(eh)
			if !ok || e.MarkedForDeletion() {
				continue
			}
			h, continuationEdges, ok := tryForm(gs, snap, e, ingestSeq, txn)
			if !ok {
				continue
			}
			changed = true
			formed = append(formed, h)
			next = append(next, continuationEdges...)
		}

		if !changed {
			break
		}
		frontier = next
	}

	return formed
}

func currentMaxLevel(gs *graphcore.GraphStore, edges []graphcore.EdgeHandle) int {
	max := 0
	for _, eh := range edges {
		e, ok := gs.Edge(eh)
		if !ok {
			continue
		}
		if a, ok := gs.Node(e.Source); ok && a.Level > max {
			max = a.Level
		}
		if b, ok := gs.Node(e.Target); ok && b.Level > max {
			max = b.Level
		}
	}
	return max
}

// tryForm applies spec.md §4.5's two dominance tests to e's endpoints
// and, if both pass, materialises the hierarchy node and its forward
// continuation edges (never reverse edges).
func tryForm(gs *graphcore.GraphStore, snap stats.Snapshot, e *graphcore.Edge, ingestSeq int64, txn *graphcore.Txn) (graphcore.NodeHandle, []graphcore.EdgeHandle, bool) {
	a, ok := gs.Node(e.Source)
	if !ok {
		return 0, nil, false
	}
	b, ok := gs.Node(e.Target)
	if !ok || b.Handle() == graphcore.StopHandle {
		return 0, nil, false
	}

	localAvg := gs.LocalAverageWeight(a)
	if localAvg <= 0 {
		return 0, nil, false
	}

	if e.Weight() <= localAvg*thresholds.HierarchyWeightMultiplier(snap) {
		return 0, nil, false
	}
	if e.Weight()/localAvg <= thresholds.HierarchyVarianceMultiplier(snap) {
		return 0, nil, false
	}

	payload := append(append([]byte(nil), a.Payload...), b.Payload...)
	level := a.Level
	if b.Level > level {
		level = b.Level
	}
	level++

	h, created := gs.FindOrCreateNode(a.Port, level, payload)
	if created && txn != nil {
		txn.NoteNodeCreated(h.Handle())
	}

	var continuationEdges []graphcore.EdgeHandle
	for _, target := range gs.IterateNeighbours(b, graphcore.DirectionOutgoing, b.OutDegree()) {
		if target == h.Handle() {
			continue
		}
		if _, exists := gs.FindEdge(h.Handle(), target); exists {
			continue
		}
		ce, err := gs.CreateEdge(h.Handle(), target, hebbian.InitialWeight(localAvg), ingestSeq)
		if err != nil {
			continue
		}
		if txn != nil {
			txn.NoteEdgeCreated(ce.Handle())
		}
		continuationEdges = append(continuationEdges, ce.Handle())
	}

	return h.Handle(), continuationEdges, true
}
