package wave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
)

func newTestGraph() (*graphcore.GraphStore, *stats.Service) {
	svc := stats.New(10, stats.DefaultBootstraps())
	return graphcore.New(svc), svc
}

func TestEncodeClampsSeedActivationIntoUnitRange(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))

	field := Encode(gs, svc.Snapshot(), []Seed{{Node: a.Handle(), TemporalTrace: 2, PositionWeight: 2}}, 1)

	assert.True(t, field.Contains(a.Handle()))
	assert.LessOrEqual(t, a.Activation(), 1.0)
	assert.GreaterOrEqual(t, a.Activation(), 0.0)
}

func TestEncodeSpreadsFromLastSeedAlongOutgoingEdges(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	_, err := gs.CreateEdge(a.Handle(), b.Handle(), 100, 0)
	require.NoError(t, err)

	field := Encode(gs, svc.Snapshot(), []Seed{{Node: a.Handle(), TemporalTrace: 1, PositionWeight: 1}}, 1)

	assert.True(t, field.Contains(b.Handle()))
	assert.Greater(t, b.Activation(), 0.0)
}

func TestEncodeWithEmptySeedsReturnsEmptyField(t *testing.T) {
	gs, svc := newTestGraph()
	field := Encode(gs, svc.Snapshot(), nil, 1)
	assert.Equal(t, 0, field.Len())
}

func TestHabituationWindowDampsRecentlyEmittedNode(t *testing.T) {
	w := NewHabituationWindow(4)
	n := graphcore.NodeHandle(7)
	assert.Equal(t, 1.0, w.Factor(n))

	w.Record(n)
	assert.Less(t, w.Factor(n), 1.0)
}

func TestHabituationWindowRecoversAsEmissionAges(t *testing.T) {
	w := NewHabituationWindow(4)
	n := graphcore.NodeHandle(1)
	w.Record(n)
	fresh := w.Factor(n)

	for i := 0; i < 3; i++ {
		w.Record(graphcore.NodeHandle(100 + i))
	}
	aged := w.Factor(n)
	assert.Greater(t, aged, fresh)
}

func TestHabituationWindowEvictsBeyondCapacity(t *testing.T) {
	w := NewHabituationWindow(2)
	n := graphcore.NodeHandle(1)
	w.Record(n)
	w.Record(graphcore.NodeHandle(2))
	w.Record(graphcore.NodeHandle(3))

	assert.Equal(t, 1.0, w.Factor(n), "n should have fallen out of a window of size 2")
}

func TestRefineStepReturnsZeroChangeOnEmptyField(t *testing.T) {
	gs, svc := newTestGraph()
	field := newField()
	change := RefineStep(gs, svc.Snapshot(), svc, field, NewHabituationWindow(8))
	assert.Zero(t, change)
}

func TestRefineStepPullsActivationFromStrongNeighbour(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	_, err := gs.CreateEdge(a.Handle(), b.Handle(), 200, 0)
	require.NoError(t, err)

	a.SetActivation(0.1)
	b.SetActivation(0.9)

	field := newField()
	field.touch(a.Handle())

	RefineStep(gs, svc.Snapshot(), svc, field, NewHabituationWindow(8))

	assert.Greater(t, a.Activation(), 0.0)
	assert.True(t, field.Contains(b.Handle()), "sampling a's neighbours should add b to the field")
}

func TestRefineHaltsEarlyOnceFieldStabilises(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	a.SetActivation(0)

	field := newField()
	field.touch(a.Handle())

	steps := Refine(gs, svc.Snapshot(), svc, field, NewHabituationWindow(8), 8)
	assert.LessOrEqual(t, steps, 8)
	assert.GreaterOrEqual(t, steps, 1)
}

func TestRefineStepMarksAndCleanupRemovesAnEdgeBelowItsFloor(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	c, _ := gs.FindOrCreateNode(0, 0, []byte("c"))
	stagnant, err := gs.CreateEdge(a.Handle(), b.Handle(), 1, 0)
	require.NoError(t, err)
	strengthened, err := gs.CreateEdge(a.Handle(), c.Handle(), 1, 0)
	require.NoError(t, err)

	// Repeated Hebbian strengthening of one sibling edge, with the other
	// left untouched, is the only way a live edge's weight can fall below
	// its floor: weight never decays on its own, but local_avg (and so the
	// floor derived from it) rises as siblings strengthen.
	gs.Strengthen(strengthened, 1000, 1)
	localAvg := gs.LocalAverageWeight(a)
	require.Greater(t, localAvg*0.1, stagnant.Weight(), "fixture must actually push the stagnant edge below its floor")

	snap := svc.Snapshot()
	snap.GraphConnectivityFactor = 2.0 // forces NeighbourLimit to sample both of a's edges

	field := newField()
	field.touch(a.Handle())
	RefineStep(gs, snap, svc, field, NewHabituationWindow(8))

	assert.True(t, stagnant.MarkedForDeletion())
	assert.False(t, strengthened.MarkedForDeletion())

	removed := Cleanup(gs)
	assert.Equal(t, 1, removed)
	_, ok := gs.Edge(stagnant.Handle())
	assert.False(t, ok)
	_, ok = gs.Edge(strengthened.Handle())
	assert.True(t, ok)
}

func TestCleanupRemovesOnlyMarkedEdges(t *testing.T) {
	gs, _ := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	c, _ := gs.FindOrCreateNode(0, 0, []byte("c"))
	live, err := gs.CreateEdge(a.Handle(), b.Handle(), 10, 0)
	require.NoError(t, err)
	marked, err := gs.CreateEdge(a.Handle(), c.Handle(), 10, 0)
	require.NoError(t, err)
	gs.MarkForDeletion(marked)

	removed := Cleanup(gs)

	assert.Equal(t, 1, removed)
	_, stillThere := gs.Edge(live.Handle())
	assert.True(t, stillThere)
	_, gone := gs.Edge(marked.Handle())
	assert.False(t, gone)
}
