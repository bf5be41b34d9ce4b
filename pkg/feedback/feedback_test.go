package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/synapsegraph/pkg/decode"
	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
)

func newTestGraph() (*graphcore.GraphStore, *stats.Service) {
	svc := stats.New(10, stats.DefaultBootstraps())
	return graphcore.New(svc), svc
}

func TestApplyIsNoOpOnEmptyTrail(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	before := a.StopWeight

	Apply(gs, svc, svc.Snapshot(), decode.Trail{Terminal: a.Handle()}, 0.9, 1)

	assert.Equal(t, before, a.StopWeight)
	assert.EqualValues(t, 1, svc.Count(stats.StreamError))
}

func TestApplyClampsSignalIntoUnitRange(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))

	Apply(gs, svc, svc.Snapshot(), decode.Trail{Terminal: a.Handle()}, 5, 1)

	// Read the raw accumulator: Mean would still return the bootstrap
	// default after a single sample.
	_, mean, _ := svc.RawMoments(stats.StreamError)
	assert.LessOrEqual(t, mean, 1.0)
}

func TestApplyRaisesStopWeightOnPositiveSignal(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	edge, err := gs.CreateEdge(a.Handle(), b.Handle(), 50, 0)
	require.NoError(t, err)

	trail := decode.Trail{Edges: []graphcore.EdgeHandle{edge.Handle()}, Terminal: b.Handle()}
	Apply(gs, svc, svc.Snapshot(), trail, 1.0, 1)

	b2, _ := gs.Node(b.Handle())
	assert.Greater(t, b2.StopWeight, 0.0)
}

func TestApplyLowersStopWeightOnNegativeSignal(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	edge, err := gs.CreateEdge(a.Handle(), b.Handle(), 50, 0)
	require.NoError(t, err)
	b.SetStopWeight(5)

	trail := decode.Trail{Edges: []graphcore.EdgeHandle{edge.Handle()}, Terminal: b.Handle()}
	Apply(gs, svc, svc.Snapshot(), trail, 0.0, 1)

	b2, _ := gs.Node(b.Handle())
	assert.Less(t, b2.StopWeight, 5.0)
}

func TestApplyStrengthensTrailEdgesOnCorrectSignal(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	edge, err := gs.CreateEdge(a.Handle(), b.Handle(), 50, 0)
	require.NoError(t, err)
	before := edge.Weight()

	trail := decode.Trail{Edges: []graphcore.EdgeHandle{edge.Handle()}, Terminal: b.Handle()}
	Apply(gs, svc, svc.Snapshot(), trail, 1.0, 1)

	assert.Greater(t, edge.Weight(), before)
}

func TestApplyWeakensTrailEdgesOnIncorrectSignal(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	edge, err := gs.CreateEdge(a.Handle(), b.Handle(), 200, 0)
	require.NoError(t, err)
	before := edge.Weight()

	trail := decode.Trail{Edges: []graphcore.EdgeHandle{edge.Handle()}, Terminal: b.Handle()}
	Apply(gs, svc, svc.Snapshot(), trail, 0.0, 1)

	assert.Less(t, edge.Weight(), before)
}

func TestApplySkipsEdgesMarkedForDeletion(t *testing.T) {
	gs, svc := newTestGraph()
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	edge, err := gs.CreateEdge(a.Handle(), b.Handle(), 50, 0)
	require.NoError(t, err)
	gs.MarkForDeletion(edge)
	before := edge.Weight()

	trail := decode.Trail{Edges: []graphcore.EdgeHandle{edge.Handle()}, Terminal: b.Handle()}
	Apply(gs, svc, svc.Snapshot(), trail, 1.0, 1)

	assert.Equal(t, before, edge.Weight())
}
