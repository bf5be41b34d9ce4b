package hebbian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
)

func snapshotFor(svc *stats.Service) stats.Snapshot {
	return svc.Snapshot()
}

func TestWeakerThanAverageEdgeLearnsFasterThanStrongerEdge(t *testing.T) {
	weakFactor := dominanceFactor(1, 10)
	strongFactor := dominanceFactor(20, 10)
	assert.Greater(t, weakFactor, strongFactor)
	assert.GreaterOrEqual(t, weakFactor, 0.67)
	assert.LessOrEqual(t, weakFactor, 2.0)
	assert.GreaterOrEqual(t, strongFactor, 0.67)
	assert.LessOrEqual(t, strongFactor, 2.0)
}

func TestContextBonusOnlyAboveThreshold(t *testing.T) {
	svc := stats.New(1, stats.DefaultBootstraps())
	snap := snapshotFor(svc)
	assert.Zero(t, contextBonus(snap, 0.5))
	assert.Greater(t, contextBonus(snap, 0.81), 0.0)
}

func TestAccuracyBonusSignMatchesSignal(t *testing.T) {
	svc := stats.New(1, stats.DefaultBootstraps())
	snap := snapshotFor(svc)
	assert.Greater(t, accuracyBonus(snap, Signal{Correct: true}), 0.0)
	assert.Less(t, accuracyBonus(snap, Signal{Incorrect: true}), 0.0)
	assert.Zero(t, accuracyBonus(snap, Signal{}))
}

func TestStrengthenAppliesClampedDelta(t *testing.T) {
	svc := stats.New(1, stats.DefaultBootstraps())
	gs := graphcore.New(svc)
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	e, err := gs.CreateEdge(a.Handle(), b.Handle(), InitialWeight(1), 0)
	require.NoError(t, err)

	before := e.Weight()
	snap := snapshotFor(svc)
	delta := Strengthen(gs, snap, e, 0, Signal{Correct: true}, 1)

	assert.Greater(t, delta, 0.0)
	assert.Greater(t, e.Weight(), before)
	assert.LessOrEqual(t, e.Weight(), 255.0)
}

func TestStrengthenWithIncorrectSignalCanShrinkWeight(t *testing.T) {
	svc := stats.New(1, stats.DefaultBootstraps())
	gs := graphcore.New(svc)
	a, _ := gs.FindOrCreateNode(0, 0, []byte("a"))
	b, _ := gs.FindOrCreateNode(0, 0, []byte("b"))
	e, err := gs.CreateEdge(a.Handle(), b.Handle(), 200, 0)
	require.NoError(t, err)

	snap := stats.Snapshot{
		GraphMaturity:    0.9,
		ConfidenceMean:   0.1,
		ConfidenceStdDev: 0.05,
		ErrorMean:        0.9,
	}
	before := e.Weight()
	Strengthen(gs, snap, e, 0, Signal{Incorrect: true}, 1)
	assert.LessOrEqual(t, e.Weight(), before)
	assert.GreaterOrEqual(t, e.Weight(), 1.0)
}

func TestInitialWeightGrowsWithMaturity(t *testing.T) {
	young := InitialWeight(0)
	mature := InitialWeight(1000)
	assert.Less(t, young, mature)
	assert.GreaterOrEqual(t, young, 0.5)
	assert.Less(t, mature, 1.5)
}
