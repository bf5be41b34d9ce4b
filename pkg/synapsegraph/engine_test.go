package synapsegraph

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/synapsegraph/pkg/config"
	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PersistencePath:     filepath.Join(t.TempDir(), "graph.db"),
		BootstrapCount:      10,
		HabituationWindow:   8,
		MaxRefineIterations: 8,
		OutputCapMultiplier: 16,
		LogLevel:            "error",
		CacheCapacity:       10000,
		PruneInterval:       64,
	}
}

func openTestEngine(t *testing.T, seed int64) *Engine {
	t.Helper()
	eng, err := OpenWithSeed(testConfig(t), seed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestOpenRejectsNilConfig(t *testing.T) {
	_, err := Open(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenRejectsMissingPersistencePath(t *testing.T) {
	_, err := Open(&config.Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIngestEmptyBytesIsNoOp(t *testing.T) {
	eng := openTestEngine(t, 1)
	before := eng.Stats()

	require.NoError(t, eng.Ingest(1, nil))

	after := eng.Stats()
	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, before.EdgeCount, after.EdgeCount)
	assert.Equal(t, before.Ingests, after.Ingests)
}

func TestProduceOnEmptyGraphWithEmptyBytesReturnsEmptyOutput(t *testing.T) {
	eng := openTestEngine(t, 1)

	out, err := eng.Produce(1, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestClosedEngineRejectsAllCalls(t *testing.T) {
	eng, err := OpenWithSeed(testConfig(t), 1)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	assert.ErrorIs(t, eng.Ingest(1, []byte("a")), ErrClosed)
	_, err = eng.Produce(1, []byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, eng.Feedback(0.5), ErrClosed)
}

// S1: ingest("hello world") x20, produce("hello") returns a non-empty
// byte sequence whose first emitted byte is ' ' with probability > 0.5
// over repeated trials.
func TestScenarioS1HelloWorldFirstByteIsSpaceMajority(t *testing.T) {
	eng := openTestEngine(t, 7)
	for i := 0; i < 20; i++ {
		require.NoError(t, eng.Ingest(1, []byte("hello world")))
	}

	spaceFirst := 0
	trials := 50
	for i := 0; i < trials; i++ {
		out, err := eng.Produce(1, []byte("hello"))
		require.NoError(t, err)
		if len(out) > 0 && out[0] == ' ' {
			spaceFirst++
		}
	}
	assert.Greater(t, float64(spaceFirst)/float64(trials), 0.5)
}

// S2: ingest("AB") x10, produce("A") returns "B" deterministically —
// only one learned continuation exists, so sampling has nothing to
// choose between.
func TestScenarioS2SoleLearnedContinuationIsDeterministic(t *testing.T) {
	eng := openTestEngine(t, 3)
	for i := 0; i < 10; i++ {
		require.NoError(t, eng.Ingest(1, []byte("AB")))
	}

	for i := 0; i < 10; i++ {
		out, err := eng.Produce(1, []byte("A"))
		require.NoError(t, err)
		require.NotEmpty(t, out)
		assert.Equal(t, byte('B'), out[0])
	}
}

// S3: ingest("cat meow") x10, produce("cat") — first emitted byte is
// ' ', subsequent bytes form a non-empty prefix of " meow".
func TestScenarioS3CatMeowProducesSpaceThenPrefixOfMeow(t *testing.T) {
	eng := openTestEngine(t, 11)
	for i := 0; i < 10; i++ {
		require.NoError(t, eng.Ingest(1, []byte("cat meow")))
	}

	out, err := eng.Produce(1, []byte("cat"))
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, byte(' '), out[0])

	want := []byte(" meow")
	n := len(out)
	if n > len(want) {
		n = len(want)
	}
	assert.Equal(t, want[:n], out[:n])
}

// S4: ingest("hello") x200, save/load (here: Close/reopen), then node
// and edge counts match exactly.
func TestScenarioS4StatsSurvivePersistenceRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	eng, err := OpenWithSeed(cfg, 1)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, eng.Ingest(1, []byte("hello")))
	}
	before := eng.Stats()
	require.NoError(t, eng.Close())

	reopened, err := OpenWithSeed(cfg, 1)
	require.NoError(t, err)
	defer reopened.Close()
	after := reopened.Stats()

	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, before.EdgeCount, after.EdgeCount)
}

// S5: ingest("xyzzy") x1, produce("novel_unseen_prefix") does not crash
// and returns an output no longer than the configured cap.
func TestScenarioS5NovelPrefixNeverCrashesOrLoops(t *testing.T) {
	eng := openTestEngine(t, 42)
	require.NoError(t, eng.Ingest(1, []byte("xyzzy")))

	input := []byte("novel_unseen_prefix")
	out, err := eng.Produce(1, input)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), int(eng.cfg.OutputCapMultiplier)*len(input)+1)
}

// S6: 10,000 random 1-8 byte ingests; no invariant (1)-(6) is violated
// at any snapshot taken between ingests.
func TestScenarioS6InvariantsHoldAcrossRandomIngests(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long fuzz-style invariant sweep in -short mode")
	}
	eng := openTestEngine(t, 99)
	src := rand.New(rand.NewSource(1234))

	for i := 0; i < 10_000; i++ {
		n := 1 + src.Intn(8)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte(src.Intn(256))
		}
		require.NoError(t, eng.Ingest(uint8(src.Intn(4)), buf))

		assertInvariants(t, eng)
	}
}

func assertInvariants(t *testing.T, eng *Engine) {
	t.Helper()
	gs := eng.gs

	stopCount := 0
	for _, h := range gs.AllNodeHandles() {
		if h == graphcore.StopHandle {
			stopCount++
		}
	}
	require.LessOrEqual(t, stopCount, 1, "invariant 3: STOP node count <= 1")

	for _, eh := range gs.AllEdgeHandles() {
		e, ok := gs.Edge(eh)
		require.True(t, ok)
		require.False(t, e.MarkedForDeletion(), "invariant 4: no edge marked for deletion after a wave")
		require.GreaterOrEqual(t, e.Weight(), 1.0, "invariant 1: edge weight >= 1")
		require.LessOrEqual(t, e.Weight(), 255.0, "invariant 1: edge weight <= 255")

		_, srcOK := gs.Node(e.Source)
		_, tgtOK := gs.Node(e.Target)
		require.True(t, srcOK, "invariant 1: edge source resolves to a live node")
		require.True(t, tgtOK, "invariant 1: edge target resolves to a live node")
	}
}

// TestPruneDisusedRemovesOnlyStaleSingleTouchNodes exercises the
// disuse-driven removal spec.md §3 requires: a node touched once and
// then left idle past thresholds.DisuseWindow is pruned on the next
// periodic sweep; a node touched again since (or still within the
// window) survives.
func TestPruneDisusedRemovesOnlyStaleSingleTouchNodes(t *testing.T) {
	eng := openTestEngine(t, 1)
	window := thresholds.DisuseWindow(eng.svc.Snapshot())

	stale, _ := eng.gs.FindOrCreateNode(1, 0, []byte("z"))
	eng.gs.Touch(stale.Handle(), 1)
	fresh, _ := eng.gs.FindOrCreateNode(1, 0, []byte("q"))
	pruneSeq := window + 100
	eng.gs.Touch(fresh.Handle(), pruneSeq)

	removed := eng.pruneDisused(pruneSeq)
	assert.Equal(t, 1, removed)

	_, ok := eng.gs.Node(stale.Handle())
	assert.False(t, ok, "a single-touch node idle well past the disuse window must be pruned")
	_, ok = eng.gs.Node(fresh.Handle())
	assert.True(t, ok, "a node touched this same instant is not idle at all")
}

// TestPruneDisusedKeepsRepeatedlyTouchedNodes confirms a node that has
// been reinforced beyond its initial creation is never pruned, however
// large the idle gap looks to a stale caller's seq argument.
func TestPruneDisusedKeepsRepeatedlyTouchedNodes(t *testing.T) {
	eng := openTestEngine(t, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Ingest(1, []byte("ab")))
	}
	a, ok := eng.gs.FindNode(1, 0, []byte("a"))
	require.True(t, ok)
	assert.Greater(t, a.TouchCount(), int64(1))

	eng.pruneDisused(a.LastTouched() + 10_000)

	_, ok = eng.gs.Node(a.Handle())
	assert.True(t, ok, "a node reinforced across multiple ingests is never disuse-eligible")
}

// TestFeedbackWithNoPriorTrailIsNoOpOnGraphState is the idempotence law
// from spec.md §8: feedback with nothing to apply it to only records the
// signal into running statistics.
func TestFeedbackWithNoPriorTrailIsNoOpOnGraphState(t *testing.T) {
	eng := openTestEngine(t, 5)
	require.NoError(t, eng.Ingest(1, []byte("seed")))

	before := eng.Stats()
	require.NoError(t, eng.Feedback(0.5))
	after := eng.Stats()

	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, before.EdgeCount, after.EdgeCount)
}

func TestFeedbackClampsOutOfRangeSignal(t *testing.T) {
	eng := openTestEngine(t, 6)
	require.NoError(t, eng.Ingest(1, []byte("AB")))
	_, err := eng.Produce(1, []byte("A"))
	require.NoError(t, err)

	require.NoError(t, eng.Feedback(5.0))
	assert.Equal(t, int64(1), eng.Stats().Diagnostics.ContractNormalisations)
}
