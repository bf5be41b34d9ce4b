// Package synapsegraph is the top-level library surface: Open, Close,
// Ingest, Produce, Feedback, Stats (spec.md §6). It wires the graph
// store, running statistics, Hebbian learning, hierarchy formation, the
// wave engine, the decoder and the persistence layer into the single
// sequential pipeline spec.md §5 mandates: store updates → Hebbian →
// hierarchy → wave → decode → trail write, all under one exclusive
// lock per call.
package synapsegraph

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/orneryd/synapsegraph/pkg/config"
	"github.com/orneryd/synapsegraph/pkg/decode"
	"github.com/orneryd/synapsegraph/pkg/feedback"
	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/hebbian"
	"github.com/orneryd/synapsegraph/pkg/hierarchy"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/storage"
	"github.com/orneryd/synapsegraph/pkg/synlog"
	"github.com/orneryd/synapsegraph/pkg/thresholds"
	"github.com/orneryd/synapsegraph/pkg/wave"
)

// Diagnostics surfaces the Numerical and Contract error-kind counters
// from spec.md §7: events absorbed and logged locally rather than
// returned to the caller, but still worth exposing read-only.
// NaNResets stays zero: nothing increments it, since stats.Service.Update
// drops NaN and Inf samples without counting them.
type Diagnostics struct {
	NaNResets              int64
	ContractNormalisations int64
	StructuralRejections   int64
}

// StatsSnapshot is the read-only view spec.md §6's `stats(Graph)`
// returns: node/edge counts plus the running-statistics service's
// current view, frozen at the moment of the call.
type StatsSnapshot struct {
	NodeCount int
	EdgeCount int
	Ingests   int64

	stats.Snapshot

	Diagnostics Diagnostics
}

// Engine is the single-writer graph handle spec.md §5 describes: one
// sync.Mutex guards the entire ingest/produce/feedback surface, and a
// per-ingest graphcore.Txn journals every handle created during the
// call so a fatal error can unwind it (matching the teacher's own
// DB.mu-guarded-struct shape, narrowed from RWMutex to Mutex since wave
// cleanup here must be mutually exclusive with readers too).
type Engine struct {
	mu     sync.Mutex
	closed bool

	cfg   *config.Config
	store *storage.Engine
	gs    *graphcore.GraphStore
	svc   *stats.Service

	habituation *wave.HabituationWindow
	rng         *rand.Rand
	ingestSeq   int64

	lastTrail   decode.Trail
	haveTrail   bool
	diag        Diagnostics
}

// Open opens (creating if absent) the persistent graph named by
// cfg.PersistencePath and wires every subsystem around it. The
// decoder's pseudo-random source is seeded from the current time; use
// OpenWithSeed for deterministic, replayable decoding (spec.md §9).
func Open(cfg *config.Config) (*Engine, error) {
	return open(cfg, time.Now().UnixNano())
}

// OpenWithSeed is Open with an explicit decoder PRNG seed, so a test or
// a replay tool can reproduce a prior run's stochastic DECODE choices
// bit-for-bit (spec.md §9, "the choice of pseudo-random source for the
// decoder must be parameterised to enable replay").
func OpenWithSeed(cfg *config.Config, seed int64) (*Engine, error) {
	return open(cfg, seed)
}

func open(cfg *config.Config, seed int64) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	for _, verr := range cfg.Validate() {
		synlog.Warnf("synapsegraph: %v", verr)
	}
	if strings.TrimSpace(cfg.PersistencePath) == "" {
		return nil, fmt.Errorf("%w: persistence_path is required", ErrInvalidConfig)
	}
	synlog.SetLevel(synlog.ParseLevel(cfg.LogLevel))

	store, err := storage.Open(storage.Options{DataDir: cfg.PersistencePath, CacheCapacity: cfg.CacheCapacity})
	if err != nil {
		return nil, fmt.Errorf("synapsegraph: opening storage: %w", err)
	}

	gs, svc, err := store.LoadGraph(cfg.BootstrapCount, stats.DefaultBootstraps())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &Engine{
		cfg:         cfg,
		store:       store,
		gs:          gs,
		svc:         svc,
		habituation: wave.NewHabituationWindow(cfg.HabituationWindow),
		rng:         rand.New(rand.NewSource(seed)),
		ingestSeq:   svc.Ingests(),
	}, nil
}

// Close flushes the graph to persistent storage and releases the
// underlying storage engine. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.store.SaveGraph(e.gs, e.svc); err != nil {
		_ = e.store.Close()
		return fmt.Errorf("synapsegraph: saving on close: %w", err)
	}
	return e.store.Close()
}

// Ingest is the single write entry point (spec.md §6): it trains the
// graph on bytes tagged with portID. An empty bytes slice is a no-op.
// A fatal error leaves the graph exactly as it was before the call.
func (e *Engine) Ingest(portID uint8, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err := e.ingestLocked(portID, data)
	return err
}

// Produce runs ingest then decode (spec.md §6): it trains on bytes like
// Ingest, then seeds an activation field from the same bytes, refines
// it, and autoregressively decodes a continuation. Returns (nil, nil)
// on an empty graph with nothing to seed from (spec.md §8's boundary
// behaviour), never an error for a merely unproductive decode.
func (e *Engine) Produce(portID uint8, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	nodes, _, err := e.ingestLocked(portID, data)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	snap := e.svc.Snapshot()
	seeds := make([]wave.Seed, len(nodes))
	for i, n := range nodes {
		temporalTrace := math.Pow(0.9, float64(len(nodes)-1-i))
		seeds[i] = wave.Seed{Node: n, TemporalTrace: temporalTrace, PositionWeight: 1.0}
	}

	field := wave.Encode(e.gs, snap, seeds, e.ingestSeq)
	wave.Refine(e.gs, snap, e.svc, field, e.habituation, e.cfg.MaxRefineIterations)
	wave.Cleanup(e.gs)

	start := nodes[len(nodes)-1]
	trail := decode.Decode(e.gs, e.svc.Snapshot(), start, e.habituation, len(data), e.cfg.OutputCapMultiplier, e.rng, nodes...)
	e.lastTrail = trail
	e.haveTrail = true

	return trail.Output, nil
}

// Feedback accepts an error_signal in [0,1] for the most recent Produce
// call's trail (spec.md §4.9, §6). Out-of-range signals are clamped
// silently (a Contract error, spec.md §7) rather than rejected. A call
// with no prior trail is a no-op on graph state beyond recording the
// signal into running statistics (spec.md §8's idempotence law).
func (e *Engine) Feedback(signal float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if signal < 0 || signal > 1 {
		e.diag.ContractNormalisations++
		synlog.Warnf("synapsegraph: feedback signal %v out of [0,1], clamping", signal)
	}

	e.ingestSeq++
	trail := e.lastTrail
	if !e.haveTrail {
		trail = decode.Trail{}
	}
	feedback.Apply(e.gs, e.svc, e.svc.Snapshot(), trail, signal, e.ingestSeq)
	return nil
}

// Stats returns a read-only snapshot of node/edge counts and the
// running-statistics service (spec.md §6).
func (e *Engine) Stats() StatsSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return StatsSnapshot{
		NodeCount:   e.gs.NodeCount(),
		EdgeCount:   e.gs.EdgeCount(),
		Ingests:     e.svc.Ingests(),
		Snapshot:    e.svc.Snapshot(),
		Diagnostics: e.diag,
	}
}

// ingestLocked performs one ingest under the caller's already-held
// lock, returning the node sequence formed from data (used by Produce
// to seed ENCODE) and the edges touched (used by hierarchy formation).
// Called with mu held.
func (e *Engine) ingestLocked(portID uint8, data []byte) ([]graphcore.NodeHandle, []graphcore.EdgeHandle, error) {
	if len(data) == 0 {
		return nil, nil, nil
	}

	e.ingestSeq++
	seq := e.ingestSeq
	txn := e.gs.Begin()

	nodes, edges := e.sequentialIngest(txn, portID, data, seq)

	snap := e.svc.Snapshot()
	hierarchy.Form(e.gs, snap, edges, seq, txn)

	txn.Commit()

	e.svc.RecordIngest()

	if e.cfg.PruneInterval > 0 && seq%int64(e.cfg.PruneInterval) == 0 {
		e.pruneDisused(seq)
	}
	e.svc.SetGraphSize(int64(e.gs.NodeCount()), int64(e.gs.EdgeCount()))

	return nodes, edges, nil
}

// pruneDisused removes every node whose local disuse statistics have
// fallen outside thresholds.DisuseWindow: touched only once (at
// creation, never reinforced since) and idle longer than the window
// (spec.md §3, "removed only by pruning driven by local disuse
// statistics"). Called periodically from ingestLocked rather than
// every ingest, since it walks the full node set. Returns the number
// of nodes removed.
func (e *Engine) pruneDisused(seq int64) int {
	window := thresholds.DisuseWindow(e.svc.Snapshot())

	var stale []graphcore.NodeHandle
	for _, h := range e.gs.AllNodeHandles() {
		if h == graphcore.StopHandle {
			continue
		}
		n, ok := e.gs.Node(h)
		if !ok {
			continue
		}
		if n.TouchCount() <= 1 && seq-n.LastTouched() > window {
			stale = append(stale, h)
		}
	}

	removed := 0
	for _, h := range stale {
		if err := e.gs.RemoveNode(h); err == nil {
			removed++
		}
	}
	if removed > 0 {
		synlog.Debugf("synapsegraph: disuse pruning removed %d node(s)", removed)
	}
	return removed
}

// sequentialIngest finds-or-creates a node for each byte in data,
// strictly in input order, strengthening (or creating) the edge between
// each consecutive pair and, finally, the terminal node's edge to STOP
// (spec.md §3, "a special singleton STOP node receives edges from any
// node that has been observed as a sequence terminator").
func (e *Engine) sequentialIngest(txn *graphcore.Txn, portID uint8, data []byte, ingestSeq int64) ([]graphcore.NodeHandle, []graphcore.EdgeHandle) {
	nodes := make([]graphcore.NodeHandle, len(data))
	for i, b := range data {
		n, created := e.gs.FindOrCreateNode(portID, 0, []byte{b})
		if created {
			txn.NoteNodeCreated(n.Handle())
		}
		e.gs.Touch(n.Handle(), ingestSeq)
		nodes[i] = n.Handle()
	}

	var edges []graphcore.EdgeHandle
	for i := 1; i < len(nodes); i++ {
		if eh, ok := e.strengthenOrCreate(txn, nodes[i-1], nodes[i], ingestSeq); ok {
			edges = append(edges, eh)
		}
	}
	if eh, ok := e.strengthenOrCreate(txn, nodes[len(nodes)-1], graphcore.StopHandle, ingestSeq); ok {
		edges = append(edges, eh)
	}

	return nodes, edges
}

// strengthenOrCreate applies a Hebbian update to the src->tgt edge if
// it already exists, or creates it with hebbian.InitialWeight if not.
// Returns the edge handle and whether one now exists to report to the
// hierarchy-formation candidate list.
func (e *Engine) strengthenOrCreate(txn *graphcore.Txn, src, tgt graphcore.NodeHandle, ingestSeq int64) (graphcore.EdgeHandle, bool) {
	srcNode, ok := e.gs.Node(src)
	if !ok {
		return 0, false
	}

	snap := e.svc.Snapshot()
	if existing, ok := e.gs.FindEdge(src, tgt); ok {
		contextMatch := srcNode.ContextMatch(tgt)
		hebbian.Strengthen(e.gs, snap, existing, contextMatch, hebbian.Signal{}, ingestSeq)
		e.gs.RecordContext(srcNode, tgt)
		return existing.Handle(), true
	}

	localAvg := e.gs.LocalAverageWeight(srcNode)
	edge, err := e.gs.CreateEdge(src, tgt, hebbian.InitialWeight(localAvg), ingestSeq)
	if err != nil {
		e.diag.StructuralRejections++
		return 0, false
	}
	txn.NoteEdgeCreated(edge.Handle())
	e.gs.RecordContext(srcNode, tgt)
	return edge.Handle(), true
}
