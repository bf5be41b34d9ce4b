package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/orneryd/synapsegraph/pkg/graphcore"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"github.com/orneryd/synapsegraph/pkg/synlog"
)

// snapshotKey is the single BadgerDB key holding the whole-graph
// container. Ingest never touches BadgerDB directly — it mutates only
// the in-memory graphcore.GraphStore; persistence is the explicit
// load/save boundary spec.md §5 describes.
var snapshotKey = []byte("synapsegraph:snapshot")

// Engine persists a graph to an embedded BadgerDB instance and keeps a
// bounded hot-record cache for out-of-band random access to saved
// records (GetNodeRecord/GetEdgeRecord) without requiring a full
// LoadGraph.
type Engine struct {
	db    *badger.DB
	cache *ristretto.Cache[uint64, any]
}

// Options configures an Engine.
type Options struct {
	// DataDir is the directory BadgerDB stores its files under. Ignored
	// when InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode, useful for tests.
	InMemory bool

	// CacheCapacity bounds the hot-record cache's counter budget. Zero
	// falls back to a reasonable default so callers that don't care
	// about cache sizing can leave it unset.
	CacheCapacity int64
}

// Open opens (creating if absent) the BadgerDB store at opts.DataDir and
// wires a bounded decode cache in front of it.
func Open(opts Options) (*Engine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("storage: opening badger: %w", err)
	}

	numCounters := opts.CacheCapacity * 10
	if numCounters < 1 {
		numCounters = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, any]{
		NumCounters: numCounters,
		MaxCost:     8 << 20,
		BufferItems: 64,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: creating hot-record cache: %w", err)
	}

	return &Engine{db: db, cache: cache}, nil
}

// Close releases the BadgerDB handle and the decode cache.
func (e *Engine) Close() error {
	e.cache.Close()
	return e.db.Close()
}

// SaveGraph encodes gs and statsSvc into one container and writes it
// under the snapshot key, then populates the hot-record cache so
// subsequent GetNodeRecord/GetEdgeRecord calls in this process don't need to decode
// the whole container again.
func (e *Engine) SaveGraph(gs *graphcore.GraphStore, statsSvc *stats.Service) error {
	snap := e.encodeSnapshot(gs, statsSvc)
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("storage: encoding snapshot: %w", err)
	}

	err = e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
	if err != nil {
		return fmt.Errorf("storage: writing snapshot: %w", err)
	}

	for _, n := range snap.Nodes {
		e.cache.Set(cacheNodeKey(n.Handle), n, 1)
	}
	for _, ed := range snap.Edges {
		e.cache.Set(cacheEdgeKey(ed.Handle), ed, 1)
	}
	e.cache.Wait()
	synlog.Debugf("storage: saved snapshot (%d nodes, %d edges, %d bytes)", len(snap.Nodes), len(snap.Edges), len(data))
	return nil
}

// LoadGraph reads the snapshot key and reconstructs a GraphStore and a
// seeded stats.Service from its contents. It returns graphcore.ErrNodeNotFound-free
// structures even across process restarts, preserving handle identity
// exactly (spec.md §8, persistence round-trip laws).
func (e *Engine) LoadGraph(bootstrapCount int64, bootstraps [4]stats.Bootstrap) (*graphcore.GraphStore, *stats.Service, error) {
	var data []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			data = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		svc := stats.New(bootstrapCount, bootstraps)
		return graphcore.New(svc), svc, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: reading snapshot: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: decoding snapshot: %w", err)
	}

	svc := stats.New(bootstrapCount, bootstraps)
	svc.RestoreIngests(snap.Stats.Ingests)
	for i, m := range snap.Stats.Streams {
		svc.RestoreMoments(stats.Stream(i), m.Count, m.Mean, m.M2)
	}

	gs := graphcore.New(svc)
	for _, n := range snap.Nodes {
		if n.Handle == uint64(graphcore.StopHandle) {
			gs.RestoreNode(graphcore.NodeHandle(n.Handle), nil, int(n.Level), n.Port, n.StopWeight, n.TouchCount, n.LastTouched)
			continue
		}
		payload := snap.Payloads[n.PayloadOffset : n.PayloadOffset+uint64(n.PayloadLen)]
		gs.RestoreNode(graphcore.NodeHandle(n.Handle), payload, int(n.Level), n.Port, n.StopWeight, n.TouchCount, n.LastTouched)
	}
	for _, ed := range snap.Edges {
		if _, err := gs.RestoreEdge(graphcore.EdgeHandle(ed.Handle), graphcore.NodeHandle(ed.Source), graphcore.NodeHandle(ed.Target), ed.Weight, ed.UsageCount, ed.LastStrengthened); err != nil {
			return nil, nil, fmt.Errorf("storage: restoring edge %d: %w", ed.Handle, err)
		}
	}
	gs.RestoreStatsSeed()

	synlog.Infof("storage: loaded snapshot (%d nodes, %d edges)", len(snap.Nodes), len(snap.Edges))
	return gs, svc, nil
}

// GetNodeRecord returns the cached fixed-size node record for handle, if
// SaveGraph has populated the cache with it in this process.
func (e *Engine) GetNodeRecord(handle uint64) (NodeRecord, bool) {
	v, ok := e.cache.Get(cacheNodeKey(handle))
	if !ok {
		return NodeRecord{}, false
	}
	return v.(NodeRecord), true
}

// GetEdgeRecord returns the cached fixed-size edge record for handle.
func (e *Engine) GetEdgeRecord(handle uint64) (EdgeRecord, bool) {
	v, ok := e.cache.Get(cacheEdgeKey(handle))
	if !ok {
		return EdgeRecord{}, false
	}
	return v.(EdgeRecord), true
}

// cacheNodeKey and cacheEdgeKey keep node and edge handles in disjoint
// cache key spaces despite sharing the uint64 handle numbering scheme.
func cacheNodeKey(handle uint64) uint64 { return handle << 1 }
func cacheEdgeKey(handle uint64) uint64 { return handle<<1 | 1 }

// encodeSnapshot flattens a live graph into the fixed-size record +
// payload-blob shape Encode expects.
func (e *Engine) encodeSnapshot(gs *graphcore.GraphStore, statsSvc *stats.Service) Snapshot {
	var snap Snapshot
	var payloads []byte

	for _, h := range gs.AllNodeHandles() {
		n, _ := gs.Node(h)
		offset := uint64(len(payloads))
		payloads = append(payloads, n.Payload...)
		snap.Nodes = append(snap.Nodes, NodeRecord{
			Handle:        uint64(h),
			PayloadOffset: offset,
			PayloadLen:    uint32(len(n.Payload)),
			Level:         int32(n.Level),
			Port:          n.Port,
			StopWeight:    n.StopWeight,
			TouchCount:    n.TouchCount(),
			LastTouched:   n.LastTouched(),
		})
	}
	snap.Payloads = payloads

	for _, h := range gs.AllEdgeHandles() {
		ed, _ := gs.Edge(h)
		snap.Edges = append(snap.Edges, EdgeRecord{
			Handle:           uint64(h),
			Source:           uint64(ed.Source),
			Target:           uint64(ed.Target),
			Weight:           ed.Weight(),
			UsageCount:       ed.UsageCount,
			LastStrengthened: ed.LastStrengthened,
		})
	}

	stat := StatsBlock{Ingests: statsSvc.Ingests()}
	for i := range stat.Streams {
		count, mean, m2 := statsSvc.RawMoments(stats.Stream(i))
		stat.Streams[i] = StreamMoments{Count: count, Mean: mean, M2: m2}
	}
	snap.Stats = stat
	return snap
}
