// Package graphcore implements the graph substrate from spec.md §3/§4.2/
// §4.3: a GraphStore owning flat collections of Node and Edge, linked
// only by handle, so the logical graph's cycles never become ownership
// cycles (spec.md §9, "Cyclic graph references").
package graphcore

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/orneryd/synapsegraph/pkg/stats"
	"golang.org/x/crypto/blake2b"
)

// Direction selects which of a node's edge lists iterate_neighbours
// walks.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// StopHandle is the process-wide singleton STOP node's handle (spec.md
// §3, "a special singleton STOP node"). It is never produced by the
// content-addressed hash derivation used for ordinary nodes.
const StopHandle NodeHandle = 0

// GraphStore owns every Node and Edge. It is the only component
// permitted to mutate node/edge lifecycle state; everything above it
// (Hebbian, hierarchy, wave, decoder) must go through its operations.
//
// GraphStore is not safe for concurrent use; spec.md §5 requires callers
// to serialise access behind a single ingest lock, which pkg/synapsegraph
// provides.
type GraphStore struct {
	nodes map[NodeHandle]*Node
	edges map[EdgeHandle]*Edge

	// byHash buckets candidate node handles by a fast, non-cryptographic
	// hash of (level, payload) — the "payload-hash table" of
	// spec.md §4.2. Collisions are resolved by comparing payload bytes.
	byHash map[uint64][]NodeHandle

	nextEdgeHandle EdgeHandle
	generation     uint64 // bumped on every edge-set mutation

	stats *stats.Service
}

// New creates an empty graph store with its singleton STOP node already
// materialised.
func New(svc *stats.Service) *GraphStore {
	gs := &GraphStore{
		nodes:          make(map[NodeHandle]*Node),
		edges:          make(map[EdgeHandle]*Edge),
		byHash:         make(map[uint64][]NodeHandle),
		nextEdgeHandle: 1,
		stats:          svc,
	}
	gs.nodes[StopHandle] = &Node{handle: StopHandle, Level: 0}
	gs.refreshStats()
	return gs
}

func (gs *GraphStore) refreshStats() {
	if gs.stats != nil {
		gs.stats.SetGraphSize(int64(len(gs.nodes)), int64(len(gs.edges)))
	}
}

// Stop returns the singleton STOP node.
func (gs *GraphStore) Stop() *Node { return gs.nodes[StopHandle] }

// NodeCount returns the number of live nodes, including STOP.
func (gs *GraphStore) NodeCount() int { return len(gs.nodes) }

// EdgeCount returns the number of live edges.
func (gs *GraphStore) EdgeCount() int { return len(gs.edges) }

// Node looks up a node by handle.
func (gs *GraphStore) Node(h NodeHandle) (*Node, bool) {
	n, ok := gs.nodes[h]
	return n, ok
}

// Edge looks up an edge by handle.
func (gs *GraphStore) Edge(h EdgeHandle) (*Edge, bool) {
	e, ok := gs.edges[h]
	return e, ok
}

// payloadHash hashes (level, payload) for the in-memory bucket table.
// Port id is deliberately excluded: spec.md §6 is explicit that "it
// never affects graph structure beyond that tag", so two ports
// observing the same payload at the same level must resolve to the
// same node. xxhash is used for speed: it is only ever a candidate
// filter, never the identity itself (collisions are resolved below).
func payloadHash(level int, payload []byte) uint64 {
	d := xxhash.New()
	d.Write([]byte{byte(level), byte(level >> 8)})
	d.Write(payload)
	return d.Sum64()
}

// contentHandle derives a stable, content-addressed NodeHandle from
// (level, payload) using blake2b-256, truncated to 64 bits. Equal
// training traces on a freshly initialised graph therefore always
// produce equal node identities (spec.md §9, "Adaptive parameters vs.
// reproducibility"), regardless of which port ingested them.
func contentHandle(level int, payload []byte) NodeHandle {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(level), byte(level >> 8)})
	h.Write(payload)
	sum := h.Sum(nil)
	v := binary.BigEndian.Uint64(sum[:8])
	if v == uint64(StopHandle) {
		// Vanishingly unlikely; perturb deterministically rather than
		// ever colliding with the reserved STOP handle.
		v++
	}
	return NodeHandle(v)
}

func payloadEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FindNode returns the existing node with the given (level, payload)
// identity, if any. port is ignored for lookup purposes — it is pure
// metadata recorded only at creation (spec.md §6).
func (gs *GraphStore) FindNode(port uint8, level int, payload []byte) (*Node, bool) {
	bucket := gs.byHash[payloadHash(level, payload)]
	for _, h := range bucket {
		n := gs.nodes[h]
		if n != nil && n.Level == level && payloadEqual(n.Payload, payload) {
			return n, true
		}
	}
	return nil, false
}

// FindOrCreateNode returns the existing node for (level, payload),
// creating it if absent (spec.md §4.2). port is stamped onto a freshly
// created node as a tag only; it never participates in node identity,
// so a payload already observed under one port resolves to that same
// node when later observed under another. The returned bool reports
// whether a new node was created.
func (gs *GraphStore) FindOrCreateNode(port uint8, level int, payload []byte) (*Node, bool) {
	if n, ok := gs.FindNode(port, level, payload); ok {
		return n, false
	}
	handle := contentHandle(level, payload)
	// Extremely rare 64-bit truncation collision against an unrelated
	// payload: perturb until free, preserving content-addressing for
	// the overwhelming common case.
	for {
		if _, taken := gs.nodes[handle]; !taken {
			break
		}
		existing := gs.nodes[handle]
		if existing.Level == level && payloadEqual(existing.Payload, payload) {
			return existing, false
		}
		handle++
	}
	n := &Node{handle: handle, Payload: append([]byte(nil), payload...), Level: level, Port: port}
	gs.nodes[handle] = n
	key := payloadHash(level, payload)
	gs.byHash[key] = append(gs.byHash[key], handle)
	gs.refreshStats()
	return n, true
}

// FindEdge searches src's outgoing list for an edge to tgt, O(outdegree)
// as specified (spec.md §4.2).
func (gs *GraphStore) FindEdge(src, tgt NodeHandle) (*Edge, bool) {
	srcNode, ok := gs.nodes[src]
	if !ok {
		return nil, false
	}
	for _, eh := range srcNode.out {
		e := gs.edges[eh]
		if e != nil && e.Target == tgt {
			return e, true
		}
	}
	return nil, false
}

// CreateEdge creates a new Live edge src->tgt with the given initial
// weight, clamped to [1,255]. It fails with ErrAlreadyExists (and
// mutates nothing) if such an edge already exists, matching spec.md
// §4.2's duplicate-creation contract.
func (gs *GraphStore) CreateEdge(src, tgt NodeHandle, initialWeight float64, ingestSeq int64) (*Edge, error) {
	if _, ok := gs.FindEdge(src, tgt); ok {
		return nil, ErrAlreadyExists
	}
	srcNode, ok := gs.nodes[src]
	if !ok {
		return nil, ErrNodeNotFound
	}
	tgtNode, ok := gs.nodes[tgt]
	if !ok {
		return nil, ErrNodeNotFound
	}
	h := gs.nextEdgeHandle
	gs.nextEdgeHandle++
	e := &Edge{handle: h, Source: src, Target: tgt, weight: clampWeight(initialWeight), LastStrengthened: ingestSeq}
	gs.edges[h] = e
	srcNode.out = append(srcNode.out, h)
	tgtNode.in = append(tgtNode.in, h)
	gs.generation++
	gs.refreshStats()
	return e, nil
}

// Strengthen adds delta to an edge's weight, clamped to [1,255], and
// bumps its usage counter and last-strengthened sequence number. The
// generation counter is bumped so cached weight sums recompute lazily.
func (gs *GraphStore) Strengthen(e *Edge, delta float64, ingestSeq int64) {
	e.setWeight(e.weight + delta)
	e.UsageCount++
	e.LastStrengthened = ingestSeq
	gs.generation++
}

// MarkForDeletion flags an edge as below its adaptive usage floor. It
// does not unlink or release the edge — only the post-wave cleanup pass
// does that (spec.md §4.3, §4.6).
func (gs *GraphStore) MarkForDeletion(e *Edge) {
	e.markForDeletion()
}

// RemoveEdge unlinks handle from both endpoints' lists and releases it.
// It is the only operation that actually deletes an edge; it is called
// from the post-wave cleanup pass, and by RemoveNode (and so by
// Txn.Rollback) for the edges touching a removed node.
func (gs *GraphStore) RemoveEdge(handle EdgeHandle) error {
	e, ok := gs.edges[handle]
	if !ok {
		return ErrEdgeNotFound
	}
	if srcNode, ok := gs.nodes[e.Source]; ok {
		srcNode.out = removeHandle(srcNode.out, handle)
	}
	if tgtNode, ok := gs.nodes[e.Target]; ok {
		tgtNode.in = removeHandle(tgtNode.in, handle)
	}
	delete(gs.edges, handle)
	gs.generation++
	gs.refreshStats()
	return nil
}

func removeHandle(list []EdgeHandle, h EdgeHandle) []EdgeHandle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RemoveNode deletes a node and every edge touching it. The STOP node
// may never be removed.
func (gs *GraphStore) RemoveNode(handle NodeHandle) error {
	if handle == StopHandle {
		return ErrStopNodeMutation
	}
	n, ok := gs.nodes[handle]
	if !ok {
		return ErrNodeNotFound
	}
	for _, eh := range append([]EdgeHandle(nil), n.out...) {
		_ = gs.RemoveEdge(eh)
	}
	for _, eh := range append([]EdgeHandle(nil), n.in...) {
		_ = gs.RemoveEdge(eh)
	}
	key := payloadHash(n.Level, n.Payload)
	gs.byHash[key] = removeNodeHandle(gs.byHash[key], handle)
	delete(gs.nodes, handle)
	gs.refreshStats()
	return nil
}

func removeNodeHandle(list []NodeHandle, h NodeHandle) []NodeHandle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// OutWeightSum returns the cached sum of a node's outgoing edge
// weights, recomputing it lazily whenever the store's generation has
// advanced since the last computation (spec.md §3, "cached weight sums
// (invalidated whenever the edge set changes)").
func (gs *GraphStore) OutWeightSum(n *Node) float64 {
	if n.outSumGen == gs.generation {
		return n.outWeightSum
	}
	sum := 0.0
	for _, eh := range n.out {
		if e, ok := gs.edges[eh]; ok && !e.MarkedForDeletion() {
			sum += e.Weight()
		}
	}
	n.outWeightSum = sum
	n.outSumGen = gs.generation
	return sum
}

// LocalAverageWeight is the mean outgoing-edge weight around n, the
// `local_avg` referenced throughout spec.md §4.4/§4.5/§4.8. Falls back
// to 1, the minimum edge weight, when n has no outgoing edges yet.
func (gs *GraphStore) LocalAverageWeight(n *Node) float64 {
	if len(n.out) == 0 {
		return 1
	}
	return gs.OutWeightSum(n) / float64(len(n.out))
}

// IterateNeighbours returns up to limit target (direction=Outgoing) or
// source (direction=Incoming) node handles of n, in stable insertion
// order, skipping edges marked for deletion (spec.md §4.2).
func (gs *GraphStore) IterateNeighbours(n *Node, direction Direction, limit int) []NodeHandle {
	var list []EdgeHandle
	if direction == DirectionOutgoing {
		list = n.out
	} else {
		list = n.in
	}
	out := make([]NodeHandle, 0, min(limit, len(list)))
	for _, eh := range list {
		if len(out) >= limit {
			break
		}
		e, ok := gs.edges[eh]
		if !ok || e.MarkedForDeletion() {
			continue
		}
		if direction == DirectionOutgoing {
			out = append(out, e.Target)
		} else {
			out = append(out, e.Source)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Touch records that handle participated in ingestSeq, advancing its
// touch count and last-touched sequence number. It does not change the
// context trace; RecordContext does that.
func (gs *GraphStore) Touch(handle NodeHandle, ingestSeq int64) {
	if n, ok := gs.nodes[handle]; ok {
		n.touch(ingestSeq)
	}
}

// RecordContext pushes neighbour into n's context trace ring.
func (gs *GraphStore) RecordContext(n *Node, neighbour NodeHandle) {
	n.recordContext(neighbour)
}

// AllNodeHandles returns every node handle in a stable, sorted order —
// used by persistence and by property-based invariant checks.
func (gs *GraphStore) AllNodeHandles() []NodeHandle {
	out := make([]NodeHandle, 0, len(gs.nodes))
	for h := range gs.nodes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllEdgeHandles returns every edge handle in a stable, sorted order.
func (gs *GraphStore) AllEdgeHandles() []EdgeHandle {
	out := make([]EdgeHandle, 0, len(gs.edges))
	for h := range gs.edges {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Generation returns the store's current edge-set generation counter,
// used by cleanup passes to confirm they are observing a consistent
// snapshot.
func (gs *GraphStore) Generation() uint64 { return gs.generation }
