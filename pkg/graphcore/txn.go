package graphcore

// Txn journals the nodes and edges allocated during one ingest call so a
// fatal abort can unwind the store back to its pre-ingest state (spec.md
// §5, "Cancellation": "an ingest runs to completion or aborts fatally...
// implementations achieve this by journalling the set of allocations to
// be released on failure").
type Txn struct {
	store        *GraphStore
	createdNodes []NodeHandle
	createdEdges []EdgeHandle
}

// Begin starts a new allocation journal against gs.
func (gs *GraphStore) Begin() *Txn {
	return &Txn{store: gs}
}

// NoteNodeCreated records that handle was freshly created within this
// transaction.
func (t *Txn) NoteNodeCreated(h NodeHandle) {
	t.createdNodes = append(t.createdNodes, h)
}

// NoteEdgeCreated records that handle was freshly created within this
// transaction.
func (t *Txn) NoteEdgeCreated(h EdgeHandle) {
	t.createdEdges = append(t.createdEdges, h)
}

// Rollback releases every edge and node created since Begin, in reverse
// order (edges before the nodes they reference). It is a no-op if
// nothing was journalled. Callers invoke this only on a fatal resource
// error (spec.md §7); numerical and contract errors never trigger it.
func (t *Txn) Rollback() {
	for i := len(t.createdEdges) - 1; i >= 0; i-- {
		_ = t.store.RemoveEdge(t.createdEdges[i])
	}
	for i := len(t.createdNodes) - 1; i >= 0; i-- {
		_ = t.store.RemoveNode(t.createdNodes[i])
	}
	t.createdEdges = nil
	t.createdNodes = nil
}

// Commit discards the journal without releasing anything — the ingest
// succeeded and every allocation it made is now permanent.
func (t *Txn) Commit() {
	t.createdEdges = nil
	t.createdNodes = nil
}
