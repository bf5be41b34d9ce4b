package graphcore

// RestoreNode re-inserts a node loaded from persistence with its exact
// original handle and field values, bypassing the content-addressing
// derivation in FindOrCreateNode (spec.md §8, persistence round-trip
// law: "the same node ... is present in G' with identical weight").
func (gs *GraphStore) RestoreNode(handle NodeHandle, payload []byte, level int, port uint8, stopWeight float64, touchCount, lastTouched int64) *Node {
	if handle == StopHandle {
		stop := gs.nodes[StopHandle]
		stop.StopWeight = clampStopWeight(stopWeight)
		stop.touchCount = touchCount
		stop.lastTouched = lastTouched
		return stop
	}
	n := &Node{
		handle:      handle,
		Payload:     append([]byte(nil), payload...),
		Level:       level,
		Port:        port,
		StopWeight:  clampStopWeight(stopWeight),
		touchCount:  touchCount,
		lastTouched: lastTouched,
	}
	gs.nodes[handle] = n
	key := payloadHash(level, payload)
	gs.byHash[key] = append(gs.byHash[key], handle)
	gs.refreshStats()
	return n
}

// RestoreEdge re-inserts an edge loaded from persistence with its exact
// original handle, weight and usage counters.
func (gs *GraphStore) RestoreEdge(handle EdgeHandle, source, target NodeHandle, weight float64, usageCount uint64, lastStrengthened int64) (*Edge, error) {
	srcNode, ok := gs.nodes[source]
	if !ok {
		return nil, ErrNodeNotFound
	}
	tgtNode, ok := gs.nodes[target]
	if !ok {
		return nil, ErrNodeNotFound
	}
	e := &Edge{
		handle:           handle,
		Source:           source,
		Target:           target,
		weight:           clampWeight(weight),
		UsageCount:       usageCount,
		LastStrengthened: lastStrengthened,
	}
	gs.edges[handle] = e
	srcNode.out = append(srcNode.out, handle)
	tgtNode.in = append(tgtNode.in, handle)
	if handle >= gs.nextEdgeHandle {
		gs.nextEdgeHandle = handle + 1
	}
	gs.generation++
	gs.refreshStats()
	return e, nil
}

// RestoreStatsSeed seeds the store's bookkeeping for a just-loaded graph
// so that subsequent ingests see accurate live counts immediately,
// without waiting for the next structural mutation.
func (gs *GraphStore) RestoreStatsSeed() {
	gs.refreshStats()
}
