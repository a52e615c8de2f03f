package hnsw

// WalkConsistency audits the graph invariants from spec §8 (symmetry, layer
// membership, entry point) without mutating anything. It returns the count
// of nodes missing from their own layer membership sets, the count of
// asymmetric or dangling edges, and whether the entry point is both a real
// node in the graph and the node holding the index's maximum layer.
// Exported for use by the index builder's validation report (spec §4.3).
func (idx *Index) WalkConsistency() (orphaned, connectionIssues int, entryPointOK bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry {
		return 0, 0, true // an empty index has no entry point to be wrong about
	}
	entryNode, ok := idx.byNodeID[idx.entryPoint]
	entryPointOK = ok && entryNode.MaxLayer == idx.maxLayer

	for id, n := range idx.byNodeID {
		for l := 0; l <= n.MaxLayer; l++ {
			if l >= len(idx.layers) || !idx.layers[l].has(id) {
				orphaned++
				break
			}
		}

		for l := 0; l <= n.MaxLayer; l++ {
			for _, nb := range n.Neighbors(l) {
				other, ok := idx.byNodeID[nb]
				if !ok {
					connectionIssues++
					continue
				}
				if !other.connections[l].has(id) {
					connectionIssues++
				}
			}
		}
	}
	return orphaned, connectionIssues, entryPointOK
}
