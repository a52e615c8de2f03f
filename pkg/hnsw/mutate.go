package hnsw

import (
	"fmt"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

func (idx *Index) nodeByChunk(chunkID ChunkID) (*Node, error) {
	id, ok := idx.byChunkID[chunkID]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %q", apperr.ErrNotFound, chunkID)
	}
	node, ok := idx.byNodeID[id]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %q", apperr.ErrNotFound, chunkID)
	}
	return node, nil
}

// SoftDelete marks chunkID's node deleted without touching the graph (spec
// §4.2.6). Per the Open-Questions decision recorded in DESIGN.md, the entry
// point is NOT recomputed even if the deleted node was the entry point —
// soft-deleted nodes remain valid hops, so the entry-point invariant still
// holds.
func (idx *Index) SoftDelete(chunkID ChunkID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	node, err := idx.nodeByChunk(chunkID)
	if err != nil {
		return err
	}
	if !node.Deleted {
		node.MarkDeleted()
		idx.sizeLive--
	}
	return nil
}

// UpdateMetadata merges patch into the chunk's metadata (spec §4.2.6
// "update"). O(1), never touches the graph.
func (idx *Index) UpdateMetadata(chunkID ChunkID, patch metaval.Metadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	node, err := idx.nodeByChunk(chunkID)
	if err != nil {
		return err
	}
	node.UpdateMetadata(patch)
	return nil
}

// SetMetadata replaces the chunk's metadata wholesale (spec §4.2.6 "set").
func (idx *Index) SetMetadata(chunkID ChunkID, md metaval.Metadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	node, err := idx.nodeByChunk(chunkID)
	if err != nil {
		return err
	}
	node.SetMetadata(md)
	return nil
}

// DropMetadataKeys removes the listed keys from the chunk's metadata (spec
// §4.2.6 "drop").
func (idx *Index) DropMetadataKeys(chunkID ChunkID, keys []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	node, err := idx.nodeByChunk(chunkID)
	if err != nil {
		return err
	}
	node.DropMetadataKeys(keys)
	return nil
}

// Get returns a snapshot copy of the node's exported fields for chunkID, or
// apperr.ErrNotFound. The returned Node shares no mutable state with the
// live graph node's metadata map.
func (idx *Index) Get(chunkID ChunkID) (*Node, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	node, err := idx.nodeByChunk(chunkID)
	if err != nil {
		return nil, err
	}
	cp := *node
	cp.Metadata = node.Metadata.Clone()
	return &cp, nil
}
