package hnsw

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

// FormatVersion is bumped whenever the on-disk Snapshot shape changes in a
// way that breaks backward compatibility (spec §4.2.7 "version").
const FormatVersion = 1

const magic = "HNSWIDX1"

// snapshotNode is the persisted shape of a Node (spec §4.2.7).
type snapshotNode struct {
	NodeID     NodeID           `json:"node_id"`
	ChunkID    ChunkID          `json:"chunk_id"`
	DocumentID DocumentID       `json:"document_id"`
	Metadata   metaval.Metadata `json:"metadata"`
	MaxLayer   int              `json:"max_layer"`
	Deleted    bool             `json:"deleted"`
	Vector     []float32        `json:"vector"`
}

// snapshotEdge is one (node_id, layer, neighbor_node_id) triple. Each
// symmetric edge is emitted exactly once; Load rehydrates both directions.
type snapshotEdge struct {
	NodeID     NodeID `json:"node_id"`
	Layer      int    `json:"layer"`
	NeighborID NodeID `json:"neighbor_id"`
}

// Snapshot is the whole-index persisted state (spec §4.2.7).
type Snapshot struct {
	Magic      string         `json:"magic"`
	Version    int            `json:"version"`
	Dimension  int            `json:"dimension"`
	TenantID   string         `json:"tenant_id"`
	Params     Params         `json:"params"`
	Nodes      []snapshotNode `json:"nodes"`
	Edges      []snapshotEdge `json:"edges"`
	EntryPoint NodeID         `json:"entry_point"`
	HasEntry   bool           `json:"has_entry"`
	MaxLayer   int            `json:"max_layer"`
	RNGSeed    *int64         `json:"rng_seed,omitempty"`
}

// Snapshot captures the whole-index state for persistence. Node and edge
// lists are emitted in sorted order so that save→save round trips are
// byte-identical (spec §8 "Idempotence / round-trip").
func (idx *Index) Snapshot() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	nodeIDs := make([]NodeID, 0, len(idx.byNodeID))
	for id := range idx.byNodeID {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	nodes := make([]snapshotNode, 0, len(nodeIDs))
	edges := make([]snapshotEdge, 0)
	for _, id := range nodeIDs {
		n := idx.byNodeID[id]
		nodes = append(nodes, snapshotNode{
			NodeID:     n.ID,
			ChunkID:    n.ChunkID,
			DocumentID: n.DocumentID,
			Metadata:   n.Metadata.Clone(),
			MaxLayer:   n.MaxLayer,
			Deleted:    n.Deleted,
			Vector:     append([]float32(nil), n.Vector...),
		})
		for l := 0; l <= n.MaxLayer; l++ {
			neighbors := n.Neighbors(l)
			sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
			for _, nb := range neighbors {
				if nb <= id {
					continue // emit each symmetric edge once
				}
				edges = append(edges, snapshotEdge{NodeID: id, Layer: l, NeighborID: nb})
			}
		}
	}

	return Snapshot{
		Magic:      magic,
		Version:    FormatVersion,
		Dimension:  idx.dim,
		TenantID:   idx.TenantID,
		Params:     idx.params,
		Nodes:      nodes,
		Edges:      edges,
		EntryPoint: idx.entryPoint,
		HasEntry:   idx.hasEntry,
		MaxLayer:   idx.maxLayer,
		RNGSeed:    idx.params.RNGSeed,
	}
}

// MarshalSnapshot serializes the index to its self-describing byte form.
func (idx *Index) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(idx.Snapshot())
}

// LoadSnapshot rebuilds an Index from a previously marshaled snapshot,
// refusing to load on version or dimension mismatch (spec §4.2.7).
func LoadSnapshot(data []byte, sink DenialSink) (*Index, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCorruption, err)
	}
	return FromSnapshot(snap, sink)
}

// FromSnapshot rebuilds an Index from an already-decoded Snapshot.
func FromSnapshot(snap Snapshot, sink DenialSink) (*Index, error) {
	if snap.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", apperr.ErrCorruption, snap.Magic)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (want %d)", apperr.ErrCorruption, snap.Version, FormatVersion)
	}

	params := snap.Params
	params.normalize()
	idx := New(snap.TenantID, params, sink)
	idx.params.RNGSeed = snap.RNGSeed
	idx.dim = snap.Dimension
	idx.dimSet = snap.Dimension > 0 || len(snap.Nodes) > 0

	for _, sn := range snap.Nodes {
		if idx.dimSet && len(sn.Vector) != idx.dim && idx.dim != 0 {
			return nil, fmt.Errorf("%w: node %q has %d dims, expected %d", apperr.ErrCorruption, sn.NodeID, len(sn.Vector), idx.dim)
		}
		node := newNode(sn.NodeID, sn.ChunkID, sn.DocumentID, sn.Vector, sn.Metadata.Clone(), sn.MaxLayer)
		node.Deleted = sn.Deleted
		idx.byNodeID[sn.NodeID] = node
		idx.byChunkID[sn.ChunkID] = sn.NodeID
		idx.ensureLayers(sn.MaxLayer)
		for l := 0; l <= sn.MaxLayer; l++ {
			idx.layers[l].add(sn.NodeID)
		}
		idx.sizeTotal++
		if !sn.Deleted {
			idx.sizeLive++
		}
	}

	for _, e := range snap.Edges {
		a, aok := idx.byNodeID[e.NodeID]
		b, bok := idx.byNodeID[e.NeighborID]
		if !aok || !bok {
			return nil, fmt.Errorf("%w: dangling edge %s<->%s", apperr.ErrCorruption, e.NodeID, e.NeighborID)
		}
		a.AddEdge(e.Layer, e.NeighborID)
		b.AddEdge(e.Layer, e.NodeID)
	}

	idx.entryPoint = snap.EntryPoint
	idx.hasEntry = snap.HasEntry
	idx.maxLayer = snap.MaxLayer

	return idx, nil
}
