// Package hnsw implements a per-tenant Hierarchical Navigable Small World
// graph with permission-aware traversal (spec §3, §4.1, §4.2).
package hnsw

import (
	"sync"

	"github.com/orneryd/tenantsearch/pkg/metaval"
	"github.com/orneryd/tenantsearch/pkg/vector"
)

// NodeID is the internal, opaque, insert-time-generated node key. It is
// never reused and is distinct from ChunkID, the caller-visible identity.
type NodeID string

// ChunkID is the stable external chunk identifier issued by the external
// store (spec §3 "Chunk identity").
type ChunkID string

// DocumentID identifies the parent document a chunk belongs to.
type DocumentID string

// nodeSet is a small set-of-NodeID used for per-layer adjacency.
type nodeSet map[NodeID]struct{}

func newNodeSet(ids ...NodeID) nodeSet {
	s := make(nodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s nodeSet) add(id NodeID)    { s[id] = struct{}{} }
func (s nodeSet) remove(id NodeID) { delete(s, id) }
func (s nodeSet) has(id NodeID) bool {
	_, ok := s[id]
	return ok
}

func (s nodeSet) slice() []NodeID {
	out := make([]NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Node is a single element of the HNSW graph: a vector plus metadata plus
// per-layer neighbor sets (spec §3 "Node (C1)").
//
// Edges are stored as sets of NodeID, never as direct node references
// (Design Note §9 "cyclic references"), so the Index owns all lifetime and
// a Node can be garbage collected the instant it is hard-removed even while
// other nodes still reference its id transiently during a rewire.
type Node struct {
	ID         NodeID
	ChunkID    ChunkID
	DocumentID DocumentID
	Vector     []float32
	Metadata   metaval.Metadata
	MaxLayer   int
	Deleted    bool

	connections []nodeSet // connections[l] for l in 0..MaxLayer

	cacheMu sync.Mutex
	cache   map[NodeID]float64
}

// newNode constructs a Node at the given max layer with an empty adjacency
// set at every layer 0..maxLayer.
func newNode(id NodeID, chunkID ChunkID, docID DocumentID, vec []float32, md metaval.Metadata, maxLayer int) *Node {
	conns := make([]nodeSet, maxLayer+1)
	for l := range conns {
		conns[l] = newNodeSet()
	}
	if md == nil {
		md = metaval.Metadata{}
	}
	return &Node{
		ID:          id,
		ChunkID:     chunkID,
		DocumentID:  docID,
		Vector:      vec,
		Metadata:    md,
		MaxLayer:    maxLayer,
		connections: conns,
		cache:       make(map[NodeID]float64),
	}
}

// AddEdge records a one-directional connection from this node to other at
// layer. The caller (the Index) is responsible for also adding the reverse
// edge to preserve the symmetry invariant (spec §3).
func (n *Node) AddEdge(layer int, other NodeID) {
	if layer < 0 || layer > n.MaxLayer {
		return
	}
	n.connections[layer].add(other)
}

// RemoveEdge removes a one-directional connection at layer.
func (n *Node) RemoveEdge(layer int, other NodeID) {
	if layer < 0 || layer >= len(n.connections) {
		return
	}
	n.connections[layer].remove(other)
	n.invalidateCache(other)
}

// Neighbors returns the set of node ids connected to this node at layer.
func (n *Node) Neighbors(layer int) []NodeID {
	if layer < 0 || layer >= len(n.connections) {
		return nil
	}
	return n.connections[layer].slice()
}

func (n *Node) degree(layer int) int {
	if layer < 0 || layer >= len(n.connections) {
		return 0
	}
	return len(n.connections[layer])
}

// replaceNeighbors atomically swaps the neighbor set at layer, used by the
// neighbor-pruning step of insert (spec §4.2.4 step 6) so that a concurrent
// search never observes a partially rewired edge set (spec §5).
func (n *Node) replaceNeighbors(layer int, ids []NodeID) {
	n.connections[layer] = newNodeSet(ids...)
}

// Distance returns the cosine distance to other, cached per spec §4.1
// ("Distances may be cached per-pair inside a node"). The cache is valid for
// the lifetime of the node because vectors are never mutated after insert.
func (n *Node) Distance(other *Node) float64 {
	n.cacheMu.Lock()
	if d, ok := n.cache[other.ID]; ok {
		n.cacheMu.Unlock()
		return d
	}
	n.cacheMu.Unlock()

	d := vector.CosineDistance(n.Vector, other.Vector)

	n.cacheMu.Lock()
	n.cache[other.ID] = d
	n.cacheMu.Unlock()
	return d
}

// DistanceToVector computes the cosine distance to an arbitrary query
// vector; never cached since query vectors are not stable node identities.
func (n *Node) DistanceToVector(q []float32) float64 {
	return vector.CosineDistance(n.Vector, q)
}

func (n *Node) invalidateCache(id NodeID) {
	n.cacheMu.Lock()
	delete(n.cache, id)
	n.cacheMu.Unlock()
}

// MarkDeleted soft-deletes the node: it remains reachable as a graph hop but
// is excluded from search results (spec §4.2.6).
func (n *Node) MarkDeleted() {
	n.Deleted = true
}

// UpdateMetadata merges patch into the node's metadata (spec §4.1 "update").
func (n *Node) UpdateMetadata(patch metaval.Metadata) {
	n.Metadata = n.Metadata.Merge(patch)
}

// SetMetadata replaces the node's metadata wholesale (spec §4.1 "set").
func (n *Node) SetMetadata(md metaval.Metadata) {
	if md == nil {
		md = metaval.Metadata{}
	}
	n.Metadata = md.Clone()
}

// DropMetadataKeys removes the listed keys (spec §4.1 "drop").
func (n *Node) DropMetadataKeys(keys []string) {
	n.Metadata = n.Metadata.Drop(keys...)
}
