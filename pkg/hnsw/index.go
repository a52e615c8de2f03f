package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

// Params holds the construction/search parameters for one index (spec
// §4.2.1). Mmax0 is always 2*M and is derived, never set independently.
type Params struct {
	M              int     // max connections per node per layer >= 1 (default 16)
	EfConstruction int     // candidate list size during construction (default 200)
	MLNorm         float64 // level multiplier mL = 1/ln(2)
	RNGSeed        *int64  // optional, for deterministic tests
}

// Mmax0 returns the layer-0 connection cap, always double M.
func (p Params) Mmax0() int { return p.M * 2 }

// DefaultParams returns the spec's default parameters (M=16,
// EfConstruction=200). It does no clamping itself.
func DefaultParams() Params {
	return Params{
		M:              16,
		EfConstruction: 200,
		MLNorm:         1.0 / math.Log(2.0),
	}
}

func (p *Params) normalize() {
	if p.M < 4 {
		p.M = 4
	}
	if p.M > 64 {
		p.M = 64
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = 200
	}
	if p.MLNorm <= 0 {
		p.MLNorm = 1.0 / math.Log(2.0)
	}
}

// candidate is a (node, distance-to-query) pair produced by SEARCH-LAYER.
type candidate struct {
	id   NodeID
	dist float64
}

// Index is one tenant's HNSW graph (spec §3 "Index (C2)").
//
// A single RWMutex guards the whole graph: mutators (Insert, SoftDelete,
// metadata ops) take the write lock; Search/Stats take the read lock. This
// is option (b) from spec §5 — edges are replaced with single-set swaps
// (Node.replaceNeighbors) so a concurrent reader never observes a torn edge
// set even under the simpler single-mutex model.
type Index struct {
	TenantID string
	params   Params

	mu         sync.RWMutex
	byNodeID   map[NodeID]*Node
	byChunkID  map[ChunkID]NodeID
	layers     []nodeSet // layers[l] = live membership set at layer l
	entryPoint NodeID
	hasEntry   bool
	maxLayer   int
	sizeTotal  int
	sizeLive   int

	dim    int
	dimSet bool

	rng *rand.Rand
	sink DenialSink
}

// New creates an empty index for tenantID. sink may be nil, in which case
// denial observations are silently dropped (spec §4.2.5 denial observation
// is best-effort and must never block the query path).
func New(tenantID string, params Params, sink DenialSink) *Index {
	params.normalize()
	seed := int64(1)
	if params.RNGSeed != nil {
		seed = *params.RNGSeed
	} else {
		seed = int64(uuid.New().ID())
	}
	return &Index{
		TenantID:  tenantID,
		params:    params,
		byNodeID:  make(map[NodeID]*Node),
		byChunkID: make(map[ChunkID]NodeID),
		layers:    make([]nodeSet, 0),
		rng:       rand.New(rand.NewSource(seed)),
		sink:      sink,
	}
}

// Params returns a copy of the index's build parameters.
func (idx *Index) Params() Params { return idx.params }

func (idx *Index) selectLevel() int {
	u := 1 - idx.rng.Float64() // (0,1]
	return int(-math.Log(u) * idx.params.MLNorm)
}

func (idx *Index) ensureLayers(level int) {
	for len(idx.layers) <= level {
		idx.layers = append(idx.layers, newNodeSet())
	}
}

// Insert adds (or, for an existing chunk_id, replaces) a node (spec §4.2.4).
func (idx *Index) Insert(vec []float32, chunkID ChunkID, docID DocumentID, md metaval.Metadata) (NodeID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.dimSet {
		idx.dim = len(vec)
		idx.dimSet = true
	} else if len(vec) != idx.dim {
		return "", fmt.Errorf("%w: vector has %d dims, index expects %d", apperr.ErrInvalidInput, len(vec), idx.dim)
	}

	if priorID, ok := idx.byChunkID[chunkID]; ok {
		idx.hardRemove(priorID)
	}

	level := idx.selectLevel()
	id := NodeID(uuid.New().String())
	node := newNode(id, chunkID, docID, vec, md, level)

	idx.byNodeID[id] = node
	idx.byChunkID[chunkID] = id
	idx.ensureLayers(level)
	for l := 0; l <= level; l++ {
		idx.layers[l].add(id)
	}
	idx.sizeTotal++
	idx.sizeLive++

	if !idx.hasEntry {
		idx.entryPoint = id
		idx.hasEntry = true
		idx.maxLayer = level
		return id, nil
	}

	ep := idx.entryPoint
	for l := idx.maxLayer; l > level; l-- {
		cands := idx.searchLayer(vec, []NodeID{ep}, 1, l, nil)
		if len(cands) > 0 {
			ep = cands[0].id
		}
	}

	start := level
	if idx.maxLayer < start {
		start = idx.maxLayer
	}
	currentNearest := []NodeID{ep}
	for l := start; l >= 0; l-- {
		mLayer := idx.params.M
		if l == 0 {
			mLayer = idx.params.Mmax0()
		}
		cands := idx.searchLayer(vec, currentNearest, idx.params.EfConstruction, l, nil)
		selected := idx.selectNeighbors(cands, mLayer)

		for _, s := range selected {
			node.AddEdge(l, s)
			idx.byNodeID[s].AddEdge(l, id)
		}
		for _, s := range selected {
			sNode := idx.byNodeID[s]
			if sNode.degree(l) > mLayer {
				idx.pruneNeighbors(sNode, l, mLayer)
			}
		}

		if len(cands) > 0 {
			currentNearest = idsOf(cands)
		} else {
			currentNearest = selected
		}
	}

	if level > idx.maxLayer {
		idx.entryPoint = id
		idx.maxLayer = level
	}

	return id, nil
}

func idsOf(cands []candidate) []NodeID {
	out := make([]NodeID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// pruneNeighbors re-runs SELECT-NEIGHBORS over s's current neighbor set at
// layer and swaps in the result, removing the reverse edges for anything
// pruned (spec §4.2.4 step 6).
func (idx *Index) pruneNeighbors(s *Node, layer int, m int) {
	neighbors := s.Neighbors(layer)
	cands := make([]candidate, 0, len(neighbors))
	for _, nid := range neighbors {
		n, ok := idx.byNodeID[nid]
		if !ok {
			continue
		}
		cands = append(cands, candidate{id: nid, dist: s.Distance(n)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	newSel := idx.selectNeighbors(cands, m)
	oldSet := newNodeSet(neighbors...)
	newSet := newNodeSet(newSel...)

	for _, old := range neighbors {
		if !newSet.has(old) {
			if n, ok := idx.byNodeID[old]; ok {
				n.RemoveEdge(layer, s.ID)
			}
		}
	}
	s.replaceNeighbors(layer, newSel)
	for _, nw := range newSel {
		if !oldSet.has(nw) {
			if n, ok := idx.byNodeID[nw]; ok {
				n.AddEdge(layer, s.ID)
			}
		}
	}
}

// searchLayer is SEARCH-LAYER (spec §4.2.2). filter, when non-nil, is
// applied both when seeding from entry points and when expanding neighbors
// (public Search always passes nil here and defers filtering to its own
// post-traversal step per §4.2.5).
func (idx *Index) searchLayer(query []float32, eps []NodeID, ef int, layer int, filter *Filter) []candidate {
	visited := make(map[NodeID]bool, ef*2)
	var cHeap minHeap
	var wHeap maxHeap

	for _, id := range eps {
		node, ok := idx.byNodeID[id]
		if !ok || layer > node.MaxLayer {
			continue
		}
		if filter != nil && !filter.Matches(node) {
			continue
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		d := node.DistanceToVector(query)
		heap.Push(&cHeap, heapItem{id: id, dist: d})
		heap.Push(&wHeap, heapItem{id: id, dist: d})
	}

	for cHeap.Len() > 0 {
		cur := heap.Pop(&cHeap).(heapItem)
		if wHeap.Len() > 0 && cur.dist > wHeap[0].dist {
			break
		}

		node, ok := idx.byNodeID[cur.id]
		if !ok {
			continue
		}
		for _, nb := range node.Neighbors(layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			nbNode, ok := idx.byNodeID[nb]
			if !ok {
				continue
			}
			if filter != nil && !filter.Matches(nbNode) {
				continue
			}

			d := nbNode.DistanceToVector(query)
			if wHeap.Len() < ef || d < wHeap[0].dist {
				heap.Push(&cHeap, heapItem{id: nb, dist: d})
				heap.Push(&wHeap, heapItem{id: nb, dist: d})
				if wHeap.Len() > ef {
					heap.Pop(&wHeap)
				}
			}
		}
	}

	out := make([]candidate, wHeap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(&wHeap).(heapItem)
		out[i] = candidate{id: item.id, dist: item.dist}
	}
	return out
}

// selectNeighbors is SELECT-NEIGHBORS (spec §4.2.3): the HNSW paper's
// heuristic with extend_candidates=true, keep_pruned=true.
func (idx *Index) selectNeighbors(sorted []candidate, m int) []NodeID {
	if len(sorted) <= m {
		return idsOf(sorted)
	}

	ordered := make([]candidate, len(sorted))
	copy(ordered, sorted)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].dist < ordered[j].dist })

	selected := make([]candidate, 0, m)
	remaining := make([]candidate, len(ordered))
	copy(remaining, ordered)

	for len(selected) < m && len(remaining) > 0 {
		best := remaining[0]
		remaining = remaining[1:]
		selected = append(selected, best)
		if len(remaining) == 0 {
			break
		}

		bestNode, ok := idx.byNodeID[best.id]
		if !ok {
			continue
		}
		kept := remaining[:0:0]
		for _, r := range remaining {
			rNode, ok := idx.byNodeID[r.id]
			if !ok {
				continue
			}
			if r.dist < bestNode.Distance(rNode) {
				kept = append(kept, r)
			}
		}
		remaining = kept
	}

	if len(selected) < m {
		selectedSet := make(map[NodeID]bool, len(selected))
		for _, s := range selected {
			selectedSet[s.id] = true
		}
		for _, c := range ordered {
			if len(selected) >= m {
				break
			}
			if !selectedSet[c.id] {
				selected = append(selected, c)
				selectedSet[c.id] = true
			}
		}
	}

	return idsOf(selected)
}

// hardRemove removes a node and all incident edges entirely; used only
// internally by the re-insert path (spec §4.2.4, §4.2.6 "Hard remove").
func (idx *Index) hardRemove(id NodeID) {
	node, ok := idx.byNodeID[id]
	if !ok {
		return
	}
	for l := 0; l <= node.MaxLayer; l++ {
		for _, nb := range node.Neighbors(l) {
			if n, ok := idx.byNodeID[nb]; ok {
				n.RemoveEdge(l, id)
			}
		}
		if l < len(idx.layers) {
			idx.layers[l].remove(id)
		}
	}
	delete(idx.byNodeID, id)
	delete(idx.byChunkID, node.ChunkID)
	idx.sizeTotal--
	if !node.Deleted {
		idx.sizeLive--
	}
	if idx.hasEntry && idx.entryPoint == id {
		idx.recomputeEntryPoint()
	}
}

func (idx *Index) recomputeEntryPoint() {
	idx.hasEntry = false
	idx.maxLayer = 0
	bestLayer := -1
	var best NodeID
	for id, n := range idx.byNodeID {
		if n.MaxLayer > bestLayer {
			bestLayer = n.MaxLayer
			best = id
		}
	}
	if bestLayer >= 0 {
		idx.entryPoint = best
		idx.maxLayer = bestLayer
		idx.hasEntry = true
	}
}
