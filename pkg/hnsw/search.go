package hnsw

import (
	"context"
	"time"

	"github.com/orneryd/tenantsearch/pkg/apperr"
)

// DenialObservation is emitted when a would-be result is filtered out by the
// permission predicate for a GROUP-level reason (spec §4.2.5 "Denial
// observation").
type DenialObservation struct {
	TenantID   string
	UserID     string
	QueryText  string
	ChunkID    ChunkID
	DocumentID DocumentID
	GroupID    string
	Similarity float64
	Timestamp  time.Time
}

// DenialSink receives denial observations. Observe must not block the
// caller for long; implementations are expected to enqueue and return
// (spec §9 "Background denial logging").
type DenialSink interface {
	Observe(DenialObservation)
}

// SearchHit is one ranked result of a Search call.
type SearchHit struct {
	Node     *Node
	Distance float64
	Score    float64 // 1 / (1 + distance)
}

// SearchOptions configures a single Search call (spec §4.2.5).
type SearchOptions struct {
	K         int
	Ef        *int // nil selects max(ef_construction, k)
	Filter    *Filter
	QueryText string // enables denial observation when paired with UserID
	UserID    string
}

// Search performs the public HNSW search (spec §4.2.5): greedy descent
// through layers max_layer..1, a widened layer-0 scan when a filter is
// present, and a post-traversal filter step. Deleted nodes are always
// excluded.
func (idx *Index) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if opts.K <= 0 {
		return nil, apperr.ErrInvalidInput
	}
	if idx.dimSet && len(query) != idx.dim {
		return nil, apperr.ErrInvalidInput
	}
	if !idx.hasEntry {
		return []SearchHit{}, nil
	}

	ef := opts.K
	if opts.Ef != nil {
		ef = *opts.Ef
	} else if idx.params.EfConstruction > ef {
		ef = idx.params.EfConstruction
	}

	ep := idx.entryPoint
	for l := idx.maxLayer; l > 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, apperr.ErrCancelled
		}
		cands := idx.searchLayer(query, []NodeID{ep}, 1, l, nil)
		if len(cands) > 0 {
			ep = cands[0].id
		}
	}

	efEff := ef
	if opts.Filter != nil {
		if w := 3 * opts.K; w > efEff {
			efEff = w
		}
	}

	candidates := idx.searchLayer(query, []NodeID{ep}, efEff, 0, nil)

	hits := make([]SearchHit, 0, opts.K)
	for _, c := range candidates {
		node, ok := idx.byNodeID[c.id]
		if !ok || node.Deleted {
			continue
		}
		if opts.Filter != nil && !opts.Filter.Matches(node) {
			idx.observeDenial(node, opts, c.dist)
			continue
		}
		hits = append(hits, SearchHit{Node: node, Distance: c.dist, Score: 1.0 / (1.0 + c.dist)})
		if len(hits) >= opts.K {
			break
		}
	}
	return hits, nil
}

func (idx *Index) observeDenial(node *Node, opts SearchOptions, dist float64) {
	if idx.sink == nil || opts.QueryText == "" || opts.UserID == "" || opts.Filter == nil {
		return
	}
	groupID, denied := DeniedByGroup(node, opts.Filter.Permissions)
	if !denied {
		return
	}
	obs := DenialObservation{
		TenantID:   idx.TenantID,
		UserID:     opts.UserID,
		QueryText:  opts.QueryText,
		ChunkID:    node.ChunkID,
		DocumentID: node.DocumentID,
		GroupID:    groupID,
		Similarity: 1.0 / (1.0 + dist),
		Timestamp:  time.Now(),
	}
	go idx.sink.Observe(obs)
}

// Stats summarizes index shape for observability (spec §4.3 "stats{}" and
// §4.4 Tenant Index Manager).
type Stats struct {
	TenantID     string
	SizeTotal    int
	SizeLive     int
	MaxLayer     int
	HasEntry     bool
	LayerSizes   map[int]int
	M            int
	EfConstruction int
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	layerSizes := make(map[int]int, len(idx.layers))
	for l, set := range idx.layers {
		layerSizes[l] = len(set)
	}
	return Stats{
		TenantID:       idx.TenantID,
		SizeTotal:      idx.sizeTotal,
		SizeLive:       idx.sizeLive,
		MaxLayer:       idx.maxLayer,
		HasEntry:       idx.hasEntry,
		LayerSizes:     layerSizes,
		M:              idx.params.M,
		EfConstruction: idx.params.EfConstruction,
	}
}

// Len returns the total node count (including soft-deleted), matching the
// teacher's Size() convention.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.sizeTotal
}
