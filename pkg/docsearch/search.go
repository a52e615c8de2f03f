// Package docsearch implements the public query path: embed the query,
// search the tenant's HNSW index under a permission filter, and enrich the
// raw hits with stored content (spec §3 "Search Service (C5)").
package docsearch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/embed"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
	"github.com/orneryd/tenantsearch/pkg/store"
	"github.com/orneryd/tenantsearch/pkg/tenant"
)

var logger = log.New(log.Writer(), "docsearch: ", log.LstdFlags)

const (
	defaultK = 10
	maxK     = 100
)

// PermissionContext is the caller's identity for a single query, translated
// into an hnsw.PermissionFilter during Search (spec §4.1.1).
type PermissionContext struct {
	UserID       string
	UserRole     hnsw.UserRole
	UserGroupIDs []string
}

// QueryRequest is one search call's input (spec §4.5 "Search request").
type QueryRequest struct {
	TenantID   string
	Query      string
	K          int
	Permission *PermissionContext
	Metadata   map[string]metaval.Value // generic filter conditions
}

// Result is one enriched, permission-checked search hit (spec §4.5 "Search
// result"). Metadata is the node's own metadata merged with the stored
// chunk's metadata, with the node's permission keys never overwritten by
// the latter (spec §4.5 "permission-key non-shadowing").
type Result struct {
	ChunkID    hnsw.ChunkID
	DocumentID hnsw.DocumentID
	Content    string
	Score      float64
	Metadata   metaval.Metadata
	Source     string
}

// Response is the full shape returned by Search (spec §4.5).
type Response struct {
	Query          string
	Results        []Result
	TotalResults   int
	ProcessingTime time.Duration
	Error          string
}

// permission-sensitive keys that a stored chunk's own metadata must never
// be allowed to override during enrichment (spec §4.5).
var protectedMetaKeys = map[string]struct{}{
	hnsw.MetaAccessLevel:       {},
	hnsw.MetaGroupID:           {},
	hnsw.MetaRestrictedToUsers: {},
}

// Service is the public query-path entry point.
type Service struct {
	Tenants  *tenant.Manager
	Embedder embed.Embedder
	Store    store.Store
}

// New constructs a Service.
func New(tenants *tenant.Manager, embedder embed.Embedder, st store.Store) *Service {
	return &Service{Tenants: tenants, Embedder: embedder, Store: st}
}

// Search performs one query (spec §4.5): embed, HNSW-search under a
// permission + generic filter, then enrich with stored chunk content.
func (s *Service) Search(ctx context.Context, req QueryRequest) (Response, error) {
	start := time.Now()
	k := req.K
	if k <= 0 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}

	entry, err := s.Tenants.Get(req.TenantID)
	if err != nil {
		logger.Printf("no indexes found for tenant %s, building", req.TenantID)
		entry, err = s.Tenants.BuildOrUpdate(ctx, req.TenantID, false)
		if err != nil {
			return Response{}, err
		}
	}
	if entry.Index == nil || entry.Index.Stats().SizeTotal == 0 {
		return Response{
			Query:          req.Query,
			Results:        []Result{},
			ProcessingTime: time.Since(start),
			Error:          "no searchable content found for this tenant",
		}, nil
	}

	hits, err := s.searchHNSW(ctx, req, entry.Index, k*2)
	if err != nil {
		return Response{}, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	enriched, err := s.enrich(ctx, req.TenantID, hits, req.Permission)
	if err != nil {
		logger.Printf("error enriching search results for tenant %s: %v", req.TenantID, err)
		enriched = hits // degrade to un-enriched content rather than fail the query
	}

	return Response{
		Query:          req.Query,
		Results:        enriched,
		TotalResults:   len(enriched),
		ProcessingTime: time.Since(start),
	}, nil
}

func (s *Service) searchHNSW(ctx context.Context, req QueryRequest, idx *hnsw.Index, k int) ([]Result, error) {
	queryVec, err := s.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: generating query embedding: %v", apperr.ErrDependency, err)
	}

	var filter *hnsw.Filter
	var userID string
	if req.Permission != nil || len(req.Metadata) > 0 {
		filter = &hnsw.Filter{Generic: req.Metadata}
		if req.Permission != nil {
			filter.Permissions = &hnsw.PermissionFilter{
				UserID:       req.Permission.UserID,
				UserRole:     req.Permission.UserRole,
				UserGroupIDs: req.Permission.UserGroupIDs,
			}
			userID = req.Permission.UserID
		}
	}

	opts := hnsw.SearchOptions{K: k, Filter: filter, QueryText: req.Query, UserID: userID}
	searchHits, err := idx.Search(ctx, queryVec, opts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(searchHits))
	for _, h := range searchHits {
		if h.Node.Deleted {
			continue // the index should already exclude these; a defensive double check
		}
		results = append(results, Result{
			ChunkID:    h.Node.ChunkID,
			DocumentID: h.Node.DocumentID,
			Score:      h.Score,
			Metadata:   h.Node.Metadata.Clone(),
			Source:     "hnsw",
		})
	}
	logger.Printf("hnsw search returned %d results for query %q", len(results), req.Query)
	return results, nil
}

// CheckPermissions re-evaluates the five-level access predicate (spec
// §4.1.1) directly against a result's merged metadata. It is a defensive
// safety net applied here in docsearch, independent of the index-level
// check hnsw's Filter.Matches already performed during Search — it exists
// to catch a hit whose metadata changed shape between the index-level check
// and enrichment (e.g. a merge bug), not to replace the index-level check.
func CheckPermissions(metadata metaval.Metadata, perm *PermissionContext) bool {
	if perm == nil {
		return true
	}
	if perm.UserRole == hnsw.RoleAdmin {
		return true
	}

	levelVal, ok := metadata[hnsw.MetaAccessLevel]
	if !ok {
		return false
	}
	levelStr, ok := levelVal.AsString()
	if !ok {
		return false
	}

	switch hnsw.AccessLevel(levelStr) {
	case hnsw.AccessPublic:
		return true
	case hnsw.AccessGroup:
		groupVal, ok := metadata[hnsw.MetaGroupID]
		if !ok {
			return false
		}
		groupID, ok := groupVal.AsString()
		if !ok || groupID == "" {
			return false
		}
		for _, g := range perm.UserGroupIDs {
			if g == groupID {
				return true
			}
		}
		return false
	case hnsw.AccessManagers:
		return perm.UserRole == hnsw.RoleManager || perm.UserRole == hnsw.RoleAdmin
	case hnsw.AccessAdmins:
		return perm.UserRole == hnsw.RoleAdmin
	case hnsw.AccessRestricted:
		listVal, ok := metadata[hnsw.MetaRestrictedToUsers]
		if !ok {
			return false
		}
		items, ok := listVal.AsList()
		if !ok {
			return false
		}
		for _, it := range items {
			if s, ok := it.AsString(); ok && s == perm.UserID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (s *Service) enrich(ctx context.Context, tenantID string, results []Result, perm *PermissionContext) ([]Result, error) {
	if len(results) == 0 {
		return results, nil
	}
	ids := make([]hnsw.ChunkID, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	chunks, err := s.Store.GetChunks(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[hnsw.ChunkID]store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		c, ok := byID[r.ChunkID]
		if !ok {
			logger.Printf("no content found for chunk %s", r.ChunkID)
			continue
		}
		merged := r.Metadata.Clone()
		for k, v := range c.Metadata {
			if _, protected := protectedMetaKeys[k]; protected {
				continue
			}
			merged[k] = v
		}
		if !CheckPermissions(merged, perm) {
			logger.Printf("safety-net permission check rejected chunk %s for tenant %s; excluding from results", r.ChunkID, tenantID)
			continue
		}
		out = append(out, Result{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    c.Text,
			Score:      r.Score,
			Metadata:   merged,
			Source:     r.Source,
		})
	}
	return out, nil
}
