// Package store defines the chunk-storage abstraction the tenant index
// manager loads from and persists to, plus an in-memory and a badger-backed
// implementation (spec §3 "Index Builder (C3)"/"Tenant Index Manager (C4)"
// external collaborators).
package store

import (
	"context"
	"time"

	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

// Chunk is a single stored unit: a chunk of document text, its embedding,
// and its metadata (including the permission fields from spec §3).
type Chunk struct {
	ChunkID    hnsw.ChunkID
	DocumentID hnsw.DocumentID
	TenantID   string
	Text       string
	Embedding  []float32
	Metadata   metaval.Metadata
	UpdatedAt  time.Time
}

// ChunkUpdate is a metadata patch for ChunkID, used by UpdateMetadata.
type ChunkUpdate struct {
	ChunkID  hnsw.ChunkID
	Metadata metaval.Metadata
}

// OrganizationStats reports whether a tenant needs reindexing and its
// current chunk/document counts, grounded on get_organization_stats in the
// original database service.
type OrganizationStats struct {
	TenantID      string
	ChunkCount    int
	DocumentCount int
	NeedsReindex  bool
}

// Store is the persistence boundary for chunks: an index builder loads the
// full chunk set for a tenant from a Store, and a pipeline coordinator
// writes freshly produced chunks back to one.
type Store interface {
	// Stats returns aggregate counts for tenantID, or apperr.ErrNotFound if
	// the tenant is unknown.
	Stats(ctx context.Context, tenantID string) (OrganizationStats, error)

	// ListChunks returns every live chunk for tenantID.
	ListChunks(ctx context.Context, tenantID string) ([]Chunk, error)

	// GetChunks fetches the stored Chunk (content + metadata) for each of
	// chunkIDs that exists; missing ids are simply omitted from the result.
	GetChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) ([]Chunk, error)

	// PutChunks upserts chunks, keyed by ChunkID.
	PutChunks(ctx context.Context, tenantID string, chunks []Chunk) error

	// DeleteChunks removes the listed chunk ids for tenantID.
	DeleteChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) error

	// UpdateMetadata merges each update's Metadata into the stored chunk.
	UpdateMetadata(ctx context.Context, tenantID string, updates []ChunkUpdate) error

	// MarkReindexed clears the needs-reindex flag after a successful build.
	MarkReindexed(ctx context.Context, tenantID string) error
}
