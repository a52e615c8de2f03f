package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
)

// MemStore is an in-process Store, used by tests and by single-node
// deployments that don't need badger's durability (spec's "store" interface
// is backend-agnostic by design).
type MemStore struct {
	mu       sync.RWMutex
	byTenant map[string]map[hnsw.ChunkID]Chunk
	reindex  map[string]bool
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		byTenant: make(map[string]map[hnsw.ChunkID]Chunk),
		reindex:  make(map[string]bool),
	}
}

func (m *MemStore) tenantMap(tenantID string) map[hnsw.ChunkID]Chunk {
	t, ok := m.byTenant[tenantID]
	if !ok {
		t = make(map[hnsw.ChunkID]Chunk)
		m.byTenant[tenantID] = t
	}
	return t
}

func (m *MemStore) Stats(ctx context.Context, tenantID string) (OrganizationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks, ok := m.byTenant[tenantID]
	if !ok {
		return OrganizationStats{}, fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}
	docs := make(map[hnsw.DocumentID]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	return OrganizationStats{
		TenantID:      tenantID,
		ChunkCount:    len(chunks),
		DocumentCount: len(docs),
		NeedsReindex:  m.reindex[tenantID],
	}, nil
}

func (m *MemStore) ListChunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := m.byTenant[tenantID]
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemStore) GetChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.byTenant[tenantID]
	out := make([]Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := t[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) PutChunks(ctx context.Context, tenantID string, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenantMap(tenantID)
	for _, c := range chunks {
		t[c.ChunkID] = c
	}
	m.reindex[tenantID] = true
	return nil
}

func (m *MemStore) DeleteChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenantMap(tenantID)
	for _, id := range chunkIDs {
		delete(t, id)
	}
	m.reindex[tenantID] = true
	return nil
}

func (m *MemStore) UpdateMetadata(ctx context.Context, tenantID string, updates []ChunkUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenantMap(tenantID)
	for _, u := range updates {
		c, ok := t[u.ChunkID]
		if !ok {
			continue
		}
		c.Metadata = c.Metadata.Merge(u.Metadata)
		t[u.ChunkID] = c
	}
	return nil
}

func (m *MemStore) MarkReindexed(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reindex[tenantID] = false
	return nil
}
