// Package tenant manages the lifecycle of per-tenant HNSW indexes: building,
// incremental updates, and destruction, serialized per tenant so concurrent
// callers never race a rebuild against an incremental update for the same
// tenant (spec §3 "Tenant Index Manager (C4)").
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/hnswbuild"
	"github.com/orneryd/tenantsearch/pkg/store"
)

var logger = log.New(log.Writer(), "tenant: ", log.LstdFlags)

// Entry holds one tenant's in-memory index plus the bookkeeping the manager
// needs to decide whether a rebuild is required (grounded on
// OrganizationIndexes in the original source).
type Entry struct {
	TenantID      string
	Index         *hnsw.Index
	LastUpdated   time.Time
	ChunkCount    int
	DocumentCount int
	IsBuilding    bool
}

// Manager owns every tenant's index plus the store it is built from. A
// per-tenant mutex (buildLocks) serializes BuildOrUpdate/AddChunks/
// RemoveChunks/UpdateChunkMetadata so at most one mutating operation per
// tenant runs at a time; independent tenants proceed fully concurrently.
type Manager struct {
	store  store.Store
	params hnsw.Params
	sink   hnsw.DenialSink

	mu      sync.RWMutex
	entries map[string]*Entry

	lockMu     sync.Mutex
	buildLocks map[string]*sync.Mutex
}

// New constructs a Manager backed by st, using params for every newly built
// index and sink for denial observations.
func New(st store.Store, params hnsw.Params, sink hnsw.DenialSink) *Manager {
	return &Manager{
		store:      st,
		params:     params,
		sink:       sink,
		entries:    make(map[string]*Entry),
		buildLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(tenantID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.buildLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.buildLocks[tenantID] = l
	}
	return l
}

// BuildOrUpdate (re)builds tenantID's index from the store if forceRebuild
// is set, the tenant has no index yet, or the store reports NeedsReindex
// (spec §4.4 "build_or_update").
func (m *Manager) BuildOrUpdate(ctx context.Context, tenantID string, forceRebuild bool) (*Entry, error) {
	lock := m.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return m.buildOrUpdateLocked(ctx, tenantID, forceRebuild)
}

// buildOrUpdateLocked is BuildOrUpdate's body, factored out so AddChunks can
// call it while already holding tenantID's build lock (spec §4.4 "If no
// index exists, calls BuildOrUpdate first").
func (m *Manager) buildOrUpdateLocked(ctx context.Context, tenantID string, forceRebuild bool) (*Entry, error) {
	stats, err := m.store.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	existing, hasExisting := m.entries[tenantID]
	m.mu.RUnlock()

	needsRebuild := forceRebuild || !hasExisting || existing.Index == nil || stats.NeedsReindex
	if !needsRebuild {
		logger.Printf("indexes for tenant %s are up to date: documents=%d chunks=%d", tenantID, stats.DocumentCount, stats.ChunkCount)
		return existing, nil
	}

	entry := &Entry{TenantID: tenantID, IsBuilding: true}
	logger.Printf("building index for tenant %s", tenantID)

	chunks, err := m.store.ListChunks(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		logger.Printf("no chunks found for tenant %s", tenantID)
		entry.IsBuilding = false
		entry.LastUpdated = time.Now()
		m.setEntry(tenantID, entry)
		return entry, nil
	}

	items := make([]hnswbuild.Item, 0, len(chunks))
	docs := make(map[hnsw.DocumentID]struct{})
	skipped := 0
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
		if len(c.Embedding) == 0 {
			skipped++
			continue
		}
		items = append(items, hnswbuild.Item{
			Vector:     c.Embedding,
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Metadata:   c.Metadata,
		})
	}
	if skipped > 0 {
		logger.Printf("found %d chunks without embeddings for tenant %s; excluded from vector search", skipped, tenantID)
	}

	if len(items) > 0 {
		builder := hnswbuild.New(tenantID, m.params, m.sink)
		idx, _, buildErr := builder.BuildStrict(items, nil)
		if buildErr != nil {
			entry.IsBuilding = false
			return nil, buildErr
		}
		entry.Index = idx
		logger.Printf("built index with %d vectors for tenant %s", len(items), tenantID)
	}

	entry.ChunkCount = len(chunks)
	entry.DocumentCount = len(docs)
	entry.IsBuilding = false
	entry.LastUpdated = time.Now()

	m.setEntry(tenantID, entry)
	if err := m.store.MarkReindexed(ctx, tenantID); err != nil {
		logger.Printf("failed to clear reindex flag for tenant %s: %v", tenantID, err)
	}

	logger.Printf("successfully built index for tenant %s: documents=%d chunks=%d", tenantID, entry.DocumentCount, entry.ChunkCount)
	return entry, nil
}

func (m *Manager) setEntry(tenantID string, entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tenantID] = entry
}

// AddChunks incrementally inserts new chunks into tenantID's index. If the
// tenant has no in-memory entry yet, it builds one from whatever the store
// already holds first, so a cold AddChunks call after a restart doesn't
// silently drop previously persisted chunks that aren't in this call's
// payload (spec §4.4 "add_chunks": "If no index exists, calls
// BuildOrUpdate first").
func (m *Manager) AddChunks(ctx context.Context, tenantID string, chunks []store.Chunk) error {
	lock := m.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	entry, ok := m.entries[tenantID]
	m.mu.RUnlock()

	if !ok {
		logger.Printf("no index found for tenant %s; building from persisted chunks first", tenantID)
		built, err := m.buildOrUpdateLocked(ctx, tenantID, false)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if built != nil {
			entry = built
		} else {
			entry = &Entry{TenantID: tenantID}
		}
	}

	m.mu.Lock()
	if entry.Index == nil {
		entry.Index = hnsw.New(tenantID, m.params, m.sink)
	}
	m.entries[tenantID] = entry
	m.mu.Unlock()

	if err := m.store.PutChunks(ctx, tenantID, chunks); err != nil {
		return err
	}

	added := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if _, err := entry.Index.Insert(c.Embedding, c.ChunkID, c.DocumentID, c.Metadata); err != nil {
			logger.Printf("error adding chunk %s to tenant %s index: %v", c.ChunkID, tenantID, err)
			continue
		}
		added++
	}
	entry.ChunkCount += len(chunks)
	entry.LastUpdated = time.Now()
	logger.Printf("added %d chunks to index for tenant %s", added, tenantID)
	return nil
}

// RemoveChunks soft-deletes chunkIDs from tenantID's index and deletes them
// from the store via Store.DeleteChunks (spec §4.4 "remove_chunks", "soft delete").
func (m *Manager) RemoveChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) error {
	lock := m.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	entry, ok := m.entries[tenantID]
	m.mu.RUnlock()
	if !ok {
		logger.Printf("no index found for tenant %s", tenantID)
		return fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}

	if err := m.store.DeleteChunks(ctx, tenantID, chunkIDs); err != nil {
		return err
	}

	removed := 0
	if entry.Index != nil {
		for _, id := range chunkIDs {
			if err := entry.Index.SoftDelete(id); err == nil {
				removed++
			}
		}
	}
	logger.Printf("marked %d chunks as deleted in index for tenant %s", removed, tenantID)
	return nil
}

// UpdateChunkMetadata merges metadata patches into both the store and the
// live index (spec §4.4 "update_chunk_metadata").
func (m *Manager) UpdateChunkMetadata(ctx context.Context, tenantID string, updates []store.ChunkUpdate) error {
	lock := m.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	entry, ok := m.entries[tenantID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}

	if err := m.store.UpdateMetadata(ctx, tenantID, updates); err != nil {
		return err
	}

	updated := 0
	if entry.Index != nil {
		for _, u := range updates {
			if err := entry.Index.UpdateMetadata(u.ChunkID, u.Metadata); err == nil {
				updated++
			}
		}
	}
	logger.Printf("updated metadata for %d chunks in index for tenant %s", updated, tenantID)
	return nil
}

// Get returns tenantID's entry, or apperr.ErrNotFound.
func (m *Manager) Get(tenantID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}
	return e, nil
}

// Has reports whether tenantID has a ready (non-building) index in memory.
func (m *Manager) Has(tenantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[tenantID]
	return ok && e.Index != nil && !e.IsBuilding
}

// Destroy drops tenantID's in-memory index. If persist is true, it snapshots
// the index through persistFn before dropping it.
func (m *Manager) Destroy(tenantID string, persist bool, persistFn func(tenantID string, idx *hnsw.Index) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[tenantID]
	if !ok {
		return fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}
	logger.Printf("destroying index for tenant %s", tenantID)
	if persist && entry.Index != nil && persistFn != nil {
		if err := persistFn(tenantID, entry.Index); err != nil {
			logger.Printf("failed to persist index for tenant %s: %v", tenantID, err)
		}
	}
	delete(m.entries, tenantID)
	m.lockMu.Lock()
	delete(m.buildLocks, tenantID)
	m.lockMu.Unlock()
	return nil
}

// Stats reports aggregate bookkeeping across every in-memory tenant (spec
// §4.4 "get_stats").
type Stats struct {
	TotalTenants int
	Tenants      map[string]TenantStats
}

// TenantStats is one tenant's row in Stats.
type TenantStats struct {
	ChunkCount    int
	DocumentCount int
	LastUpdated   *time.Time
	IsBuilding    bool
	HasIndex      bool
}

// Stats summarizes every tenant currently tracked in memory.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Stats{TotalTenants: len(m.entries), Tenants: make(map[string]TenantStats, len(m.entries))}
	for id, e := range m.entries {
		var lu *time.Time
		if !e.LastUpdated.IsZero() {
			t := e.LastUpdated
			lu = &t
		}
		out.Tenants[id] = TenantStats{
			ChunkCount:    e.ChunkCount,
			DocumentCount: e.DocumentCount,
			LastUpdated:   lu,
			IsBuilding:    e.IsBuilding,
			HasIndex:      e.Index != nil,
		}
	}
	return out
}

// LoadPersisted installs a previously persisted index for tenantID if the
// tenant isn't already in memory (spec §4.4 "load_persisted_index").
func (m *Manager) LoadPersisted(tenantID string, idx *hnsw.Index, lastUpdated time.Time) bool {
	if m.Has(tenantID) {
		logger.Printf("index for tenant %s is already in memory", tenantID)
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[tenantID] = &Entry{
		TenantID:    tenantID,
		Index:       idx,
		LastUpdated: lastUpdated,
		ChunkCount:  idx.Stats().SizeTotal,
	}
	logger.Printf("loaded persisted index for tenant %s into memory", tenantID)
	return true
}
