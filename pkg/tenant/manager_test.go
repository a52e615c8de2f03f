package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
	"github.com/orneryd/tenantsearch/pkg/store"
)

func seedStore(t *testing.T, s *store.MemStore, tenantID string, n int) {
	t.Helper()
	chunks := make([]store.Chunk, n)
	for i := range chunks {
		chunks[i] = store.Chunk{
			ChunkID:    hnsw.ChunkID(string(rune('a' + i))),
			DocumentID: "d1",
			Embedding:  []float32{float32(i), float32(i + 1)},
		}
	}
	require.NoError(t, s.PutChunks(context.Background(), tenantID, chunks))
}

func TestBuildOrUpdateBuildsFromStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedStore(t, s, "t1", 5)

	m := New(s, hnsw.DefaultParams(), nil)
	entry, err := m.BuildOrUpdate(ctx, "t1", false)
	require.NoError(t, err)
	require.NotNil(t, entry.Index)
	assert.Equal(t, 5, entry.ChunkCount)
	assert.Equal(t, 1, entry.DocumentCount)
	assert.True(t, m.Has("t1"))
}

func TestBuildOrUpdateSkipsWhenUpToDate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedStore(t, s, "t1", 3)

	m := New(s, hnsw.DefaultParams(), nil)
	first, err := m.BuildOrUpdate(ctx, "t1", false)
	require.NoError(t, err)

	second, err := m.BuildOrUpdate(ctx, "t1", false)
	require.NoError(t, err)
	assert.Same(t, first.Index, second.Index)
}

func TestBuildOrUpdateUnknownTenant(t *testing.T) {
	s := store.NewMemStore()
	m := New(s, hnsw.DefaultParams(), nil)
	_, err := m.BuildOrUpdate(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddChunksCreatesIndexWhenMissing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := New(s, hnsw.DefaultParams(), nil)

	err := m.AddChunks(ctx, "t1", []store.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Embedding: []float32{1, 2}},
	})
	require.NoError(t, err)
	assert.True(t, m.Has("t1"))

	entry, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Index.Stats().SizeTotal)
}

func TestAddChunksOnColdTenantKeepsPersistedChunks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedStore(t, s, "t1", 3) // persisted chunks from a prior process, never loaded into memory

	m := New(s, hnsw.DefaultParams(), nil)
	require.False(t, m.Has("t1"), "tenant must start with no in-memory entry")

	err := m.AddChunks(ctx, "t1", []store.Chunk{
		{ChunkID: "new1", DocumentID: "d2", Embedding: []float32{9, 9}},
	})
	require.NoError(t, err)

	entry, err := m.Get("t1")
	require.NoError(t, err)
	// 3 persisted + 1 new, none silently dropped.
	assert.Equal(t, 4, entry.Index.Stats().SizeTotal)
}

func TestRemoveChunksSoftDeletes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := New(s, hnsw.DefaultParams(), nil)
	require.NoError(t, m.AddChunks(ctx, "t1", []store.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Embedding: []float32{1, 2}},
	}))

	require.NoError(t, m.RemoveChunks(ctx, "t1", []hnsw.ChunkID{"c1"}))

	entry, err := m.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Index.Stats().SizeLive)
	assert.Equal(t, 1, entry.Index.Stats().SizeTotal)
}

func TestUpdateChunkMetadataPropagates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := New(s, hnsw.DefaultParams(), nil)
	require.NoError(t, m.AddChunks(ctx, "t1", []store.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Embedding: []float32{1, 2}},
	}))

	require.NoError(t, m.UpdateChunkMetadata(ctx, "t1", []store.ChunkUpdate{
		{ChunkID: "c1", Metadata: metaval.Metadata{"k": metaval.String("v")}},
	}))

	entry, err := m.Get("t1")
	require.NoError(t, err)
	n, err := entry.Index.Get("c1")
	require.NoError(t, err)
	v, ok := n.Metadata["k"].AsString()
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestDestroyRemovesTenant(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	m := New(s, hnsw.DefaultParams(), nil)
	require.NoError(t, m.AddChunks(ctx, "t1", []store.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Embedding: []float32{1, 2}},
	}))

	require.NoError(t, m.Destroy("t1", false, nil))
	assert.False(t, m.Has("t1"))
	_, err := m.Get("t1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
