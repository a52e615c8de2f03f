package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

func TestMemStorePutListStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	err := s.PutChunks(ctx, "t1", []Chunk{
		{ChunkID: "c1", DocumentID: "d1", Embedding: []float32{1, 2}},
		{ChunkID: "c2", DocumentID: "d1", Embedding: []float32{3, 4}},
		{ChunkID: "c3", DocumentID: "d2", Embedding: []float32{5, 6}},
	})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.True(t, stats.NeedsReindex)

	require.NoError(t, s.MarkReindexed(ctx, "t1"))
	stats, err = s.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, stats.NeedsReindex)

	chunks, err := s.ListChunks(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestMemStoreUnknownTenant(t *testing.T) {
	s := NewMemStore()
	_, err := s.Stats(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemStoreDeleteAndUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.PutChunks(ctx, "t1", []Chunk{
		{ChunkID: "c1", DocumentID: "d1", Metadata: metaval.Metadata{"k": metaval.String("v1")}},
	}))

	require.NoError(t, s.UpdateMetadata(ctx, "t1", []ChunkUpdate{
		{ChunkID: "c1", Metadata: metaval.Metadata{"k": metaval.String("v2")}},
	}))
	chunks, _ := s.ListChunks(ctx, "t1")
	require.Len(t, chunks, 1)
	v, _ := chunks[0].Metadata["k"].AsString()
	assert.Equal(t, "v2", v)

	require.NoError(t, s.DeleteChunks(ctx, "t1", []hnsw.ChunkID{"c1"}))
	chunks, _ = s.ListChunks(ctx, "t1")
	assert.Empty(t, chunks)
}
