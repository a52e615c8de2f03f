package hnswbuild

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

func genItems(n, dim int, seed int64) []Item {
	rng := rand.New(rand.NewSource(seed))
	items := make([]Item, n)
	for i := range items {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		items[i] = Item{
			Vector:     v,
			ChunkID:    hnsw.ChunkID(fmt.Sprintf("c%d", i)),
			DocumentID: "d1",
			Metadata:   metaval.Metadata{},
		}
	}
	return items
}

func TestBuildInsertsAll(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	items := genItems(120, 8, 1)

	var lastDone, lastTotal int
	idx, report := b.Build(items, func(done, total int) {
		lastDone, lastTotal = done, total
	})

	assert.Equal(t, 120, report.Added)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 120, idx.Stats().SizeTotal)
	assert.Equal(t, 120, lastDone)
	assert.Equal(t, 120, lastTotal)
}

func TestBuildRecordsPerItemFailures(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	items := genItems(5, 4, 2)
	items[2].Vector = []float32{1, 2} // wrong dimension, should fail but not abort

	idx, report := b.Build(items, nil)
	assert.Equal(t, 4, report.Added)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures, items[2].ChunkID)
	assert.Equal(t, 4, idx.Stats().SizeTotal)
}

func TestBuildStrictSingleSurvivorIsNotAllFailed(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	// The first item always establishes the index dimension and therefore
	// always succeeds; only later items can mismatch it. BuildStrict's
	// all-failed error path therefore only fires when items is non-empty
	// and every single insert still failed, which an empty build cannot
	// trigger.
	items := []Item{
		{Vector: []float32{1, 2, 3, 4}, ChunkID: "ok", DocumentID: "d1"},
		{Vector: []float32{1, 2}, ChunkID: "bad", DocumentID: "d1"},
	}
	_, report, err := b.BuildStrict(items, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Contains(t, report.Failures, hnsw.ChunkID("bad"))
}

func TestBuildStrictEmptyInputNoError(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	_, report, err := b.BuildStrict(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Added)
}

func TestAddBatchUpdateRemoveInsertOrdering(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	idx, _ := b.Build(genItems(10, 4, 4), nil)

	ru := RemovedUpdated{
		UpdatedMetadata: map[hnsw.ChunkID]metaval.Metadata{
			"c0": {"label": metaval.String("updated")},
		},
		Removed: []hnsw.ChunkID{"c1"},
	}
	newItems := genItems(5, 4, 5)
	for i := range newItems {
		newItems[i].ChunkID = hnsw.ChunkID(fmt.Sprintf("new%d", i))
	}

	report := b.AddBatch(idx, newItems, ru, nil)
	assert.Equal(t, 5, report.Added)

	n, err := idx.Get("c0")
	require.NoError(t, err)
	v, ok := n.Metadata["label"].AsString()
	require.True(t, ok)
	assert.Equal(t, "updated", v)

	assert.Equal(t, 14, idx.Stats().SizeLive) // 10 inserted - 1 soft-deleted + 5 new
}

func TestValidatePassesOnHealthyIndex(t *testing.T) {
	b := New("t1", hnsw.DefaultParams(), nil)
	idx, _ := b.Build(genItems(50, 6, 6), nil)

	report := Validate(idx)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
	assert.Equal(t, 0, report.OrphanedNodes)
	assert.Equal(t, 0, report.ConnectionIssues)
}

func TestValidateFlagsEmptyIndex(t *testing.T) {
	idx := hnsw.New("t1", hnsw.DefaultParams(), nil)
	report := Validate(idx)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Issues, "index is empty")
}
