package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/store"
)

type stubLLM struct{}

func (s *stubLLM) ChunkSplit(ctx context.Context, prompt string) (string, error) {
	return "split_after: none", nil
}
func (s *stubLLM) Contextualize(ctx context.Context, prompt string) (string, error) {
	return "situating context", nil
}
func (s *stubLLM) ExtractMetadata(ctx context.Context, prompt string) (string, error) {
	return `{"keywords": ["k1"], "topics": ["t1"], "entities": [], "document_type": "article"}`, nil
}
func (s *stubLLM) EnhanceQuery(ctx context.Context, prompt string) (string, error)   { return "", nil }
func (s *stubLLM) SelectContext(ctx context.Context, prompt string) (string, error) { return "", nil }
func (s *stubLLM) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

type stubEmbedder struct{ dim int }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(len(text) % (i + 2))
	}
	return vec, nil
}
func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}
func (e *stubEmbedder) Dimensions() int { return e.dim }
func (e *stubEmbedder) Model() string   { return "stub" }

func genDocument(nSentences int) string {
	var b strings.Builder
	for i := 0; i < nSentences; i++ {
		fmt.Fprintf(&b, "This is sentence %d of the sample document used for testing. ", i)
	}
	return b.String()
}

func TestRunProducesAndStoresChunks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	coord := New(&stubLLM{}, &stubEmbedder{dim: 4}, st, DefaultConfig())

	chunks, errs := coord.Run(ctx, "t1", hnsw.DocumentID("doc1"), genDocument(40))
	require.Empty(t, errs)
	require.NotEmpty(t, chunks)

	stored, err := st.ListChunks(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, len(chunks), len(stored))
	for _, c := range stored {
		assert.NotEmpty(t, c.Embedding)
		assert.Equal(t, hnsw.DocumentID("doc1"), c.DocumentID)
	}
}

func TestRunPreservesChunkOrderInIDs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	coord := New(&stubLLM{}, &stubEmbedder{dim: 3}, st, Config{StageBuffer: 2, Workers: 2})

	chunks, errs := coord.Run(ctx, "t1", hnsw.DocumentID("docA"), genDocument(30))
	require.Empty(t, errs)
	for i, c := range chunks {
		assert.Equal(t, hnsw.ChunkID(fmt.Sprintf("docA-%d", i)), c.ChunkID)
	}
}

func TestRunAttachesExtractedMetadata(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	coord := New(&stubLLM{}, &stubEmbedder{dim: 3}, st, DefaultConfig())

	chunks, errs := coord.Run(ctx, "t1", hnsw.DocumentID("docB"), genDocument(10))
	require.Empty(t, errs)
	require.NotEmpty(t, chunks)
	docType, ok := chunks[0].Metadata["documentType"].AsString()
	require.True(t, ok)
	assert.Equal(t, "article", docType)
}
