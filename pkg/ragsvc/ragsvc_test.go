package ragsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/docsearch"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
	"github.com/orneryd/tenantsearch/pkg/store"
	"github.com/orneryd/tenantsearch/pkg/tenant"
)

type stubLLM struct {
	enhance string
	selectR string
	answer  string
	failAll bool
}

func (s *stubLLM) ChunkSplit(ctx context.Context, prompt string) (string, error) { return "", nil }
func (s *stubLLM) Contextualize(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (s *stubLLM) ExtractMetadata(ctx context.Context, prompt string) (string, error) {
	return "", nil
}
func (s *stubLLM) EnhanceQuery(ctx context.Context, prompt string) (string, error) {
	if s.failAll {
		return "", assert.AnError
	}
	return s.enhance, nil
}
func (s *stubLLM) SelectContext(ctx context.Context, prompt string) (string, error) {
	if s.failAll {
		return "", assert.AnError
	}
	return s.selectR, nil
}
func (s *stubLLM) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	if s.failAll {
		return "", assert.AnError
	}
	return s.answer, nil
}

type stubEmbedder struct{ dim int }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dim), nil
}
func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}
func (e *stubEmbedder) Dimensions() int { return e.dim }
func (e *stubEmbedder) Model() string   { return "stub" }

func newSearchService(t *testing.T, n int) *docsearch.Service {
	t.Helper()
	st := store.NewMemStore()
	chunks := make([]store.Chunk, n)
	for i := range chunks {
		chunks[i] = store.Chunk{
			ChunkID:    hnsw.ChunkID(string(rune('a' + i))),
			DocumentID: "doc1",
			Text:       "relevant content",
			Embedding:  []float32{float32(i), float32(i + 1), float32(i + 2)},
			Metadata:   metaval.Metadata{hnsw.MetaAccessLevel: metaval.String("PUBLIC")},
		}
	}
	require.NoError(t, st.PutChunks(context.Background(), "t1", chunks))
	mgr := tenant.New(st, hnsw.DefaultParams(), nil)
	return docsearch.New(mgr, &stubEmbedder{dim: 3}, st)
}

func TestAskReturnsAnswerWithSources(t *testing.T) {
	search := newSearchService(t, 4)
	llm := &stubLLM{enhance: "better query", selectR: "0", answer: "Here is the answer."}
	svc := New(search, llm)

	resp, err := svc.Ask(context.Background(), Request{TenantID: "t1", Query: "q", MaxContextChunks: 3})
	require.NoError(t, err)
	assert.Equal(t, "Here is the answer.", resp.Answer)
	assert.NotEmpty(t, resp.Sources)
}

func TestAskNoResultsReturnsApology(t *testing.T) {
	search := newSearchService(t, 0)
	llm := &stubLLM{enhance: "q", selectR: "none", answer: "x"}
	svc := New(search, llm)

	resp, err := svc.Ask(context.Background(), Request{TenantID: "t1", Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.NotEmpty(t, resp.Answer)
}

func TestAskFallsBackToOriginalQueryOnEnhanceFailure(t *testing.T) {
	search := newSearchService(t, 2)
	llm := &stubLLM{failAll: true}
	svc := New(search, llm)

	resp, err := svc.Ask(context.Background(), Request{TenantID: "t1", Query: "original"})
	require.NoError(t, err)
	assert.Equal(t, "original", resp.Query)
	assert.NotEmpty(t, resp.Sources) // selectContext degrades to "keep all"
}

func TestAskRespectsMaxContextChunks(t *testing.T) {
	search := newSearchService(t, 5)
	llm := &stubLLM{enhance: "q", selectR: "none", answer: "ans"}
	svc := New(search, llm)

	resp, err := svc.Ask(context.Background(), Request{TenantID: "t1", Query: "q", MaxContextChunks: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Sources), 2)
}

func TestAskPassesThroughConversationID(t *testing.T) {
	search := newSearchService(t, 1)
	llm := &stubLLM{enhance: "q", selectR: "none", answer: "ans"}
	svc := New(search, llm)

	resp, err := svc.Ask(context.Background(), Request{TenantID: "t1", Query: "q", ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", resp.ConversationID)
}
