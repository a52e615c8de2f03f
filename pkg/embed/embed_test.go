package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.APIURL = srv.URL
	embedder := NewOllama(cfg)

	vec, err := embedder.Embed(context.Background(), "chunk text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 1024, embedder.Dimensions())
	assert.Equal(t, "mxbai-embed-large", embedder.Model())
}

func TestOllamaEmbedderEmbedBatchOneRequestPerText(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{float32(calls)}})
	}))
	defer srv.Close()

	cfg := DefaultOllamaConfig()
	cfg.APIURL = srv.URL
	embedder := NewOllama(cfg)

	vecs, err := embedder.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, 3, calls)
}

func TestOpenAIEmbedderEmbedBatchSingleRequest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := openaiResponse{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(text))}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("test-key")
	cfg.APIURL = srv.URL
	embedder := NewOpenAI(cfg)

	vecs, err := embedder.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, vecs, 2)
}

func TestNewEmbedderSelectsProvider(t *testing.T) {
	e, err := NewEmbedder(&Config{Provider: "ollama"})
	require.NoError(t, err)
	_, ok := e.(*OllamaEmbedder)
	assert.True(t, ok)

	_, err = NewEmbedder(&Config{Provider: "openai"})
	assert.Error(t, err, "openai without an API key should fail")

	e, err = NewEmbedder(&Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	_, ok = e.(*OpenAIEmbedder)
	assert.True(t, ok)

	_, err = NewEmbedder(&Config{Provider: "bogus"})
	assert.Error(t, err)
}
