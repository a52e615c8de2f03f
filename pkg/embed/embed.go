// Package embed generates the vector embeddings that back a tenant's HNSW
// index: chunk text in, a fixed-dimension float32 vector out. The chunking
// pipeline (pkg/pipeline) calls Embed/EmbedBatch while building an index;
// docsearch calls Embed once per incoming query so the query vector can be
// compared against it.
//
// Two providers are supported:
//   - Ollama: local model server, no API key
//   - OpenAI: hosted API, requires an API key
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder turns chunk or query text into a vector. Implementations must be
// safe for concurrent use: the pipeline's worker pool and a search request
// may call the same Embedder at once.
type Embedder interface {
	// Embed generates the embedding for a single chunk or query.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for a batch of chunks, used by the
	// pipeline when contextualizing and embedding a document's chunks
	// together.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size this embedder produces. An index
	// built with one Dimensions value cannot search vectors from another.
	Dimensions() int

	// Model returns the configured model name. It is not stored with a
	// tenant's persisted index.
	Model() string
}

// Config holds the settings needed to reach an embedding provider.
type Config struct {
	Provider   string        // "ollama" or "openai"
	APIURL     string        // e.g. http://localhost:11434
	APIPath    string        // e.g. /api/embeddings or /v1/embeddings
	APIKey     string        // OpenAI only
	Model      string        // e.g. mxbai-embed-large
	Dimensions int           // expected vector length, validated by callers
	Timeout    time.Duration
}

// DefaultOllamaConfig returns settings for a local Ollama server running
// mxbai-embed-large (1024 dimensions).
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   "ollama",
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig returns settings for OpenAI's text-embedding-3-small
// (1536 dimensions), authenticated with apiKey.
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   "openai",
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// OllamaEmbedder implements Embedder against a local Ollama server.
type OllamaEmbedder struct {
	config *Config
	client *http.Client
}

// NewOllama creates an Ollama embedder. If config is nil, DefaultOllamaConfig
// is used.
func NewOllama(config *Config) *OllamaEmbedder {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates a vector embedding for a single chunk or query.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := ollamaRequest{Model: e.config.Model, Prompt: text}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return ollamaResp.Embedding, nil
}

// EmbedBatch embeds each chunk in turn. Ollama's HTTP API has no batch
// endpoint, so a pipeline stage embedding many chunks pays one round trip
// per chunk.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = embedding
	}
	return results, nil
}

// Dimensions returns the configured embedding dimensions.
func (e *OllamaEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.config.Model }

// OpenAIEmbedder implements Embedder against OpenAI's embeddings API.
type OpenAIEmbedder struct {
	config *Config
	client *http.Client
}

// NewOpenAI creates an OpenAI embedder. If config is nil,
// DefaultOpenAIConfig("") is used, which will fail at request time without
// an API key.
func NewOpenAI(config *Config) *OpenAIEmbedder {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	return &OpenAIEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates a vector embedding for a single chunk or query, via
// EmbedBatch with a single-element input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch embeds every text in one API call. OpenAI accepts up to 2048
// inputs per request; larger chunk batches should be split by the caller.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openaiRequest{Model: e.config.Model, Input: texts}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.config.APIURL + e.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var openaiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([][]float32, len(openaiResp.Data))
	for _, data := range openaiResp.Data {
		results[data.Index] = data.Embedding
	}
	return results, nil
}

// Dimensions returns the configured embedding dimensions.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// Model returns the configured model name.
func (e *OpenAIEmbedder) Model() string { return e.config.Model }

// NewEmbedder builds the Embedder named by config.Provider. This is what
// cmd/tenantsearch calls so the runtime provider is a config value
// (TENANTSEARCH_EMBEDDING_PROVIDER) rather than a compile-time choice.
func NewEmbedder(config *Config) (Embedder, error) {
	switch config.Provider {
	case "ollama":
		return NewOllama(config), nil
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAI(config), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}
}
