// Package llmclient is the boundary between the pipeline/search services and
// whatever large-language-model backend answers the six prompt-shaped calls
// the engine needs (spec §6 "LLM-backed collaborators").
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/orneryd/tenantsearch/pkg/apperr"
)

// Client is every LLM-backed call the engine needs, kept as one narrow
// interface so pipeline/chunking/contextmeta/ragsvc can each depend on only
// the method they use without pulling in an HTTP implementation in tests.
type Client interface {
	// ChunkSplit asks for split points in a <|start_chunk_N|>-delimited
	// document, returning the LLM's raw response text; callers parse the
	// split_after indices out of it (spec §4.6).
	ChunkSplit(ctx context.Context, prompt string) (string, error)

	// Contextualize produces a short situating blurb for a chunk within its
	// parent document (spec §4.7).
	Contextualize(ctx context.Context, prompt string) (string, error)

	// ExtractMetadata asks for a JSON object of extracted metadata fields
	// for a chunk (spec §4.7).
	ExtractMetadata(ctx context.Context, prompt string) (string, error)

	// EnhanceQuery rewrites a user query for better recall (spec §2).
	EnhanceQuery(ctx context.Context, prompt string) (string, error)

	// SelectContext picks the subset of retrieved chunks worth answering
	// from (spec §2).
	SelectContext(ctx context.Context, prompt string) (string, error)

	// GenerateAnswer produces the final answer text from a query plus
	// selected context (spec §2).
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// Config configures an HTTP-backed Client. It shares APIURL/APIPath/Model/
// Timeout with pkg/embed.Config, has no Provider field, and adds MaxRetries.
type Config struct {
	APIURL     string
	APIPath    string // e.g. /api/generate
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig targets a local Ollama chat/generate endpoint, the same
// backend pkg/embed.DefaultOllamaConfig targets for embeddings.
func DefaultConfig() *Config {
	return &Config{
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/generate",
		Model:      "llama3.1",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// HTTPClient is a Client backed by an Ollama-compatible /api/generate
// endpoint, grounded on pkg/embed.OllamaEmbedder's request/response idiom
// (single http.Client, JSON in, JSON out, StatusCode-checked body read).
type HTTPClient struct {
	config *Config
	client *http.Client
}

// NewHTTPClient constructs an HTTPClient. A nil config uses DefaultConfig.
func NewHTTPClient(config *Config) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}
	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// call issues one prompt, retrying with exponential backoff on any failure,
// including non-200 responses and undecodable bodies (spec §6 "All calls are
// retriable with exponential backoff").
// No pack dependency provides a retry/backoff helper, so this loop is
// hand-rolled over time.Sleep (justified in DESIGN.md).
func (c *HTTPClient) call(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", apperr.ErrCancelled
			case <-time.After(delay):
			}
		}

		text, err := c.doCall(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: llm call failed after %d attempts: %v", apperr.ErrDependency, c.config.MaxRetries+1, lastErr)
}

func (c *HTTPClient) doCall(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{Model: c.config.Model, Prompt: prompt, Stream: false}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling llm request: %v", apperr.ErrInvalidInput, err)
	}

	url := c.config.APIURL + c.config.APIPath
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating llm request: %v", apperr.ErrDependency, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: sending llm request: %v", apperr.ErrDependency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: llm backend returned %d: %s", apperr.ErrDependency, resp.StatusCode, string(bodyBytes))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("%w: decoding llm response: %v", apperr.ErrDependency, err)
	}
	return gen.Response, nil
}

func (c *HTTPClient) ChunkSplit(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}

func (c *HTTPClient) Contextualize(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}

func (c *HTTPClient) ExtractMetadata(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}

func (c *HTTPClient) EnhanceQuery(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}

func (c *HTTPClient) SelectContext(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}

func (c *HTTPClient) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt)
}
