// Package ragsvc is a thin retrieval-augmented-generation orchestrator: it
// wires query enhancement, the search service, context selection, and
// answer generation into the single call sequence
// enhance -> search -> select -> answer (spec §2, supplemented from
// test_rag_pipeline.py's expected flow).
package ragsvc

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/docsearch"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/llmclient"
)

var logger = log.New(log.Writer(), "ragsvc: ", log.LstdFlags)

const defaultMaxContextChunks = 5

// Request is one RAG query (spec §2, mirroring test_rag_pipeline.py's
// rag-query request body).
type Request struct {
	TenantID         string
	Query            string
	ConversationID   string
	Permission       *docsearch.PermissionContext
	MaxContextChunks int
}

// Source is one answer-supporting chunk surfaced back to the caller.
type Source struct {
	ChunkID        hnsw.ChunkID
	DocumentID     hnsw.DocumentID
	DocumentTitle  string
	Content        string
	RelevanceScore float64
	Metadata       map[string]any
	PageNumber     int
}

// Response is the full RAG answer (spec §2). Ask does not populate
// Confidence: the LLM's answer call returns text only, so Confidence is
// always zero.
type Response struct {
	Query          string
	Answer         string
	Sources        []Source
	ConversationID string
	ProcessingTime time.Duration
	Confidence     float64
}

const noResultsAnswer = "I couldn't find any information relevant to that question in the available documents."

// Service orchestrates one RAG turn over a Searcher and an llmclient.Client.
type Service struct {
	Search *docsearch.Service
	LLM    llmclient.Client
}

// New constructs a Service.
func New(search *docsearch.Service, llm llmclient.Client) *Service {
	return &Service{Search: search, LLM: llm}
}

const enhancePrompt = `Rewrite the following user question to improve semantic search recall. Keep the same intent.
Respond only with the rewritten query, no commentary.

Question: %s`

const selectPrompt = `Given the user question and a numbered list of candidate passages, respond with the
comma-separated indices (starting at 0) of the passages worth answering from, most relevant first.
If none are relevant, respond with: none

Question: %s

Passages:
%s`

const answerPrompt = `Answer the user's question using only the provided context. If the context does not contain
the answer, say you couldn't find relevant information.

Question: %s

Context:
%s

Answer:`

// Ask runs one full RAG turn: enhance the query, search under the caller's
// permission scope, let the LLM pick which hits to answer from, then
// generate the final answer (spec §2).
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	k := req.MaxContextChunks
	if k <= 0 {
		k = defaultMaxContextChunks
	}

	enhancedQuery := s.enhanceQuery(ctx, req.Query)

	searchResp, err := s.Search.Search(ctx, docsearch.QueryRequest{
		TenantID:   req.TenantID,
		Query:      enhancedQuery,
		K:          k,
		Permission: req.Permission,
	})
	if err != nil {
		logger.Printf("search failed for tenant %s: %v", req.TenantID, err)
		return Response{
			Query:          req.Query,
			Answer:         "Sorry, an error occurred while searching for an answer.",
			Sources:        []Source{},
			ConversationID: req.ConversationID,
			ProcessingTime: time.Since(start),
		}, nil
	}

	if len(searchResp.Results) == 0 {
		return Response{
			Query:          req.Query,
			Answer:         noResultsAnswer,
			Sources:        []Source{},
			ConversationID: req.ConversationID,
			ProcessingTime: time.Since(start),
		}, nil
	}

	selected := s.selectContext(ctx, req.Query, searchResp.Results)
	if len(selected) > k {
		selected = selected[:k]
	}

	answer := s.generateAnswer(ctx, req.Query, selected)

	sources := make([]Source, len(selected))
	for i, r := range selected {
		sources[i] = Source{
			ChunkID:        r.ChunkID,
			DocumentID:     r.DocumentID,
			Content:        r.Content,
			RelevanceScore: r.Score,
			Metadata:       metadataToMap(r),
		}
	}

	return Response{
		Query:          req.Query,
		Answer:         answer,
		Sources:        sources,
		ConversationID: req.ConversationID,
		ProcessingTime: time.Since(start),
	}, nil
}

func (s *Service) enhanceQuery(ctx context.Context, query string) string {
	enhanced, err := s.LLM.EnhanceQuery(ctx, fmt.Sprintf(enhancePrompt, query))
	if err != nil || strings.TrimSpace(enhanced) == "" {
		return query
	}
	return strings.TrimSpace(enhanced)
}

// selectContext asks the LLM which search hits are worth answering from,
// defaulting to "keep everything in rank order" if the LLM call fails or
// its response can't be parsed (spec §2 "select -> answer").
func (s *Service) selectContext(ctx context.Context, query string, results []docsearch.Result) []docsearch.Result {
	var passages strings.Builder
	for i, r := range results {
		fmt.Fprintf(&passages, "[%d] %s\n", i, r.Content)
	}

	response, err := s.LLM.SelectContext(ctx, fmt.Sprintf(selectPrompt, query, passages.String()))
	if err != nil {
		return results
	}
	response = strings.TrimSpace(response)
	if response == "" || strings.EqualFold(response, "none") {
		return results
	}

	indices := parseIndexList(response)
	if len(indices) == 0 {
		return results
	}

	out := make([]docsearch.Result, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(results) {
			out = append(out, results[idx])
		}
	}
	if len(out) == 0 {
		return results
	}
	return out
}

func parseIndexList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		var n int
		if _, err := fmt.Sscanf(part, "%d", &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (s *Service) generateAnswer(ctx context.Context, query string, selected []docsearch.Result) string {
	var context strings.Builder
	for _, r := range selected {
		context.WriteString(r.Content)
		context.WriteString("\n\n")
	}

	answer, err := s.LLM.GenerateAnswer(ctx, fmt.Sprintf(answerPrompt, query, context.String()))
	if err != nil {
		logger.Printf("error generating answer: %v", err)
		return fmt.Sprintf("%s: an error occurred generating the answer", apperr.ErrDependency)
	}
	return strings.TrimSpace(answer)
}

func metadataToMap(r docsearch.Result) map[string]any {
	out := make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		if s, ok := v.AsString(); ok {
			out[k] = s
			continue
		}
		if items, ok := v.AsList(); ok {
			strs := make([]string, 0, len(items))
			for _, it := range items {
				if s, ok := it.AsString(); ok {
					strs = append(strs, s)
				}
			}
			out[k] = strs
		}
	}
	return out
}
