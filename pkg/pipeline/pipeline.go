// Package pipeline coordinates the end-to-end ingestion flow for one
// document: chunk, contextualize + extract metadata (concurrently per
// chunk), embed, and persist (spec §3 "Pipeline Coordinator (C8)", §4.8).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/chunking"
	"github.com/orneryd/tenantsearch/pkg/contextmeta"
	"github.com/orneryd/tenantsearch/pkg/embed"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/llmclient"
	"github.com/orneryd/tenantsearch/pkg/metaval"
	"github.com/orneryd/tenantsearch/pkg/pool"
	"github.com/orneryd/tenantsearch/pkg/store"
)

var logger = log.New(log.Writer(), "pipeline: ", log.LstdFlags)

// Config bounds the pipeline's concurrency and queues (spec §4.8 "bounded
// channels", Design Note §9).
type Config struct {
	// StageBuffer is the channel capacity between the chunk-split stage
	// and the per-chunk enrichment workers.
	StageBuffer int
	// Workers is the number of concurrent per-chunk enrichment workers.
	Workers int
}

// DefaultConfig mirrors the teacher's conservative defaults for bounded
// work queues.
func DefaultConfig() Config {
	return Config{StageBuffer: 16, Workers: 4}
}

// Coordinator wires the chunking, contextualization/metadata, embedding,
// and storage collaborators into one ingestion pipeline per document.
type Coordinator struct {
	LLM      llmclient.Client
	Embedder embed.Embedder
	Store    store.Store
	Config   Config
}

// New constructs a Coordinator. A zero Config is replaced with
// DefaultConfig.
func New(llm llmclient.Client, embedder embed.Embedder, st store.Store, cfg Config) *Coordinator {
	if cfg.StageBuffer <= 0 && cfg.Workers <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.StageBuffer <= 0 {
		cfg.StageBuffer = DefaultConfig().StageBuffer
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Coordinator{LLM: llm, Embedder: embedder, Store: st, Config: cfg}
}

// rawChunk is one split section still awaiting enrichment, carried over the
// bounded stage channel (spec §4.8 stage 1 -> stage 2).
type rawChunk struct {
	index int
	text  string
}

// Result is one fully enriched, embedded chunk ready for storage.
type Result struct {
	Index    int
	Chunk    store.Chunk
	Err      error
}

// Run executes the full pipeline for one document and persists the
// resulting chunks (spec §4.8). It returns the stored chunks in split
// order; a per-chunk failure is recorded in the returned error slice
// without aborting the rest of the batch, mirroring the index builder's
// per-item try/continue discipline (pkg/hnswbuild.Build).
func (c *Coordinator) Run(ctx context.Context, tenantID string, documentID hnsw.DocumentID, documentText string) ([]store.Chunk, []error) {
	rawChunks := chunking.ChunkDocument(ctx, c.LLM, documentText)
	logger.Printf("document %s split into %d raw chunks", documentID, len(rawChunks))

	stage := make(chan rawChunk, c.Config.StageBuffer)
	results := make([]Result, len(rawChunks))

	go func() {
		defer close(stage)
		for i, text := range rawChunks {
			select {
			case stage <- rawChunk{index: i, text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	for w := 0; w < c.Config.Workers; w++ {
		group.Go(func() error {
			for rc := range stage {
				results[rc.index] = c.enrich(gctx, tenantID, documentID, documentText, rc)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, []error{err}
	}

	chunks := make([]store.Chunk, 0, len(results))
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		chunks = append(chunks, r.Chunk)
	}

	if len(chunks) > 0 {
		if err := c.Store.PutChunks(ctx, tenantID, chunks); err != nil {
			errs = append(errs, fmt.Errorf("%w: persisting enriched chunks: %v", apperr.ErrDependency, err))
		}
	}

	logger.Printf("document %s: %d chunks stored, %d failed", documentID, len(chunks), len(errs))
	return chunks, errs
}

// enrich runs the context-generation and metadata-extraction calls for one
// chunk concurrently (spec §4.8 "context ∥ metadata fan-out"), then embeds
// the contextualized text and assembles a store.Chunk.
func (c *Coordinator) enrich(ctx context.Context, tenantID string, documentID hnsw.DocumentID, document string, rc rawChunk) Result {
	var (
		chunkContext string
		meta         contextmeta.Metadata
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		chunkContext = contextmeta.GenerateContextForChunk(gctx, c.LLM, rc.text, document)
		return nil
	})
	group.Go(func() error {
		meta = contextmeta.ExtractMetadata(gctx, c.LLM, rc.text, "")
		return nil
	})
	_ = group.Wait() // both branches absorb their own errors into fallback values

	contextualized := buildContextualizedText(chunkContext, rc.text)

	vec, err := c.Embedder.Embed(ctx, contextualized)
	if err != nil {
		return Result{Index: rc.index, Err: fmt.Errorf("%w: embedding chunk %d of document %s: %v", apperr.ErrDependency, rc.index, documentID, err)}
	}

	chunkID := hnsw.ChunkID(fmt.Sprintf("%s-%d", documentID, rc.index))
	return Result{
		Index: rc.index,
		Chunk: store.Chunk{
			ChunkID:    chunkID,
			DocumentID: documentID,
			TenantID:   tenantID,
			Text:       rc.text,
			Embedding:  vec,
			Metadata:   metadataToValue(meta),
			UpdatedAt:  time.Now(),
		},
	}
}

// buildContextualizedText assembles the text actually embedded: the
// situating context prepended to the chunk body, using a pooled string
// builder (spec Design Note §9 "buffer reuse"), grounded on pkg/pool's
// GetStringBuilder/PutStringBuilder idiom for hot-path allocation reuse.
func buildContextualizedText(chunkContext, chunkText string) string {
	b := pool.GetStringBuilder()
	defer pool.PutStringBuilder(b)

	if chunkContext != "" {
		b.WriteString(chunkContext)
		b.WriteByte('\n')
	}
	b.WriteString(chunkText)
	return b.String()
}

func metadataToValue(m contextmeta.Metadata) metaval.Metadata {
	out := metaval.Metadata{
		"documentType": metaval.String(m.DocumentType),
	}
	if len(m.Keywords) > 0 {
		out["keywords"] = metaval.StringList(m.Keywords...)
	}
	if len(m.Topics) > 0 {
		out["topics"] = metaval.StringList(m.Topics...)
	}
	if len(m.Entities) > 0 {
		out["entities"] = metaval.StringList(m.Entities...)
	}
	return out
}
