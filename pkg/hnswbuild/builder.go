// Package hnswbuild constructs and validates hnsw.Index instances in bulk
// (spec §3 "Index Builder (C3)").
package hnswbuild

import (
	"fmt"
	"log"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/metaval"
)

var logger = log.New(log.Writer(), "hnswbuild: ", log.LstdFlags)

// ProgressFunc is called every 100 inserted items during Build and once more
// at completion, mirroring the teacher's coarse-grained progress callback.
type ProgressFunc func(done, total int)

// Builder constructs per-tenant indexes from aligned input slices.
type Builder struct {
	TenantID string
	Params   hnsw.Params
	Sink     hnsw.DenialSink
}

// New creates a Builder for tenantID with the given construction params.
func New(tenantID string, params hnsw.Params, sink hnsw.DenialSink) *Builder {
	return &Builder{TenantID: tenantID, Params: params, Sink: sink}
}

// Item is one chunk to add during Build or AddBatch.
type Item struct {
	Vector     []float32
	ChunkID    hnsw.ChunkID
	DocumentID hnsw.DocumentID
	Metadata   metaval.Metadata
}

// BuildReport summarizes a Build call: how many items were added and which
// ones failed, keyed by chunk id (spec §4.3 "per-item failures do not abort
// the whole build").
type BuildReport struct {
	Added    int
	Failures map[hnsw.ChunkID]error
}

// Build constructs a fresh index from items, in order. An item that fails to
// insert (e.g. a dimension mismatch against the first item seen) is recorded
// in the report and skipped rather than aborting the whole build, matching
// the teacher's try/except-continue loop.
func (b *Builder) Build(items []Item, progress ProgressFunc) (*hnsw.Index, BuildReport) {
	idx := hnsw.New(b.TenantID, b.Params, b.Sink)
	report := BuildReport{Failures: make(map[hnsw.ChunkID]error)}

	total := len(items)
	logger.Printf("building index for tenant %s with %d items", b.TenantID, total)

	for i, it := range items {
		if _, err := idx.Insert(it.Vector, it.ChunkID, it.DocumentID, it.Metadata); err != nil {
			logger.Printf("error adding node %s: %v", it.ChunkID, err)
			report.Failures[it.ChunkID] = err
		} else {
			report.Added++
		}
		if progress != nil && (i+1)%100 == 0 {
			progress(i+1, total)
		}
	}
	if progress != nil {
		progress(total, total)
	}

	logger.Printf("index construction complete for tenant %s: %d nodes added, %d failures", b.TenantID, report.Added, len(report.Failures))
	return idx, report
}

// RemovedUpdated bundles the non-insert mutations AddBatch applies before
// adding new items, matching rebuild_index's update-then-remove-then-add
// ordering.
type RemovedUpdated struct {
	UpdatedMetadata map[hnsw.ChunkID]metaval.Metadata
	Removed         []hnsw.ChunkID
}

// AddBatch applies metadata updates, then removals, then new inserts to an
// existing index (spec §4.3 "incremental build"). Metadata updates and
// removals for chunk ids the index does not know about are skipped and
// recorded in the returned report's Failures.
func (b *Builder) AddBatch(idx *hnsw.Index, items []Item, ru RemovedUpdated, progress ProgressFunc) BuildReport {
	report := BuildReport{Failures: make(map[hnsw.ChunkID]error)}

	updated := 0
	for chunkID, md := range ru.UpdatedMetadata {
		if err := idx.UpdateMetadata(chunkID, md); err != nil {
			report.Failures[chunkID] = err
			continue
		}
		updated++
	}
	logger.Printf("updated metadata for %d nodes", updated)

	removed := 0
	for _, chunkID := range ru.Removed {
		if err := idx.SoftDelete(chunkID); err != nil {
			report.Failures[chunkID] = err
			continue
		}
		removed++
	}
	logger.Printf("removed %d nodes from index", removed)

	total := len(items)
	for i, it := range items {
		if _, err := idx.Insert(it.Vector, it.ChunkID, it.DocumentID, it.Metadata); err != nil {
			logger.Printf("error adding new node %s: %v", it.ChunkID, err)
			report.Failures[it.ChunkID] = err
		} else {
			report.Added++
		}
		if progress != nil && (i+1)%50 == 0 {
			progress(i+1, total)
		}
	}
	if progress != nil && total > 0 {
		progress(total, total)
	}
	logger.Printf("added %d new nodes to index", report.Added)
	return report
}

// ValidationReport is the structural audit produced by Validate (spec §4.3
// "validate").
type ValidationReport struct {
	Valid             bool
	Issues            []string
	Warnings          []string
	Stats             hnsw.Stats
	NodeCount         int
	OrphanedNodes     int
	ConnectionIssues  int
}

// Validate walks the whole graph checking the invariants from spec §8:
// every node appears in its layer membership sets up to MaxLayer, every
// edge is symmetric, and the entry point (if any) is a real node holding
// the index's maximum layer.
func Validate(idx *hnsw.Index) ValidationReport {
	stats := idx.Stats()
	report := ValidationReport{Stats: stats, NodeCount: stats.SizeTotal}

	if stats.SizeTotal == 0 {
		report.Issues = append(report.Issues, "index is empty")
		return report
	}

	orphaned, connIssues, entryOK := idx.WalkConsistency()
	report.OrphanedNodes = orphaned
	report.ConnectionIssues = connIssues

	if !entryOK {
		report.Issues = append(report.Issues, "entry point is missing, invalid, or not at the index's maximum layer")
	}
	if orphaned > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d orphaned nodes found", orphaned))
	}
	if connIssues > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d connection inconsistencies found", connIssues))
	}
	if stats.SizeTotal > 10000 && stats.EfConstruction < 200 {
		report.Warnings = append(report.Warnings, "ef_construction may be too low for large index")
	}
	if layer0 := stats.LayerSizes[0]; float64(layer0) < float64(stats.SizeTotal)*0.8 {
		report.Warnings = append(report.Warnings, "unusual layer 0 distribution, many nodes on higher layers")
	}

	report.Valid = len(report.Issues) == 0
	if report.Valid {
		logger.Printf("index validation passed for tenant %s", idx.TenantID)
	} else {
		logger.Printf("index validation failed for tenant %s: %v", idx.TenantID, report.Issues)
	}
	return report
}

// ErrAllItemsFailed is returned by BuildStrict when every item failed to
// insert, a condition the spec treats as a hard build failure rather than a
// degraded-but-usable index.
var ErrAllItemsFailed = fmt.Errorf("%w: all items failed to build", apperr.ErrDependency)

// BuildStrict is Build with the all-failed case promoted to an error,
// convenient for callers (the tenant manager) that must not publish an
// empty index as if it were a successful build.
func (b *Builder) BuildStrict(items []Item, progress ProgressFunc) (*hnsw.Index, BuildReport, error) {
	idx, report := b.Build(items, progress)
	if len(items) > 0 && report.Added == 0 {
		return idx, report, ErrAllItemsFailed
	}
	return idx, report, nil
}
