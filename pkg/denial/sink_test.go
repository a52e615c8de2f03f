package denial

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tenantsearch/pkg/hnsw"
)

func TestMemorySinkAccumulates(t *testing.T) {
	sink := NewMemorySink()
	sink.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: "c1", GroupID: "g1", Timestamp: time.Now()})
	sink.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: "c2", GroupID: "g2", Timestamp: time.Now()})

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, hnsw.ChunkID("c1"), records[0].ChunkID)
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(Config{LogPath: filepath.Join(dir, "denials.jsonl"), QueueSize: 8})
	require.NoError(t, err)

	sink.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: "c1", GroupID: "g1", Timestamp: time.Now()})
	sink.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: "c2", GroupID: "g2", Timestamp: time.Now()})
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "denials.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, hnsw.ChunkID("c1"), lines[0].ChunkID)
	assert.Equal(t, hnsw.ChunkID("c2"), lines[1].ChunkID)
}

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	multi := NewMultiSink(a, b)

	multi.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: "c1", Timestamp: time.Now()})

	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

func TestFileSinkDropsWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(Config{LogPath: filepath.Join(dir, "denials.jsonl"), QueueSize: 1})
	require.NoError(t, err)
	defer sink.Close()

	// Never blocks the caller even if the queue backs up.
	for i := 0; i < 100; i++ {
		sink.Observe(hnsw.DenialObservation{TenantID: "t1", ChunkID: hnsw.ChunkID("c"), Timestamp: time.Now()})
	}
}
