// Package denial implements a background, append-only log of permission
// denial observations (spec §4.2.5 "Denial observation", §9 "Background
// denial logging"). A Sink must never block the search path it's attached
// to; FileSink and RedisMirrorSink buffer and drain on their own goroutines,
// while MemorySink and MultiSink do their work synchronously in Observe.
package denial

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orneryd/tenantsearch/pkg/hnsw"
)

var logger = log.New(log.Writer(), "denial: ", log.LstdFlags)

// Record is the on-disk shape of one denial observation.
type Record struct {
	Timestamp  time.Time       `json:"timestamp"`
	TenantID   string          `json:"tenant_id"`
	UserID     string          `json:"user_id"`
	QueryText  string          `json:"query_text"`
	ChunkID    hnsw.ChunkID    `json:"chunk_id"`
	DocumentID hnsw.DocumentID `json:"document_id"`
	GroupID    string          `json:"group_id"`
	Similarity float64         `json:"similarity"`
}

func toRecord(o hnsw.DenialObservation) Record {
	return Record{
		Timestamp:  o.Timestamp,
		TenantID:   o.TenantID,
		UserID:     o.UserID,
		QueryText:  o.QueryText,
		ChunkID:    o.ChunkID,
		DocumentID: o.DocumentID,
		GroupID:    o.GroupID,
		Similarity: o.Similarity,
	}
}

// Config configures a FileSink.
type Config struct {
	// LogPath is the append-only JSONL file denial observations are written
	// to. The parent directory is created if missing.
	LogPath string

	// QueueSize bounds how many pending observations the background writer
	// goroutine will buffer before it starts dropping new ones (never
	// blocking the caller is the point — spec §9).
	QueueSize int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{LogPath: "./logs/denials.jsonl", QueueSize: 1024}
}

// FileSink is an hnsw.DenialSink that appends JSON Lines to a local file on
// a dedicated goroutine, grounded on pkg/audit's append-only Logger (same
// O_APPEND|O_CREATE file mode, same one-event-per-line JSON encoding) but
// trimmed to the one event shape this spec needs instead of the teacher's
// full compliance-report taxonomy.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	queue  chan Record
	done   chan struct{}
	closed bool
}

// NewFileSink opens (or creates) the log file at cfg.LogPath and starts its
// draining goroutine.
func NewFileSink(cfg Config) (*FileSink, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	dir := filepath.Dir(cfg.LogPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating denial log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening denial log file: %w", err)
	}

	s := &FileSink{
		file:  file,
		queue: make(chan Record, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Observe enqueues obs for background writing. If the queue is full the
// observation is dropped and a warning is logged — denial logging is
// best-effort and must never apply backpressure to a search caller.
func (s *FileSink) Observe(obs hnsw.DenialObservation) {
	select {
	case s.queue <- toRecord(obs):
	default:
		logger.Printf("denial queue full, dropping observation for tenant %s chunk %s", obs.TenantID, obs.ChunkID)
	}
}

func (s *FileSink) drain() {
	defer close(s.done)
	enc := json.NewEncoder(s.file)
	for rec := range s.queue {
		s.mu.Lock()
		if err := enc.Encode(rec); err != nil {
			logger.Printf("failed to write denial record: %v", err)
		}
		s.mu.Unlock()
	}
}

// Close stops accepting new observations, flushes the queue, and closes the
// underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
	return s.file.Close()
}

// MemorySink is an in-process DenialSink used by tests: it simply
// accumulates every observation behind a mutex.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Observe appends obs to the in-memory record list.
func (s *MemorySink) Observe(obs hnsw.DenialObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, toRecord(obs))
}

// Records returns a snapshot copy of every observation seen so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// RedisMirrorSink pushes each observation onto a Redis list (RPUSH),
// grounded on the-hive's RedisQueue.Enqueue — same client/key shape, same
// marshal-then-RPUSH call — used as an optional durable mirror alongside a
// FileSink rather than as the primary store, since a denial observation
// must never block the search path waiting on a network round trip.
type RedisMirrorSink struct {
	client *redis.Client
	key    string
	queue  chan Record
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewRedisMirrorSink constructs a RedisMirrorSink backed by client, pushing
// onto listKey. Observe never blocks: a full internal queue drops the
// observation and logs a warning, same discipline as FileSink.
func NewRedisMirrorSink(client *redis.Client, listKey string, queueSize int) *RedisMirrorSink {
	if listKey == "" {
		listKey = "tenantsearch:denials"
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &RedisMirrorSink{
		client: client,
		key:    listKey,
		queue:  make(chan Record, queueSize),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Observe enqueues obs for background delivery to Redis.
func (s *RedisMirrorSink) Observe(obs hnsw.DenialObservation) {
	select {
	case s.queue <- toRecord(obs):
	default:
		logger.Printf("redis denial queue full, dropping observation for tenant %s chunk %s", obs.TenantID, obs.ChunkID)
	}
}

func (s *RedisMirrorSink) drain() {
	defer close(s.done)
	ctx := context.Background()
	for rec := range s.queue {
		data, err := json.Marshal(rec)
		if err != nil {
			logger.Printf("failed to marshal denial record for redis: %v", err)
			continue
		}
		if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
			logger.Printf("failed to push denial record to redis: %v", err)
		}
	}
}

// Close stops accepting new observations, flushes the queue, and closes the
// Redis client.
func (s *RedisMirrorSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
	return s.client.Close()
}

// MultiSink fans every observation out to more than one hnsw.DenialSink —
// used to write to a local FileSink and mirror to Redis at the same time.
type MultiSink struct {
	sinks []hnsw.DenialSink
}

// NewMultiSink constructs a MultiSink over sinks.
func NewMultiSink(sinks ...hnsw.DenialSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Observe forwards obs to every wrapped sink.
func (s *MultiSink) Observe(obs hnsw.DenialObservation) {
	for _, sink := range s.sinks {
		sink.Observe(obs)
	}
}
