package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/tenantsearch/pkg/apperr"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
)

// Key layout (adapted from pkg/storage's single-byte-prefix convention):
//
//	0x01 + tenantID + 0x00 + chunkID -> JSON(Chunk)
//	0x02 + tenantID                  -> JSON(reindexFlag)
const (
	prefixChunk   = byte(0x01)
	prefixReindex = byte(0x02)
)

// BadgerStore is a persistent, embedded-KV-backed Store (spec external
// collaborators), grounded on pkg/storage's BadgerEngine.
type BadgerStore struct {
	db *badger.DB
	mu sync.RWMutex
}

// BadgerStoreOptions configures the embedded store.
type BadgerStoreOptions struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a badger-backed Store at opts.DataDir.
func NewBadgerStore(opts BadgerStoreOptions) (*BadgerStore, error) {
	bo := badger.DefaultOptions(opts.DataDir)
	bo = bo.WithInMemory(opts.InMemory).WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger store: %v", apperr.ErrDependency, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying badger handles.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func chunkKey(tenantID string, chunkID hnsw.ChunkID) []byte {
	key := make([]byte, 0, 1+len(tenantID)+1+len(chunkID))
	key = append(key, prefixChunk)
	key = append(key, []byte(tenantID)...)
	key = append(key, 0x00)
	key = append(key, []byte(chunkID)...)
	return key
}

func tenantChunkPrefix(tenantID string) []byte {
	key := make([]byte, 0, 1+len(tenantID)+1)
	key = append(key, prefixChunk)
	key = append(key, []byte(tenantID)...)
	key = append(key, 0x00)
	return key
}

func reindexKey(tenantID string) []byte {
	key := make([]byte, 0, 1+len(tenantID))
	key = append(key, prefixReindex)
	key = append(key, []byte(tenantID)...)
	return key
}

func (s *BadgerStore) ListChunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	var out []Chunk
	prefix := tenantChunkPrefix(tenantID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var c Chunk
				if err := json.Unmarshal(val, &c); err != nil {
					return err
				}
				out = append(out, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing chunks: %v", apperr.ErrDependency, err)
	}
	return out, nil
}

func (s *BadgerStore) GetChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) ([]Chunk, error) {
	out := make([]Chunk, 0, len(chunkIDs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range chunkIDs {
			item, err := txn.Get(chunkKey(tenantID, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var c Chunk
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getting chunks: %v", apperr.ErrDependency, err)
	}
	return out, nil
}

func (s *BadgerStore) PutChunks(ctx context.Context, tenantID string, chunks []Chunk) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("%w: marshaling chunk %q: %v", apperr.ErrInvalidInput, c.ChunkID, err)
		}
		if err := wb.Set(chunkKey(tenantID, c.ChunkID), data); err != nil {
			return fmt.Errorf("%w: writing chunk %q: %v", apperr.ErrDependency, c.ChunkID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: flushing chunk batch: %v", apperr.ErrDependency, err)
	}
	return s.setReindex(tenantID, true)
}

func (s *BadgerStore) DeleteChunks(ctx context.Context, tenantID string, chunkIDs []hnsw.ChunkID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range chunkIDs {
			if err := txn.Delete(chunkKey(tenantID, id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting chunks: %v", apperr.ErrDependency, err)
	}
	return s.setReindex(tenantID, true)
}

func (s *BadgerStore) UpdateMetadata(ctx context.Context, tenantID string, updates []ChunkUpdate) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, u := range updates {
			key := chunkKey(tenantID, u.ChunkID)
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var c Chunk
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			c.Metadata = c.Metadata.Merge(u.Metadata)
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Stats(ctx context.Context, tenantID string) (OrganizationStats, error) {
	chunks, err := s.ListChunks(ctx, tenantID)
	if err != nil {
		return OrganizationStats{}, err
	}
	if len(chunks) == 0 {
		return OrganizationStats{}, fmt.Errorf("%w: tenant %q", apperr.ErrNotFound, tenantID)
	}
	docs := make(map[hnsw.DocumentID]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	return OrganizationStats{
		TenantID:      tenantID,
		ChunkCount:    len(chunks),
		DocumentCount: len(docs),
		NeedsReindex:  s.getReindex(tenantID),
	}, nil
}

func (s *BadgerStore) MarkReindexed(ctx context.Context, tenantID string) error {
	return s.setReindex(tenantID, false)
}

func (s *BadgerStore) setReindex(tenantID string, needs bool) error {
	val := []byte{0}
	if needs {
		val = []byte{1}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(reindexKey(tenantID), val)
	})
	if err != nil {
		return fmt.Errorf("%w: setting reindex flag: %v", apperr.ErrDependency, err)
	}
	return nil
}

func (s *BadgerStore) getReindex(tenantID string) bool {
	var needs bool
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reindexKey(tenantID))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			needs = len(val) > 0 && val[0] == 1
			return nil
		})
	})
	return needs
}
