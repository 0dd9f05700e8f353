// Package store provides durable, atomic, per-collection JSON storage.
// Every other component reads and writes state only through this package.
// Writes to the same collection are strictly serialized; writes to different
// collections proceed in parallel. There is no cross-collection transaction:
// consistency is maintained by update ordering (sector before discussion).
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// Store owns the state directory and the per-collection write locks.
type Store struct {
	dir   string
	log   zerolog.Logger
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.StorageErrorf("create state dir %s: %v", dir, err)
	}
	return &Store{
		dir:   dir,
		log:   log.With().Str("component", "store").Logger(),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) lockFor(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[collection]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[collection] = l
	return l
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// readRaw loads a collection file; a missing file is an empty collection.
func (s *Store) readRaw(collection string) ([]byte, error) {
	data, err := os.ReadFile(s.path(collection))
	if os.IsNotExist(err) {
		return []byte("[]"), nil
	}
	if err != nil {
		return nil, models.StorageErrorf("read %s: %v", collection, err)
	}
	return data, nil
}

// writeRaw writes a collection atomically via temp file + rename.
func (s *Store) writeRaw(collection string, data []byte) error {
	path := s.path(collection)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.StorageErrorf("create dir for %s: %v", collection, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return models.StorageErrorf("create temp for %s: %v", collection, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return models.StorageErrorf("write temp for %s: %v", collection, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return models.StorageErrorf("sync temp for %s: %v", collection, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return models.StorageErrorf("close temp for %s: %v", collection, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return models.StorageErrorf("rename temp for %s: %v", collection, err)
	}
	return nil
}

// Collection is a typed view over one JSON array file.
type Collection[T any] struct {
	store *Store
	name  string
}

// NewCollection binds a typed collection to the store.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Read returns a snapshot of all records in the collection.
func (c *Collection[T]) Read() ([]T, error) {
	data, err := c.store.readRaw(c.name)
	if err != nil {
		return nil, err
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, models.StorageErrorf("decode %s: %v", c.name, err)
	}
	return records, nil
}

// AtomicUpdate reads the collection, passes the snapshot to mutate, and
// writes the result atomically. Updates to the same collection are strictly
// serialized. A mutate error aborts the update and nothing is written.
func (c *Collection[T]) AtomicUpdate(mutate func([]T) ([]T, error)) ([]T, error) {
	lock := c.store.lockFor(c.name)
	lock.Lock()
	defer lock.Unlock()

	records, err := c.Read()
	if err != nil {
		return nil, err
	}
	updated, err := mutate(records)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return nil, models.StorageErrorf("encode %s: %v", c.name, err)
	}
	if err := c.store.writeRaw(c.name, data); err != nil {
		return nil, err
	}
	return updated, nil
}

// Append adds entries without rewriting existing ones, trimming the oldest
// records once the collection exceeds cap. A cap of 0 means unbounded.
func (c *Collection[T]) Append(capacity int, entries ...T) error {
	_, err := c.AtomicUpdate(func(records []T) ([]T, error) {
		records = append(records, entries...)
		if capacity > 0 && len(records) > capacity {
			records = records[len(records)-capacity:]
		}
		return records, nil
	})
	return err
}

// Retry runs op and retries exactly once when it fails with a storage error.
// Any other error kind is returned as-is.
func Retry(op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, models.ErrStorage) {
		return err
	}
	return op()
}
