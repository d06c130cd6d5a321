// Package store persists synced documents and per-resource sync state in a
// bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketDocuments = []byte("documents")
	bucketSyncState = []byte("sync_state")
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one synced record.
type Document struct {
	Key   string
	Value any
}

// State is the sync bookkeeping of one resource.
type State struct {
	SyncedAt  time.Time `json:"synced_at"`
	Documents int       `json:"documents"`
}

// Store is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDocuments, bucketSyncState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{
		db:     db,
		logger: logging.NewLogger(logging.ComponentStore),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutDocuments upserts docs into the bucket of resource in one
// transaction.
func (s *Store) PutDocuments(resource string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	encoded := make([][]byte, len(docs))
	for i, doc := range docs {
		data, err := json.Marshal(doc.Value)
		if err != nil {
			return fmt.Errorf("marshal %s/%s: %w", resource, doc.Key, err)
		}
		encoded[i] = data
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(resource))
		if err != nil {
			return err
		}
		for i, doc := range docs {
			if err := b.Put([]byte(doc.Key), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s documents: %w", resource, err)
	}

	s.logger.Debug().Str("resource", resource).Int("documents", len(docs)).Msg("Stored documents")
	return nil
}

// Get decodes the document key of resource into dest.
func (s *Store) Get(resource, key string, dest any) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments).Bucket([]byte(resource))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, resource, key)
	}
	return json.Unmarshal(data, dest)
}

// Keys returns the document keys of resource in byte order.
func (s *Store) Keys(resource string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments).Bucket([]byte(resource))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Count returns the number of documents of resource.
func (s *Store) Count(resource string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketDocuments).Bucket([]byte(resource)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// SetSyncedAt records a successful sync of resource.
func (s *Store) SetSyncedAt(resource string, at time.Time) error {
	n, err := s.Count(resource)
	if err != nil {
		return err
	}
	data, err := json.Marshal(State{SyncedAt: at.UTC(), Documents: n})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncState).Put([]byte(resource), data)
	})
}

// LastSyncedAt returns when resource was last synced. ok is false if it
// never was.
func (s *Store) LastSyncedAt(resource string) (at time.Time, ok bool, err error) {
	state, ok, err := s.State(resource)
	return state.SyncedAt, ok, err
}

// State returns the sync state of resource.
func (s *Store) State(resource string) (State, bool, error) {
	var state State
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSyncState).Get([]byte(resource))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &state)
	})
	return state, found, err
}
