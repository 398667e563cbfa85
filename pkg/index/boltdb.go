// Package index persists an identifier-to-digest lookup table in BoltDB.
// It is a pure performance layer over the thumbnail store: a record lets
// the batch generator skip a video it has already rendered, and records
// are invalidated whenever the source file's mtime or size changes. The
// core store never consults it.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLookup = []byte("lookup")

// Record maps an identifier to the digest its thumbnail was stored
// under, stamped with the source file state at render time.
type Record struct {
	Digest string `json:"digest"`
	MTime  int64  `json:"mtime"`
	Size   int64  `json:"size"`
}

// Config configures the Bolt-backed index.
type Config struct {
	Path    string
	NoSync  bool
	Timeout time.Duration
}

// Store is a Bolt-backed lookup index.
type Store struct {
	db *bolt.DB
}

// Open initialises the index at cfg.Path, creating it if missing.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("index: path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: cfg.Timeout,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLookup)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for identifier if one exists.
func (s *Store) Get(ctx context.Context, identifier string) (Record, bool, error) {
	var record Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLookup).Get([]byte(identifier))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("index: get %s: %w", identifier, err)
	}
	return record, found, nil
}

// Put stores or replaces the record for identifier.
func (s *Store) Put(ctx context.Context, identifier string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLookup).Put([]byte(identifier), data)
	})
	if err != nil {
		return fmt.Errorf("index: put %s: %w", identifier, err)
	}
	return nil
}

// Delete drops the record for identifier if present.
func (s *Store) Delete(ctx context.Context, identifier string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLookup).Delete([]byte(identifier))
	})
	if err != nil {
		return fmt.Errorf("index: delete %s: %w", identifier, err)
	}
	return nil
}

// Current returns the recorded digest for identifier when the source
// file state still matches; a stale record is treated as a miss.
func (s *Store) Current(ctx context.Context, identifier string, info fs.FileInfo) (string, bool) {
	record, found, err := s.Get(ctx, identifier)
	if err != nil || !found {
		return "", false
	}
	if record.MTime != info.ModTime().UnixNano() || record.Size != info.Size() {
		return "", false
	}
	return record.Digest, true
}

// Prune removes records whose source file under dataDir no longer
// exists, returning the number dropped.
func (s *Store) Prune(ctx context.Context, dataDir string) (int, error) {
	var stale [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLookup).ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			source := filepath.Join(dataDir, filepath.FromSlash(string(k)))
			if _, err := os.Stat(source); os.IsNotExist(err) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("index: prune scan: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLookup)
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index: prune delete: %w", err)
	}
	return len(stale), nil
}
