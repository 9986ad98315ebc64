// Package history keeps a local record of past decommission runs.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/decom/pipeline"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")
)

// Store persists completed runs to a bbolt database under dataDir.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the history database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	dbPath := filepath.Join(dir, "decom.db")

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a finished run, keyed by its start time so keys sort
// chronologically.
func (s *Store) Append(result *pipeline.RunResult) error {
	key := []byte(result.StartTime.UTC().Format(time.RFC3339Nano))
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put(key, value)
	})
}

// List returns up to limit runs, most recent first. limit <= 0 means all.
func (s *Store) List(limit int) ([]pipeline.RunResult, error) {
	var runs []pipeline.RunResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run pipeline.RunResult
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decoding run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
