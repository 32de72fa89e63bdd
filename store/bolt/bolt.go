// Package bolt provides a bbolt implementation of the roomsync local store.
// Values live in a data bucket; every write first copies the current value
// into a backup bucket so reads can recover from corruption.
package bolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/roomsync/roomsync/store"
)

var (
	bucketData   = []byte("data")
	bucketBackup = []byte("backup")
)

// Store implements store.Local on a bbolt database file.
type Store struct {
	db *bbolt.DB
}

var _ store.Local = (*Store)(nil)

// New opens (or creates) the bbolt database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Store{db: db}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketData); err != nil {
			return fmt.Errorf("failed to create data bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketBackup); err != nil {
			return fmt.Errorf("failed to create backup bucket: %w", err)
		}
		return nil
	})
}

// Get returns the value for key, falling back to the backup bucket when the
// primary value no longer parses as JSON.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	var ok bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketData).Get([]byte(key))
		if primary == nil {
			return nil
		}

		if json.Valid(primary) {
			value = append([]byte(nil), primary...)
			ok = true
			return nil
		}

		backup := tx.Bucket(bucketBackup).Get([]byte(key))
		if backup != nil && json.Valid(backup) {
			value = append([]byte(nil), backup...)
			ok = true
			return nil
		}

		return fmt.Errorf("value and backup for key %q are corrupted", key)
	})
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

// Set stores value under key, preserving the previous value in the backup
// bucket within the same transaction.
func (s *Store) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)

		if current := data.Get([]byte(key)); current != nil {
			if err := tx.Bucket(bucketBackup).Put([]byte(key), current); err != nil {
				return fmt.Errorf("failed to write backup for key %q: %w", key, err)
			}
		}

		if err := data.Put([]byte(key), value); err != nil {
			return fmt.Errorf("failed to write key %q: %w", key, err)
		}
		return nil
	})
}

// Remove deletes key from both buckets.
func (s *Store) Remove(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketData).Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to remove key %q: %w", key, err)
		}
		return tx.Bucket(bucketBackup).Delete([]byte(key))
	})
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
