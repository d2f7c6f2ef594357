// Package memorize persists the attributes a controller must restore when
// it is created again (acquisition mode, calibration formulas).
package memorize

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store keeps memorized values, one bucket per controller
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path. An empty path returns a
// store that remembers nothing.
func Open(path string) (*Store, error) {
	if path == "" {
		return &Store{}, nil
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memorize db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether values are persisted
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Save stores value under key for controller ctrl
func (s *Store) Save(ctrl, key string, value interface{}) error {
	if !s.Enabled() {
		return nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ctrl))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), encoded)
	})
}

// Load decodes the value stored under key into out. It reports false when
// nothing was memorized.
func (s *Store) Load(ctrl, key string, out interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}

	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ctrl))
		if bucket == nil {
			return nil
		}
		item := bucket.Get([]byte(key))
		if item == nil {
			return nil
		}
		found = true
		return json.Unmarshal(item, out)
	})
	return found, err
}

// Delete forgets key
func (s *Store) Delete(ctrl, key string) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ctrl))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Keys lists the memorized keys of ctrl in byte order
func (s *Store) Keys(ctrl string) ([]string, error) {
	if !s.Enabled() {
		return nil, nil
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ctrl))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
