// Package secretstore is a small Badger-backed KV used to cache derived CLOB
// API credentials across restarts, so the L1 derivation round-trip happens
// once per wallet instead of once per boot.
package secretstore

import (
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store wraps a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetJSON unmarshals the value at key into out. The second return is false
// when the key does not exist.
func (s *Store) GetJSON(key string, out any) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("secretstore: not opened")
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, out)
}

// SetJSON stores value at key as JSON.
func (s *Store) SetJSON(key string, value any) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}
