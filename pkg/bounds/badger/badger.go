// Package badger is the persistent bounds store backend.
package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinyagg/pkg/bounds"
)

// Store implements bounds.Store on BadgerDB.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// New opens a BadgerDB-backed bounds store. The dataset is tiny (one 16-byte
// record per measurement series), so the options stay close to defaults with
// conservative memory limits.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 * 1024 * 1024).
		WithNumMemtables(2).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored range for the series, if any.
func (s *Store) Get(typeName, key, series string) (bounds.Range, bool, error) {
	var r bounds.Range
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(typeName, key, series))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeRange(val)
			if err != nil {
				return err
			}
			r = decoded
			found = true
			return nil
		})
	})
	if err != nil {
		return bounds.Range{}, false, fmt.Errorf("bounds get: %w", err)
	}
	return r, found, nil
}

// Put stores the range, replacing any previous one.
func (s *Store) Put(typeName, key, series string, r bounds.Range) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(typeName, key, series), encodeRange(r))
	})
	if err != nil {
		return fmt.Errorf("bounds put: %w", err)
	}
	return nil
}

// Close shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC triggers value log garbage collection. Callers run this
// periodically; badger.ErrNoRewrite just means there was nothing to do.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// recordKey hashes the record identity to a fixed 8-byte key.
func recordKey(typeName, key, series string) []byte {
	hash := xxhash.Sum64String(typeName + "\x00" + key + "\x00" + series)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, hash)
	return out
}

func encodeRange(r bounds.Range) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], math.Float64bits(r.Min))
	binary.BigEndian.PutUint64(out[8:16], math.Float64bits(r.Max))
	return out
}

func decodeRange(val []byte) (bounds.Range, error) {
	if len(val) != 16 {
		return bounds.Range{}, fmt.Errorf("bounds record has %d bytes, want 16", len(val))
	}
	return bounds.Range{
		Min: math.Float64frombits(binary.BigEndian.Uint64(val[0:8])),
		Max: math.Float64frombits(binary.BigEndian.Uint64(val[8:16])),
	}, nil
}
