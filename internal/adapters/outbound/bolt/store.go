// Package bolt provides an embedded bbolt implementation of the KVStore port
// for single-host deployments.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Compile-time check that Store implements outbound.KVStore
var _ outbound.KVStore = (*Store)(nil)

var defaultBucket = []byte("sentry")

// Config holds bbolt store configuration.
type Config struct {
	// Path is the database file.
	Path string
	// Bucket holds every record. Default: "sentry"
	Bucket string
	// OpenTimeout bounds the wait for the file lock held by another process.
	// Default: 5s
	OpenTimeout time.Duration
}

// Store is a bbolt-backed KVStore. bbolt serializes writers, so concurrent
// Put calls from one process are safe.
type Store struct {
	db     *bolt.DB
	bucket []byte
	logger *slog.Logger
}

// Open opens (or creates) the database file and its bucket.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	bucket := defaultBucket
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &Store{
		db:     db,
		bucket: bucket,
		logger: logger.With("component", "bolt-store"),
	}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return outbound.ErrNotFound
		}
		// v is only valid inside the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns keys in byte order, which bbolt maintains natively.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	p := []byte(prefix)
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
