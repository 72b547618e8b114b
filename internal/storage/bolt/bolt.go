package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/movie_request_server/internal/storage"
	"go.etcd.io/bbolt"
)

var (
	ledgerBucket = []byte("ledger")
	documentKey  = []byte("document")
)

// Store implements storage.Backend with a single key in a bbolt bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)

		return err
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Load(_ context.Context) ([]byte, error) {
	var document []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(ledgerBucket).Get(documentKey)
		if value == nil {
			return storage.ErrNotFound
		}

		// bbolt values are only valid for the life of the transaction.
		document = append([]byte(nil), value...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return document, nil
}

func (s *Store) Save(_ context.Context, document []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(ledgerBucket).Put(documentKey, document)
	})
}

func (s *Store) Drop(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(ledgerBucket).Delete(documentKey)
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
