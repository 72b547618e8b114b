package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when the backing store holds no document yet.
var ErrNotFound = errors.New("ledger document not found")

// Backend persists the ledger document as a single opaque blob. Every Save replaces the
// whole document; there are no partial or append writes.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, document []byte) error
	// Drop removes the stored document. Dropping an absent document is not an error.
	Drop(ctx context.Context) error
}
