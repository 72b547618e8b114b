// Package jsonfile stores the ledger document as a plain file that is atomically replaced
// on every save.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/italolelis/movie_request_server/internal/storage"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is a storage.Backend backed by a single file.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	return data, nil
}

// Save writes the document to a temporary file in the same directory and renames it over
// the previous one, so readers never observe a half-written ledger.
func (s *Store) Save(_ context.Context, document []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	if err := renameio.WriteFile(s.path, document, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}

	return nil
}

func (s *Store) Drop(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}

	return nil
}
