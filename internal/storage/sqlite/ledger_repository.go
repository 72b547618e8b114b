package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/movie_request_server/internal/storage"
)

// LedgerRepository implements storage.Backend on a single-row SQLite table.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(dbConn *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: dbConn}
}

func (r *LedgerRepository) Load(ctx context.Context) ([]byte, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM ledger WHERE id = 1`).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return document, nil
}

// Save replaces the stored document in one statement.
func (r *LedgerRepository) Save(ctx context.Context, document []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger (id, document, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, document, time.Now().Format(time.RFC3339))

	return err
}

func (r *LedgerRepository) Drop(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ledger WHERE id = 1`)

	return err
}
