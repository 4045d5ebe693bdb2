// Package postgres provides the PostgreSQL-backed implementations of the
// application's storage interfaces.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX abstracts the database access layer. Both *sql.DB and *sql.Tx
// satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BlobStore persists opaque blobs keyed by namespace in the op_snapshots
// table. It implements the queue's durable-store contract: Get returns
// (nil, nil) for a missing namespace.
type BlobStore struct {
	db DBTX
}

// NewBlobStore creates a BlobStore over the given database handle.
func NewBlobStore(db DBTX) *BlobStore {
	return &BlobStore{db: db}
}

// Get reads the blob stored under the namespace key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `
		SELECT blob
		FROM op_snapshots
		WHERE namespace = $1
	`

	var blob []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot blob: %w", err)
	}
	return blob, nil
}

// Put writes the blob under the namespace key, replacing any previous
// value.
func (s *BlobStore) Put(ctx context.Context, key string, blob []byte) error {
	query := `
		INSERT INTO op_snapshots (namespace, blob, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace)
		DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write snapshot blob: %w", err)
	}
	return nil
}
