package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/tabtree/internal/storage"
)

// recordRepository implements storage.KV over the records table.
type recordRepository struct {
	db *sql.DB
}

func newRecordRepository(db *sql.DB) *recordRepository {
	return &recordRepository{db: db}
}

var _ storage.KV = (*recordRepository)(nil)

func (r *recordRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return value, nil
}

func (r *recordRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	return nil
}

func (r *recordRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}
