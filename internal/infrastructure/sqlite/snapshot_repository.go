package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/tabtree/internal/storage"
)

const snapshotColumns = `id, name, created_at, is_auto_save, schema_version, data`

// snapshotRepository implements storage.SnapshotRepository.
type snapshotRepository struct {
	db *sql.DB
}

func newSnapshotRepository(db *sql.DB) *snapshotRepository {
	return &snapshotRepository{db: db}
}

var _ storage.SnapshotRepository = (*snapshotRepository)(nil)

func scanSnapshot(scanner interface{ Scan(...any) error }) (*SnapshotModel, error) {
	var m SnapshotModel
	err := scanner.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.IsAutoSave, &m.SchemaVersion, &m.Data)
	return &m, err
}

// Save inserts or replaces a snapshot by id.
func (r *snapshotRepository) Save(ctx context.Context, s *storage.SnapshotRecord) error {
	m := toSnapshotModel(s)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, created_at = excluded.created_at, is_auto_save = excluded.is_auto_save,
			schema_version = excluded.schema_version, data = excluded.data`,
		m.ID, m.Name, m.CreatedAt, m.IsAutoSave, m.SchemaVersion, m.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) Get(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	m, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.SnapshotNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return m.toDomain(), nil
}

// List returns metadata newest first. The data column is not read.
func (r *snapshotRepository) List(ctx context.Context) ([]*storage.SnapshotRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at, is_auto_save, schema_version, NULL FROM snapshots ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.SnapshotRecord
	for rows.Next() {
		m, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return out, nil
}

func (r *snapshotRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &storage.SnapshotNotFoundError{ID: id}
	}
	return nil
}
