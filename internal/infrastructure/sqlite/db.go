// Package sqlite is the durable storage backend: the tree_state record and
// the snapshot collection in one WAL-mode database, with the schema managed
// by embedded golang-migrate migrations applied through a driver over the
// ncruces connection.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the connection and hands out repositories over it.
type DB struct {
	conn      *sql.DB
	records   *recordRepository
	snapshots *snapshotRepository
}

var _ storage.Backend = (*DB)(nil)

// NewDB opens (creating if needed) the database at path, backs up an
// existing file to path+".bak", and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := backup(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("failed to back up database: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug(log.CatDB, "database ready", "path", path)
	return &DB{
		conn:      conn,
		records:   newRecordRepository(conn),
		snapshots: newSnapshotRepository(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := newMigrationDriver(conn)
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func backup(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: path comes from config
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304: derived from config path
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Connection returns the underlying *sql.DB.
func (db *DB) Connection() *sql.DB { return db.conn }

// KV returns the record store.
func (db *DB) KV() storage.KV { return db.records }

// Snapshots returns the snapshot repository.
func (db *DB) Snapshots() storage.SnapshotRepository { return db.snapshots }

// Close closes the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
