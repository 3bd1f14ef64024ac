package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4/database"
)

const migrationsTable = "schema_migrations"

// migrationDriver is a golang-migrate database.Driver over an already open
// ncruces connection. Locking is process-local; the database file has a
// single owner.
type migrationDriver struct {
	conn   *sql.DB
	locked atomic.Bool
}

var _ database.Driver = (*migrationDriver)(nil)

func newMigrationDriver(conn *sql.DB) (*migrationDriver, error) {
	d := &migrationDriver{conn: conn}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *migrationDriver) ensureVersionTable() error {
	_, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (version INTEGER NOT NULL, dirty INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", migrationsTable, err)
	}
	return nil
}

// Open is unused; the driver is always built from an existing connection.
func (d *migrationDriver) Open(string) (database.Driver, error) {
	return nil, errors.New("sqlite migration driver must be created with newMigrationDriver")
}

// Close leaves the connection open for the DB that owns it.
func (d *migrationDriver) Close() error { return nil }

func (d *migrationDriver) Lock() error {
	if !d.locked.CompareAndSwap(false, true) {
		return database.ErrLocked
	}
	return nil
}

func (d *migrationDriver) Unlock() error {
	if !d.locked.CompareAndSwap(true, false) {
		return database.ErrNotLocked
	}
	return nil
}

func (d *migrationDriver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	tx, err := d.conn.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		_ = tx.Rollback()
		return database.Error{OrigErr: err, Query: body, Err: "migration failed"}
	}
	return tx.Commit()
}

func (d *migrationDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.conn.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin version update: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ` + migrationsTable); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear version: %w", err)
	}
	// NilVersion with clean state means "no migrations applied".
	if version >= 0 || (version == database.NilVersion && dirty) {
		if _, err := tx.Exec(`INSERT INTO `+migrationsTable+` (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set version: %w", err)
		}
	}
	return tx.Commit()
}

func (d *migrationDriver) Version() (version int, dirty bool, err error) {
	err = d.conn.QueryRow(`SELECT version, dirty FROM ` + migrationsTable + ` LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read version: %w", err)
	}
	return version, dirty, nil
}

func (d *migrationDriver) Drop() error {
	rows, err := d.conn.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	_ = rows.Close()
	for _, name := range tables {
		if _, err := d.conn.Exec(`DROP TABLE IF EXISTS "` + name + `"`); err != nil {
			return fmt.Errorf("failed to drop %s: %w", name, err)
		}
	}
	return d.ensureVersionTable()
}
