// Package storedb opens a sqlite-backed database and brings it up to date
// with a versioned list of migrations. It is the relational key-value
// substrate for the file store; every store in this module goes through
// it instead of opening modernc.org/sqlite directly.
package storedb

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

var (
	ErrOpen        = errors.New("storedb: open database")
	ErrMigrate     = errors.New("storedb: apply migration")
	ErrTrackSchema = errors.New("storedb: track schema version")
)

// Migration is one forward-only schema change, applied at most once per
// Module. Version must be positive and dense (1, 2, 3, ...); Name is purely
// descriptive and shows up in migration errors and the tracking table.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Path is the sqlite file path, or ":memory:" for an in-memory database.
	Path string
	// Module namespaces the schema_migrations tracking rows so several
	// stores can share one physical database file without colliding.
	Module string
	// Migrations is applied in slice order, so it must be listed in
	// ascending Version order.
	Migrations []Migration
}

// Open opens (creating if necessary) the database at opts.Path and applies
// any opts.Migrations not yet recorded for opts.Module.
func Open(opts OpenOptions) (*sql.DB, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}
	// The modernc.org/sqlite driver serializes internally but a single
	// shared *sql.DB with more than one open connection against the same
	// file can trip SQLITE_BUSY under write contention; this module's
	// callers are single-threaded, so one connection keeps
	// behavior simple and deterministic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, errx.Wrap(ErrOpen, err)
	}

	if err := migrate(db, opts.Module, opts.Migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB, module string, migrations []Migration) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module  TEXT NOT NULL,
  version INTEGER NOT NULL,
  name    TEXT NOT NULL,
  applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  PRIMARY KEY (module, version)
)`); err != nil {
		return errx.Wrap(ErrTrackSchema, err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_migrations WHERE module = ?`, module)
	if err != nil {
		return errx.Wrap(ErrTrackSchema, err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return errx.Wrap(ErrTrackSchema, err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errx.Wrap(ErrTrackSchema, err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errx.Wrap(ErrMigrate, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return errx.Wrap(ErrMigrate, fmt.Errorf("%s v%d (%s): %w", module, m.Version, m.Name, err))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (module, version, name) VALUES (?, ?, ?)`,
			module, m.Version, m.Name); err != nil {
			tx.Rollback()
			return errx.Wrap(ErrTrackSchema, err)
		}
		if err := tx.Commit(); err != nil {
			return errx.Wrap(ErrMigrate, err)
		}
	}
	return nil
}
