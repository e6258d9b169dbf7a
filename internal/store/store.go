package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on artifacts(contrast, motion, model)
// 2 - Added artifacts.roi for masked group and icc maps
const currentSchemaVersion = 2

// Store is the artifact ledger.
type Store struct {
	db    *sql.DB
	clock *Clock
}

// Open creates or opens the ledger at path, applying pragmas and migrations.
// Safe to call repeatedly on the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	last, err := lastSeq(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: NewClockAt(last)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes artifacts by the comparison axes used by the icc and
// group stages.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_artifacts_axes
		ON artifacts(contrast, motion, model)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// lastSeq returns the highest seq in any table, so a reopened ledger keeps
// counting where it stopped.
func lastSeq(db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRow(`
		SELECT MAX(s) FROM (
			SELECT COALESCE(MAX(started_seq), 0) AS s FROM runs
			UNION ALL SELECT COALESCE(MAX(ended_seq), 0) FROM runs
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM artifacts
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM efficiency
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM subsamples
			UNION ALL SELECT COALESCE(MAX(seq), 0) FROM uploads
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// migrateToV2 records the roi a group or icc map was computed within.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`ALTER TABLE artifacts ADD COLUMN roi TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}
