package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] upgrades a database from user_version i to i+1. Fresh
// databases get the final layout from schema.sql and only record the version.
var migrations = []func(*sql.DB) error{
	addJournalVersion,
}

var currentSchemaVersion = len(migrations)

// Store persists topics, residency intervals and the event journal.
type Store struct {
	db     *sql.DB // single writer
	reader *sql.DB // query-only pool
	locks  *keyLocks
}

// Open creates or opens a SQLite database at path and brings its schema up
// to date.
//
// Writes go through a single connection. Reads use a second, query-only pool
// on the same file so queries never wait behind the writer; ":memory:" has no
// file to share and reads through the writer.
func Open(path string) (*Store, error) {
	db, err := connect(path, 1)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, reader: db, locks: newKeyLocks()}
	if path == ":memory:" {
		return s, nil
	}

	s.reader, err = connect(path+"?_query_only=1&_busy_timeout=5000", 0)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reader: %w", err)
	}
	return s, nil
}

// connect opens and pings a pool. maxConns of 0 leaves the pool unbounded.
func connect(dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	return db, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var readerErr error
	if s.reader != s.db {
		readerErr = s.reader.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return readerErr
}

// DB returns the writer handle. Writes that bypass WithTopic and
// WithResidency skip the per-key section and the journal.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query runs a read-only query on the reader pool. The caller closes rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.reader.QueryContext(ctx, query, args...)
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// applySchema is idempotent: schema.sql only creates what is missing, and
// migrations run from the recorded user_version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		if err := migrations[v](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// addJournalVersion adds event_journal.version to journals created before
// payloads were versioned. Existing rows get version "0".
func addJournalVersion(db *sql.DB) error {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('event_journal') WHERE name = 'version'`,
	).Scan(&count)
	if err != nil || count > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE event_journal ADD COLUMN version TEXT NOT NULL DEFAULT '0'`)
	return err
}

// verifyPragma checks a pragma value on the writer. Used by tests.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
