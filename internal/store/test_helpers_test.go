package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/converge/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a journal entry with minimal required fields.
func createTestEntry(id, kind, entityKey string) *Entry {
	return &Entry{
		ID:         id,
		Kind:       kind,
		EntityKey:  entityKey,
		Payload:    []byte{0xa0},
		Batch:      "test-batch",
		ReceivedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// failInserts installs a trigger that aborts every insert into table.
func failInserts(t *testing.T, s *Store, table string) {
	t.Helper()
	_, err := s.db.Exec(`CREATE TRIGGER fail_` + table + ` BEFORE INSERT ON ` + table + `
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	if err != nil {
		t.Fatalf("install trigger: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func at(ms int64) time.Time { return ir.FromMillis(ms) }
