package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/converge/internal/ir"
)

// Journal entry kinds.
const (
	KindTopic      = "topic"
	KindMembership = "membership"
)

// Entry is one journaled event. Payload is the CBOR encoding produced by
// package codec.
type Entry struct {
	Pos        int64
	ID         string
	Kind       string
	EntityKey  string
	Payload    []byte
	Batch      string
	ReceivedAt time.Time
	Version    string
}

// journaled reports whether an entry with id exists. Must run inside the
// caller's transaction so the check and the append are atomic.
func journaled(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM event_journal WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check journal: %w", err)
	}
	return true, nil
}

// appendEntry inserts e. Uses ON CONFLICT(id) DO NOTHING for idempotency.
func appendEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	version := e.Version
	if version == "" {
		version = ir.JournalVersion
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO event_journal
		(id, kind, entity_key, payload, batch, received_at_ms, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Kind,
		e.EntityKey,
		e.Payload,
		e.Batch,
		ir.ToMillis(e.ReceivedAt),
		version,
	)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// ReadJournal returns every journal entry of the given kind in acceptance
// order. An empty kind returns all entries.
func (s *Store) ReadJournal(ctx context.Context, kind string) ([]Entry, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT pos, id, kind, entity_key, payload, batch, received_at_ms, version
		FROM event_journal
		WHERE ? = '' OR kind = ?
		ORDER BY pos ASC
	`, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ReadJournalForKey returns the entries for one entity key in acceptance
// order.
func (s *Store) ReadJournalForKey(ctx context.Context, kind, entityKey string) ([]Entry, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT pos, id, kind, entity_key, payload, batch, received_at_ms, version
		FROM event_journal
		WHERE kind = ? AND entity_key = ?
		ORDER BY pos ASC
	`, kind, entityKey)
	if err != nil {
		return nil, fmt.Errorf("read journal for %s: %w", entityKey, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// JournalLength returns the number of journaled events.
func (s *Store) JournalLength(ctx context.Context) (int64, error) {
	var n int64
	if err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_journal`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal length: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var receivedMs int64
		if err := rows.Scan(&e.Pos, &e.ID, &e.Kind, &e.EntityKey, &e.Payload, &e.Batch, &receivedMs, &e.Version); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.ReceivedAt = ir.FromMillis(receivedMs)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
