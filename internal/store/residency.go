package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/converge/internal/ir"
)

// ResidencyFunc computes the next interval history of a pair from its current
// history. Intervals with ID 0 are new; existing intervals may only have
// their end set. Intervals cannot be removed.
type ResidencyFunc func(history []ir.Interval) ([]ir.Interval, error)

// WithResidency is the residency counterpart of WithTopic: it runs fn on the
// pair's history inside the key's exclusive section and one transaction, and
// persists the difference together with entry.
func (s *Store) WithResidency(ctx context.Context, key ir.ResidencyKey, entry *Entry, fn ResidencyFunc) (applied bool, err error) {
	unlock, err := s.locks.acquire(ctx, key.String())
	if err != nil {
		return false, fmt.Errorf("with residency %s: %w", key, err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("with residency %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	if entry != nil {
		dup, err := journaled(ctx, tx, entry.ID)
		if err != nil {
			return false, fmt.Errorf("with residency %s: %w", key, err)
		}
		if dup {
			return false, nil
		}
	}

	cur, err := readIntervals(ctx, tx, key)
	if err != nil {
		return false, fmt.Errorf("with residency %s: %w", key, err)
	}

	next, err := fn(cloneIntervals(cur))
	if err != nil {
		return false, err
	}

	if err := persistIntervals(ctx, tx, key, cur, next); err != nil {
		return false, fmt.Errorf("with residency %s: %w", key, err)
	}
	if entry != nil {
		if err := appendEntry(ctx, tx, entry); err != nil {
			return false, fmt.Errorf("with residency %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("with residency %s: commit: %w", key, err)
	}
	return true, nil
}

// ReadIntervals returns the committed history of a pair ordered by begin.
func (s *Store) ReadIntervals(ctx context.Context, key ir.ResidencyKey) ([]ir.Interval, error) {
	intervals, err := readIntervals(ctx, s.reader, key)
	if err != nil {
		return nil, fmt.Errorf("read intervals %s: %w", key, err)
	}
	return intervals, nil
}

// OpenIntervals returns every open interval of a subject across groups,
// ordered by group id.
func (s *Store) OpenIntervals(ctx context.Context, subjectID int64) ([]ir.Interval, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, subject_id, group_id, begin_ms, end_ms
		FROM residency_intervals
		WHERE subject_id = ? AND end_ms IS NULL
		ORDER BY group_id ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("open intervals: %w", err)
	}
	defer rows.Close()
	return scanIntervals(rows)
}

// ResidencyKeys returns every pair with at least one interval.
func (s *Store) ResidencyKeys(ctx context.Context) ([]ir.ResidencyKey, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT DISTINCT subject_id, group_id
		FROM residency_intervals
		ORDER BY subject_id ASC, group_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("residency keys: %w", err)
	}
	defer rows.Close()

	var keys []ir.ResidencyKey
	for rows.Next() {
		var k ir.ResidencyKey
		if err := rows.Scan(&k.SubjectID, &k.GroupID); err != nil {
			return nil, fmt.Errorf("scan residency key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate residency keys: %w", err)
	}
	return keys, nil
}

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readIntervals(ctx context.Context, q rowsQueryer, key ir.ResidencyKey) ([]ir.Interval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, subject_id, group_id, begin_ms, end_ms
		FROM residency_intervals
		WHERE subject_id = ? AND group_id = ?
		ORDER BY begin_ms ASC, id ASC
	`, key.SubjectID, key.GroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntervals(rows)
}

// persistIntervals writes the difference between cur and next.
func persistIntervals(ctx context.Context, tx *sql.Tx, key ir.ResidencyKey, cur, next []ir.Interval) error {
	byID := make(map[int64]ir.Interval, len(cur))
	for _, iv := range cur {
		byID[iv.ID] = iv
	}

	// Updates run before inserts so that closing the open interval and
	// opening a new one in the same call satisfies idx_residency_one_open.
	var inserts []ir.Interval
	seen := 0
	for _, iv := range next {
		if iv.SubjectID != key.SubjectID || iv.GroupID != key.GroupID {
			return fmt.Errorf("interval for (%d, %d) in history of %s", iv.SubjectID, iv.GroupID, key)
		}
		if iv.ID == 0 {
			inserts = append(inserts, iv)
			continue
		}

		old, ok := byID[iv.ID]
		if !ok {
			return fmt.Errorf("unknown interval id %d", iv.ID)
		}
		seen++
		if !old.Begin.Equal(iv.Begin) {
			return fmt.Errorf("interval %d: begin is immutable", iv.ID)
		}
		if sameEnd(old.End, iv.End) {
			continue
		}
		if err := updateIntervalEnd(ctx, tx, iv); err != nil {
			return err
		}
	}
	if seen != len(cur) {
		return fmt.Errorf("intervals cannot be removed")
	}
	for _, iv := range inserts {
		if err := insertInterval(ctx, tx, iv); err != nil {
			return err
		}
	}
	return nil
}

func insertInterval(ctx context.Context, tx *sql.Tx, iv ir.Interval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO residency_intervals (subject_id, group_id, begin_ms, end_ms)
		VALUES (?, ?, ?, ?)
	`, iv.SubjectID, iv.GroupID, ir.ToMillis(iv.Begin), nullInt64(endMillis(iv.End)))
	if err != nil {
		return fmt.Errorf("insert interval: %w", err)
	}
	return nil
}

func updateIntervalEnd(ctx context.Context, tx *sql.Tx, iv ir.Interval) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE residency_intervals SET end_ms = ? WHERE id = ?
	`, nullInt64(endMillis(iv.End)), iv.ID)
	if err != nil {
		return fmt.Errorf("update interval %d: %w", iv.ID, err)
	}
	return nil
}

func scanIntervals(rows *sql.Rows) ([]ir.Interval, error) {
	var intervals []ir.Interval
	for rows.Next() {
		var (
			iv      ir.Interval
			beginMs int64
			endMs   sql.NullInt64
		)
		if err := rows.Scan(&iv.ID, &iv.SubjectID, &iv.GroupID, &beginMs, &endMs); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		iv.Begin = ir.FromMillis(beginMs)
		if endMs.Valid {
			end := ir.FromMillis(endMs.Int64)
			iv.End = &end
		}
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intervals: %w", err)
	}
	return intervals, nil
}

func endMillis(end *time.Time) *int64 {
	if end == nil {
		return nil
	}
	ms := ir.ToMillis(*end)
	return &ms
}

func sameEnd(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneIntervals(in []ir.Interval) []ir.Interval {
	out := make([]ir.Interval, len(in))
	for i, iv := range in {
		if iv.End != nil {
			end := *iv.End
			iv.End = &end
		}
		out[i] = iv
	}
	return out
}
