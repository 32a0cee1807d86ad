package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/converge/internal/ir"
)

// TopicFunc computes the next state of a topic from its current state. A
// returned error aborts the section and nothing is written.
type TopicFunc func(cur ir.Topic) (ir.Topic, error)

// WithTopic runs fn on the current state of key inside the key's exclusive
// section and one transaction, then persists the result together with entry.
//
// If entry's ID is already journaled the event is an exact redelivery: fn is
// not called, nothing is written and applied is false. A nil entry skips
// journaling. On any error the stored state is unchanged.
func (s *Store) WithTopic(ctx context.Context, key ir.TopicKey, entry *Entry, fn TopicFunc) (applied bool, err error) {
	unlock, err := s.locks.acquire(ctx, key.String())
	if err != nil {
		return false, fmt.Errorf("with topic %s: %w", key, err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("with topic %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	if entry != nil {
		dup, err := journaled(ctx, tx, entry.ID)
		if err != nil {
			return false, fmt.Errorf("with topic %s: %w", key, err)
		}
		if dup {
			return false, nil
		}
	}

	cur, _, err := readTopic(ctx, tx, key)
	if err != nil {
		return false, fmt.Errorf("with topic %s: %w", key, err)
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return false, err
	}
	if next.Key != key {
		return false, fmt.Errorf("with topic %s: fn returned state for %s", key, next.Key)
	}

	if err := upsertTopic(ctx, tx, next); err != nil {
		return false, fmt.Errorf("with topic %s: %w", key, err)
	}
	if entry != nil {
		if err := appendEntry(ctx, tx, entry); err != nil {
			return false, fmt.Errorf("with topic %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("with topic %s: commit: %w", key, err)
	}
	return true, nil
}

// ReadTopic returns the committed state of key. A topic no event has touched
// is returned in its initial state with found=false.
func (s *Store) ReadTopic(ctx context.Context, key ir.TopicKey) (t ir.Topic, found bool, err error) {
	t, found, err = readTopic(ctx, s.reader, key)
	if err != nil {
		return ir.Topic{}, false, fmt.Errorf("read topic %s: %w", key, err)
	}
	return t, found, nil
}

// ListTopics returns every stored topic of a chat ordered by topic id.
func (s *Store) ListTopics(ctx context.Context, chatID int64) ([]ir.Topic, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT chat_id, topic_id, closed, name, icon_color, icon_emoji, wm_closed, wm_name, wm_icon_emoji
		FROM topics
		WHERE chat_id = ?
		ORDER BY topic_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()
	return scanTopics(rows)
}

// AllTopics returns every stored topic ordered by key.
func (s *Store) AllTopics(ctx context.Context) ([]ir.Topic, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT chat_id, topic_id, closed, name, icon_color, icon_emoji, wm_closed, wm_name, wm_icon_emoji
		FROM topics
		ORDER BY chat_id ASC, topic_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("all topics: %w", err)
	}
	defer rows.Close()
	return scanTopics(rows)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readTopic(ctx context.Context, q queryer, key ir.TopicKey) (ir.Topic, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT chat_id, topic_id, closed, name, icon_color, icon_emoji, wm_closed, wm_name, wm_icon_emoji
		FROM topics
		WHERE chat_id = ? AND topic_id = ?
	`, key.ChatID, key.TopicID)

	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.NewTopic(key), false, nil
	}
	if err != nil {
		return ir.Topic{}, false, err
	}
	return t, true, nil
}

func upsertTopic(ctx context.Context, tx *sql.Tx, t ir.Topic) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO topics
		(chat_id, topic_id, closed, name, icon_color, icon_emoji, wm_closed, wm_name, wm_icon_emoji)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, topic_id) DO UPDATE SET
			closed        = excluded.closed,
			name          = excluded.name,
			icon_color    = excluded.icon_color,
			icon_emoji    = excluded.icon_emoji,
			wm_closed     = excluded.wm_closed,
			wm_name       = excluded.wm_name,
			wm_icon_emoji = excluded.wm_icon_emoji
	`,
		t.Key.ChatID,
		t.Key.TopicID,
		nullBool(t.Closed),
		nullString(t.Name),
		nullInt32(t.IconColor),
		nullString(t.IconEmoji),
		t.ClosedWatermark,
		t.NameWatermark,
		t.IconEmojiWatermark,
	)
	if err != nil {
		return fmt.Errorf("upsert topic: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTopic(row scanner) (ir.Topic, error) {
	var (
		t         ir.Topic
		closed    sql.NullBool
		name      sql.NullString
		iconColor sql.NullInt32
		iconEmoji sql.NullString
	)
	err := row.Scan(
		&t.Key.ChatID,
		&t.Key.TopicID,
		&closed,
		&name,
		&iconColor,
		&iconEmoji,
		&t.ClosedWatermark,
		&t.NameWatermark,
		&t.IconEmojiWatermark,
	)
	if err != nil {
		return ir.Topic{}, err
	}
	t.Closed = fromNullBool(closed)
	t.Name = fromNullString(name)
	t.IconColor = fromNullInt32(iconColor)
	t.IconEmoji = fromNullString(iconEmoji)
	return t, nil
}

func scanTopics(rows *sql.Rows) ([]ir.Topic, error) {
	var topics []ir.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}
