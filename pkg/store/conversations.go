package store

import (
	"context"
	"database/sql"
)

// GetOrCreateConversation upserts a conversations row, returning its current
// last_position (0 for a freshly created row). now is a Unix-seconds
// timestamp supplied by the caller since this package never reads the
// wall clock itself.
func (s *Store) GetOrCreateConversation(ctx context.Context, tx *sql.Tx, id string, now int64) (lastPosition int64, err error) {
	err = tx.QueryRowContext(ctx, `SELECT last_position FROM conversations WHERE id = ?`, id).Scan(&lastPosition)
	if err == nil {
		return lastPosition, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations(id, created_at, updated_at, last_position, message_count, total_chars)
		 VALUES (?, ?, ?, 0, 0, 0)`,
		id, now, now,
	)
	return 0, err
}

// AdvanceConversation bumps last_position, message_count, total_chars, and
// updated_at for a conversation within an open transaction.
func (s *Store) AdvanceConversation(ctx context.Context, tx *sql.Tx, id string, newPosition int64, addedChars int, now int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations
		 SET last_position = ?, message_count = message_count + 1, total_chars = total_chars + ?, updated_at = ?
		 WHERE id = ?`,
		newPosition, addedChars, now, id,
	)
	return err
}

// ConversationSummary is a row of aggregate conversation metadata, as
// returned to the status reporter and to the tail overlay lookup.
type ConversationSummary struct {
	ID           string
	DisplayTitle sql.NullString
	CreatedAt    int64
	UpdatedAt    int64
	LastPosition int64
	MessageCount int64
	TotalChars   int64
}

// GetConversation loads a single conversation's summary row.
func (s *Store) GetConversation(ctx context.Context, id string) (ConversationSummary, bool, error) {
	var c ConversationSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_title, created_at, updated_at, last_position, message_count, total_chars
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.DisplayTitle, &c.CreatedAt, &c.UpdatedAt, &c.LastPosition, &c.MessageCount, &c.TotalChars)
	if err == sql.ErrNoRows {
		return ConversationSummary{}, false, nil
	}
	return c, err == nil, err
}

// ListConversations returns all conversations ordered by updated_at
// descending, for the status reporter.
func (s *Store) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_title, created_at, updated_at, last_position, message_count, total_chars
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.DisplayTitle, &c.CreatedAt, &c.UpdatedAt, &c.LastPosition, &c.MessageCount, &c.TotalChars); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
