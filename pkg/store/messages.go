package store

import (
	"context"
	"database/sql"
)

// Message mirrors one row of messages, as returned to callers.
type Message struct {
	Position  int64
	Role      string
	Content   string
	Timestamp sql.NullFloat64
}

// InsertMessage inserts a message row, idempotent via the
// (source_file_id, line_no) unique constraint. Returns the number of rows
// actually inserted (0 means it was already present).
func (s *Store) InsertMessage(ctx context.Context, tx *sql.Tx, conversationID string, sourceFileID, lineNo, byteStart, byteEnd, position int64, role, content string, timestamp sql.NullFloat64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(conversation_id, source_file_id, line_no, byte_start, byte_end, position, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, sourceFileID, lineNo, byteStart, byteEnd, position, role, content, timestamp)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetMessagesBefore returns up to limit messages for conversationID with
// position < beforePosition, newest first (keyset pagination). A
// beforePosition of 0 (or less) means "start from the newest message".
func (s *Store) GetMessagesBefore(ctx context.Context, conversationID string, beforePosition int64, limit int) ([]Message, error) {
	cursor := beforePosition
	if cursor <= 0 {
		cursor = 1<<62 - 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, role, content, timestamp
		FROM messages
		WHERE conversation_id = ? AND position < ?
		ORDER BY position DESC
		LIMIT ?
	`, conversationID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Position, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
