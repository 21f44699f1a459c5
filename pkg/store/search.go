package store

import (
	"context"
	"database/sql"
)

// SearchRow is one full-text hit: a single message matching a query.
// Rank is the FTS5 bm25() value for that row; lower is better.
type SearchRow struct {
	MessageID      int64
	ConversationID string
	Position       int64
	Timestamp      sql.NullFloat64
	Rank           float64
	Snippet        string
}

// Search runs a full-text query against messages_fts, optionally filtered
// to a single conversation, returning up to limit raw per-message hits
// ordered by rank (best first). Higher-level aggregation into
// per-conversation results (match_count, best score) is the caller's job,
// mirroring the Store's role of a narrow capability set.
func (s *Store) Search(ctx context.Context, query string, conversationID string, limit int) ([]SearchRow, error) {
	const baseQuery = `
		SELECT m.id, m.conversation_id, m.position, m.timestamp,
		       bm25(messages_fts) AS rank,
		       snippet(messages_fts, 0, '[', ']', '...', 10)
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
	`

	var rows *sql.Rows
	var err error
	if conversationID != "" {
		rows, err = s.db.QueryContext(ctx, baseQuery+` AND m.conversation_id = ? ORDER BY rank LIMIT ?`, query, conversationID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, baseQuery+` ORDER BY rank LIMIT ?`, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.Position, &r.Timestamp, &r.Rank, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
