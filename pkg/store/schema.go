package store

const schemaVersion = 1

// schemaStatements is applied in order against a fresh or older-versioned
// database. Each entry is idempotent (CREATE TABLE/INDEX/TRIGGER IF NOT
// EXISTS) so re-running the full set against an up-to-date database is a
// no-op, keeping schema application itself idempotent like everything else
// in this store.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS source_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		device_id INTEGER NOT NULL,
		inode INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mtime INTEGER NOT NULL DEFAULT 0,
		last_line INTEGER NOT NULL DEFAULT 0,
		last_byte INTEGER NOT NULL DEFAULT 0,
		rotated_flag INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		display_title TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_position INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		total_chars INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		source_file_id INTEGER NOT NULL REFERENCES source_files(id),
		line_no INTEGER NOT NULL,
		byte_start INTEGER NOT NULL,
		byte_end INTEGER NOT NULL,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp REAL,
		UNIQUE(source_file_id, line_no)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conv_position
		ON messages(conversation_id, position DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_source_line
		ON messages(source_file_id, line_no)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_updated
		ON conversations(updated_at DESC)`,

	// External-content FTS5 shadow: the index itself stores no copy of
	// content, only postings against messages.rowid.
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		conversation_id UNINDEXED,
		content='messages',
		content_rowid='id'
	)`,

	`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content, conversation_id)
		VALUES (new.id, new.content, new.conversation_id);
	END`,

	`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content, conversation_id)
		VALUES ('delete', old.id, old.content, old.conversation_id);
	END`,

	`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content, conversation_id)
		VALUES ('delete', old.id, old.content, old.conversation_id);
		INSERT INTO messages_fts(rowid, content, conversation_id)
		VALUES (new.id, new.content, new.conversation_id);
	END`,
}

// applySchema creates all tables/indexes/triggers and stamps schema_meta
// with the current version if it is not already present. The store refuses
// to open a database stamped with a version newer than schemaVersion.
func (s *Store) applySchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	row := s.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	var current int
	err := row.Scan(&current)
	if err != nil {
		// No row yet: fresh database, stamp it.
		_, err = s.db.Exec(`INSERT INTO schema_meta(version) VALUES (?)`, schemaVersion)
		return err
	}

	if current > schemaVersion {
		return ErrSchemaTooNew
	}
	if current < schemaVersion {
		_, err = s.db.Exec(`UPDATE schema_meta SET version = ?`, schemaVersion)
		return err
	}
	return nil
}
