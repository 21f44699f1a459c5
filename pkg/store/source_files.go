package store

import (
	"context"
	"database/sql"
)

// SourceFile mirrors one row of source_files.
type SourceFile struct {
	ID          int64
	Path        string
	DeviceID    int64
	Inode       int64
	SizeBytes   int64
	Mtime       int64
	LastLine    int64
	LastByte    int64
	RotatedFlag bool
}

// GetOrCreateSourceFile upserts by path, returning the row id. If the
// device/inode identity differs from what's on record, the caller is
// expected to have already decided this is a rotation and created a fresh
// path-disambiguated row upstream; this call is a plain upsert by the exact
// path given.
func (s *Store) GetOrCreateSourceFile(ctx context.Context, path string, deviceID, inode, size, mtime int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM source_files WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO source_files(path, device_id, inode, size_bytes, mtime) VALUES (?, ?, ?, ?, ?)`,
		path, deviceID, inode, size, mtime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSourceFile loads a source_files row by id.
func (s *Store) GetSourceFile(ctx context.Context, id int64) (SourceFile, error) {
	var sf SourceFile
	var rotated int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, device_id, inode, size_bytes, mtime, last_line, last_byte, rotated_flag
		 FROM source_files WHERE id = ?`, id,
	).Scan(&sf.ID, &sf.Path, &sf.DeviceID, &sf.Inode, &sf.SizeBytes, &sf.Mtime, &sf.LastLine, &sf.LastByte, &rotated)
	sf.RotatedFlag = rotated != 0
	return sf, err
}

// GetSourceFileByPath loads a source_files row by its exact path, if any.
func (s *Store) GetSourceFileByPath(ctx context.Context, path string) (SourceFile, bool, error) {
	var sf SourceFile
	var rotated int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, device_id, inode, size_bytes, mtime, last_line, last_byte, rotated_flag
		 FROM source_files WHERE path = ?`, path,
	).Scan(&sf.ID, &sf.Path, &sf.DeviceID, &sf.Inode, &sf.SizeBytes, &sf.Mtime, &sf.LastLine, &sf.LastByte, &rotated)
	if err == sql.ErrNoRows {
		return SourceFile{}, false, nil
	}
	sf.RotatedFlag = rotated != 0
	return sf, err == nil, err
}

// MarkRotated records that a source_files row has been superseded by a
// fresh one after rotation was detected, preserving history.
func (s *Store) MarkRotated(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE source_files SET rotated_flag = 1 WHERE id = ?`, id)
	return err
}

// UpdateSourceProgress records the new progress cursor for a source file
// after a successful commit.
func (s *Store) UpdateSourceProgress(ctx context.Context, id, lastLine, lastByte, sizeBytes, mtime int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE source_files SET last_line = ?, last_byte = ?, size_bytes = ?, mtime = ? WHERE id = ?`,
		lastLine, lastByte, sizeBytes, mtime, id,
	)
	return err
}

// GetLatestSourceForConversation returns the most recently created source
// file backing a conversation id, used to drive the tail overlay.
func (s *Store) GetLatestSourceForConversation(ctx context.Context, conversationID string) (sourceFileID int64, path string, lastByte int64, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sf.id, sf.path, sf.last_byte
		FROM source_files sf
		JOIN messages m ON m.source_file_id = sf.id
		WHERE m.conversation_id = ?
		ORDER BY sf.id DESC
		LIMIT 1
	`, conversationID)
	err = row.Scan(&sourceFileID, &path, &lastByte)
	if err == sql.ErrNoRows {
		return 0, "", 0, false, nil
	}
	if err != nil {
		return 0, "", 0, false, err
	}
	return sourceFileID, path, lastByte, true, nil
}
