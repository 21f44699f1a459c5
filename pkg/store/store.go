// Package store embeds a relational database holding file import progress,
// conversation metadata, and messages, with a full-text index kept
// synchronized to message content.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrSchemaTooNew is returned when an existing database was stamped by a
// newer binary than this one understands.
var ErrSchemaTooNew = errors.New("store: database schema version is newer than this binary supports")

// ErrIndexRequired names the state in which no build_index has ever
// populated the store. Search does not return it; callers check HasAnyIndex.
var ErrIndexRequired = errors.New("store: no index has been built yet")

// Store wraps a SQLite connection configured for a single writer with many
// concurrent readers.
type Store struct {
	db       *sql.DB
	readOnly bool
}

// Open opens (creating if necessary) the database at path in read-write
// mode, applies the schema, and configures WAL-mode concurrency.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReadOnly opens the database at path without creating it and without
// ever acquiring a write lock, so it can run alongside an active importer.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-20000)&_pragma=mmap_size(268435456)",
		path,
	)
	if readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if !readOnly {
		// Importer holds at most one write transaction at a time; a single
		// connection avoids SQLITE_BUSY churn under WAL.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, readOnly: readOnly}
	if !readOnly {
		if err := s.applySchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: schema: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (importer, tail overlay)
// that need direct prepared-statement access beyond this capability set.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HasAnyIndex reports whether at least one source file has ever been
// recorded, used to distinguish "empty index" from "no index built yet"
// for the INDEX_REQUIRED error.
func (s *Store) HasAnyIndex(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_files`).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
