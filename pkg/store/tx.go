package store

import (
	"context"
	"database/sql"
)

// BeginImmediate opens an immediate-write transaction, matching the
// importer's "one write transaction open at a time, commit every 5,000
// inserts" discipline.
func (s *Store) BeginImmediate(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
