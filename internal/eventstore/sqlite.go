package eventstore

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default event store.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens or creates the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, wrap(ErrDatabaseOpenFailed, err, "path", path)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap(ErrDatabaseOpenFailed, err, "path", path)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
