package eventstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresPingTimeout = 2 * time.Second

// PostgresStore keeps events in a shared Postgres database, so several
// daemons can report one history.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects with the pgx driver and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, wrap(ErrDatabaseOpenFailed, err, "driver", "postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, postgresPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, wrap(ErrDatabaseOpenFailed, err, "driver", "postgres")
	}

	s, err := newSQLStore(db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
