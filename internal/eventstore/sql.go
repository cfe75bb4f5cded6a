package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name   string
	schema []string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload BLOB NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	},
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			payload BYTEA NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// sqlStore implements Store over database/sql. Timestamps are stored as
// unix nanoseconds so ordering survives both backends.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, wrap(ErrInitializeSchemaFailed, err, "driver", d.name)
		}
	}
	return s, nil
}

// query rewrites "?" bind markers for the dialect.
func (s *sqlStore) query(q string) string {
	if s.dialect.placeholder(1) == "?" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return wrap(ErrMarshalPayloadFailed, err, "run_id", runID)
		}
	}
	if payload == nil {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx,
		s.query("INSERT INTO events (run_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)"),
		runID, eventType, s.now().UnixNano(), payload, string(metadataJSON),
	)
	if err != nil {
		return wrap(ErrEventAppendFailed, err, "run_id", runID, "event_type", eventType)
	}
	return nil
}

func (s *sqlStore) GetByRunID(ctx context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.query("SELECT id, run_id, event_type, timestamp, payload, metadata FROM events WHERE run_id = ? ORDER BY id"),
		runID,
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err, "run_id", runID)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func (s *sqlStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.query("SELECT id, run_id, event_type, timestamp, payload, metadata FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id"),
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e BaseEvent
		var ts int64
		var metadataJSON sql.NullString

		if err := rows.Scan(&e.EventID, &e.EventRunID, &e.EventType, &ts, &e.EventPayload, &metadataJSON); err != nil {
			return nil, wrap(ErrEventScanFailed, err)
		}
		e.EventTimestamp = time.Unix(0, ts)

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.EventMetadata); err != nil {
				return nil, wrap(ErrEventScanFailed, err, "event_id", e.EventID)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrEventScanFailed, err)
	}
	return events, nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
