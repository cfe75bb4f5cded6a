package eventstore

import (
	"context"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/config"
)

// Store persists run and job events. Events of one run are returned in
// append order.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error

	// GetByRunID retrieves all events of one run.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	Close() error
}

// Open returns the store selected by cfg. Driver "none" yields a store
// that keeps nothing.
func Open(ctx context.Context, cfg config.EventsConfig) (Store, error) {
	switch cfg.Driver {
	case config.EventsPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case config.EventsNone:
		return NopStore{}, nil
	default:
		return NewSQLiteStore(cfg.DSN)
	}
}

// NopStore discards every event.
type NopStore struct{}

func (NopStore) Append(context.Context, string, string, []byte, map[string]string) error {
	return nil
}

func (NopStore) GetByRunID(context.Context, string) ([]Event, error) { return nil, nil }

func (NopStore) GetRange(context.Context, time.Time, time.Time) ([]Event, error) { return nil, nil }

func (NopStore) Close() error { return nil }
