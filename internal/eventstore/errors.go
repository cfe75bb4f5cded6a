package eventstore

// Sentinel errors for event store operations. Callers match them with
// errors.Is; the returned errors carry the cause and context.

import (
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the database could not be opened.
	ErrDatabaseOpenFailed = errors.EventStoreError("could not open event store database").Build()

	ErrInitializeSchemaFailed = errors.EventStoreError("failed to initialize event store schema").Build()

	ErrEventAppendFailed = errors.EventStoreError("failed to append event to store").Build()

	ErrEventQueryFailed = errors.EventStoreError("failed to query events from store").Build()

	ErrEventScanFailed = errors.EventStoreError("failed to scan event rows").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of an event payload failed.
	ErrMarshalPayloadFailed = errors.EventStoreError("failed to marshal event payload").Build()

	ErrProjectionRebuildFailed = errors.EventStoreError("failed to rebuild projection").Build()
)

// wrap attaches cause and context to a sentinel while keeping errors.Is working.
func wrap(sentinel *errors.ClassifiedError, cause error, kv ...any) error {
	b := errors.EventStoreError(sentinel.Message()).WithCause(cause)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			b = b.WithContext(k, kv[i+1])
		}
	}
	return b.Build()
}
