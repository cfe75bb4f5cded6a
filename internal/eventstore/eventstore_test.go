package eventstore

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

const testRunID = "run-123"

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreAppendAndRetrieve(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	require.NoError(t, store.Append(ctx, testRunID, "TestEvent", []byte(`{"test":"data"}`), map[string]string{"key": "value"}))
	require.NoError(t, store.Append(ctx, "other", "TestEvent", nil, nil))
	require.NoError(t, store.Append(ctx, testRunID, "Second", []byte(`{}`), nil))

	events, err := store.GetByRunID(ctx, testRunID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "TestEvent", events[0].Type())
	assert.Equal(t, "Second", events[1].Type())
	assert.JSONEq(t, `{"test":"data"}`, string(events[0].Payload()))
	assert.Equal(t, "value", events[0].Metadata()["key"])
	assert.Nil(t, events[1].Metadata())
	assert.Less(t, events[0].ID(), events[1].ID())
}

func TestSQLiteStoreGetRange(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	require.NoError(t, store.Append(ctx, "a", "E", nil, nil))
	clock = base.Add(time.Hour)
	require.NoError(t, store.Append(ctx, "b", "E", nil, nil))
	clock = base.Add(2 * time.Hour)
	require.NoError(t, store.Append(ctx, "c", "E", nil, nil))

	events, err := store.GetRange(ctx, base.Add(30*time.Minute), base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].RunID())
	assert.True(t, events[0].Timestamp().Equal(base.Add(time.Hour)))
}

func TestSQLiteStoreFileCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/events.db"
	store, err := Open(t.Context(), config.EventsConfig{Driver: config.EventsSQLite, DSN: path})
	require.NoError(t, err)
	require.NoError(t, store.Append(t.Context(), testRunID, "E", nil, nil))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	events, err := reopened.GetByRunID(t.Context(), testRunID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestOpenNone(t *testing.T) {
	store, err := Open(t.Context(), config.EventsConfig{Driver: config.EventsNone})
	require.NoError(t, err)
	require.NoError(t, store.Append(t.Context(), testRunID, "E", nil, nil))
	events, err := store.GetByRunID(t.Context(), testRunID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostgresQueryPlaceholders(t *testing.T) {
	s := &sqlStore{dialect: postgresDialect}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.query("SELECT a FROM t WHERE x = ? AND y = ?"))

	s = &sqlStore{dialect: sqliteDialect}
	assert.Equal(t, "x = ?", s.query("x = ?"))
}

func TestClosedStoreErrorsAreClassified(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Append(t.Context(), testRunID, "E", nil, nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrEventAppendFailed))
	assert.True(t, errors.HasCategory(err, errors.CategoryEventStore))

	_, err = store.GetByRunID(t.Context(), testRunID)
	assert.True(t, stderrors.Is(err, ErrEventQueryFailed))
}

func runTransitions(start time.Time) []scheduler.Transition {
	at := func(s int) time.Time { return start.Add(time.Duration(s) * time.Second) }
	return []scheduler.Transition{
		{RunID: testRunID, Job: "build", Stage: "build", From: scheduler.StatePending, To: scheduler.StateReady, At: at(0)},
		{RunID: testRunID, Job: "build", Stage: "build", From: scheduler.StateReady, To: scheduler.StateRunning, Attempt: 1, At: at(1)},
		{RunID: testRunID, Job: "build", Stage: "build", From: scheduler.StateRunning, To: scheduler.StateFailed, Attempt: 1, Class: retry.ScriptFailure, Reason: "exit status 1", At: at(2)},
		{RunID: testRunID, Job: "test", Stage: "test", From: scheduler.StateBlocked, To: scheduler.StateCanceled, Reason: "dependency build failed", At: at(2)},
	}
}

func testOutcome(start time.Time) *scheduler.Outcome {
	return &scheduler.Outcome{
		RunID:      testRunID,
		Status:     scheduler.RunFailed,
		Context:    trigger.RunContext{Workspace: "ws", Ref: "main", Kind: trigger.KindBranch},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Jobs: []scheduler.JobResult{
			{Name: "build", Stage: "build", State: scheduler.StateFailed, Attempts: 1, FailureClass: retry.ScriptFailure, Error: "exit status 1"},
			{Name: "test", Stage: "test", State: scheduler.StateCanceled},
		},
	}
}

func TestRecorderAndProjection(t *testing.T) {
	store := newStore(t)
	projection := NewRunHistoryProjection(store, 10)
	rec := NewRecorder(store, projection, nil)
	ctx := t.Context()

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	info := scheduler.RunInfo{ID: testRunID, Context: trigger.RunContext{Workspace: "ws", Ref: "main", Kind: trigger.KindBranch}, StartedAt: start}
	rec.RunStarted(ctx, info, nil)
	for _, tr := range runTransitions(start) {
		rec.JobTransition(ctx, tr)
	}

	live, ok := projection.Get(testRunID)
	require.True(t, ok)
	assert.Equal(t, scheduler.RunRunning, live.Status)
	require.Len(t, live.Jobs, 2)
	assert.Equal(t, scheduler.StateFailed, live.Jobs[0].State)
	assert.Equal(t, retry.ScriptFailure, live.Jobs[0].FailureClass)
	assert.Equal(t, "exit status 1", live.Jobs[0].Error)
	assert.Len(t, projection.Active(), 1)
	assert.Empty(t, projection.History())

	rec.RunFinished(ctx, testOutcome(start))

	done, ok := projection.Get(testRunID)
	require.True(t, ok)
	assert.Equal(t, scheduler.RunFailed, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 3*time.Second, done.Duration)
	assert.Empty(t, projection.Active())
	require.Len(t, projection.History(), 1)

	events, err := store.GetByRunID(ctx, testRunID)
	require.NoError(t, err)
	assert.Len(t, events, 6)
	assert.Equal(t, TypeRunStarted, events[0].Type())
	assert.Equal(t, TypeRunFinished, events[5].Type())

	rebuilt := NewRunHistoryProjection(store, 10)
	require.NoError(t, rebuilt.Rebuild(ctx))
	summary, ok := rebuilt.Get(testRunID)
	require.True(t, ok)
	assert.Equal(t, done.Status, summary.Status)
	assert.Equal(t, done.Jobs, summary.Jobs)
	assert.Equal(t, "main", summary.Context.Ref)
	assert.False(t, rebuilt.LastSyncTime().IsZero())
}

func TestProjectionHistoryIsBounded(t *testing.T) {
	store := newStore(t)
	projection := NewRunHistoryProjection(store, 2)
	rec := NewRecorder(store, projection, nil)
	ctx := t.Context()

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		o := testOutcome(start.Add(time.Duration(i) * time.Minute))
		o.RunID = id
		rec.RunFinished(ctx, o)
	}

	history := projection.History()
	require.Len(t, history, 2)
	assert.Equal(t, "r3", history[0].RunID)
	assert.Equal(t, "r2", history[1].RunID)
	_, ok := projection.Get("r1")
	assert.False(t, ok)

	rebuilt := NewRunHistoryProjection(store, 2)
	require.NoError(t, rebuilt.Rebuild(ctx))
	history = rebuilt.History()
	require.Len(t, history, 2)
	assert.Equal(t, "r3", history[0].RunID)
}

func TestReplay(t *testing.T) {
	store := newStore(t)
	rec := NewRecorder(store, nil, nil)
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rec.RunFinished(t.Context(), testOutcome(start))

	summary, err := Replay(t.Context(), store, testRunID)
	require.NoError(t, err)
	require.NotNil(t, summary.Outcome)
	assert.Equal(t, scheduler.RunFailed, summary.Outcome.Status)

	_, err = Replay(t.Context(), store, "missing")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestRecorderSurvivesCanceledContext(t *testing.T) {
	store := newStore(t)
	rec := NewRecorder(store, nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec.RunFinished(ctx, testOutcome(time.Now()))
	events, err := store.GetByRunID(t.Context(), testRunID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
