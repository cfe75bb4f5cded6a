package runqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

const manifestSrc = `
workflow:
  rules:
    - kind: tag
      when: never
    - when: always
job:
  script: [work]
  interruptible: true
`

// gate blocks every job until released or interrupted.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gate) Execute(ctx context.Context, spec executor.JobSpec) executor.Result {
	g.started <- spec.RunID
	select {
	case <-g.release:
		return executor.Result{Status: executor.StatusSuccess}
	case <-ctx.Done():
		return executor.Result{Status: executor.StatusCanceled}
	}
}

func newStarter(t *testing.T, exec executor.Executor) Starter {
	t.Helper()
	p, err := manifest.Parse([]byte(manifestSrc))
	require.NoError(t, err)
	cfg, err := config.Finalize(&config.Config{
		Workspace: config.WorkspaceConfig{DataDir: t.TempDir()},
		Executor:  config.ExecutorConfig{WorkDir: config.WorkDirIsolated},
	})
	require.NoError(t, err)
	engine := pipeline.New(cfg, pipeline.WithExecutor(exec), pipeline.WithBackoff(retry.NoBackoff()))
	return StarterFunc(func(ctx context.Context, id string, rc trigger.RunContext) (*scheduler.Run, error) {
		plan, err := pipeline.NewPlan(p, rc)
		if err != nil {
			return nil, err
		}
		return engine.StartWithID(ctx, id, plan), nil
	})
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("run-%d", n.Add(1)) }
}

func branch(ref string) trigger.RunContext {
	return trigger.RunContext{Workspace: "ws", Ref: ref, Kind: trigger.KindBranch, Source: "api"}
}

func waitDone(t *testing.T, q *Queue, id string) Entry {
	t.Helper()
	done, ok := q.Done(id)
	require.True(t, ok)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}
	e, ok := q.Get(id)
	require.True(t, ok)
	return e
}

func TestQueueRunsToCompletion(t *testing.T) {
	g := newGate()
	close(g.release)
	q := New(newStarter(t, g), Options{Workers: 1, NewID: sequentialIDs()})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	e, err := q.Enqueue(branch("main"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", e.ID)
	assert.Equal(t, StatusQueued, e.Status)

	got := waitDone(t, q, e.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, scheduler.RunSucceeded, got.Outcome.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
}

func TestQueueRejectedWorkflow(t *testing.T) {
	q := New(newStarter(t, newGate()), Options{Workers: 1})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	e, err := q.Enqueue(trigger.RunContext{Workspace: "ws", Ref: "v1", Kind: trigger.KindTag})
	require.NoError(t, err)
	got := waitDone(t, q, e.ID)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Nil(t, got.Outcome)
}

func TestSupersedeCancelsOlderRunForSameRef(t *testing.T) {
	g := newGate()
	q := New(newStarter(t, g), Options{Workers: 2, Supersede: true, NewID: sequentialIDs()})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	first, err := q.Enqueue(branch("main"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, <-g.started)

	other, err := q.Enqueue(branch("dev"))
	require.NoError(t, err)
	assert.Equal(t, other.ID, <-g.started)

	second, err := q.Enqueue(branch("main"))
	require.NoError(t, err)

	old := waitDone(t, q, first.ID)
	assert.Equal(t, StatusCanceled, old.Status)
	assert.Equal(t, second.ID, old.SupersededBy)
	assert.Contains(t, old.Error, "superseded by "+second.ID)

	close(g.release)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, second.ID).Status)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, other.ID).Status)
}

func TestSupersedeCancelsQueuedRun(t *testing.T) {
	g := newGate()
	q := New(newStarter(t, g), Options{Workers: 1, Supersede: true, NewID: sequentialIDs()})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	blocker, err := q.Enqueue(branch("dev"))
	require.NoError(t, err)
	<-g.started

	queued, err := q.Enqueue(branch("main"))
	require.NoError(t, err)
	newer, err := q.Enqueue(branch("main"))
	require.NoError(t, err)

	got := waitDone(t, q, queued.ID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Nil(t, got.StartedAt)

	close(g.release)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, blocker.ID).Status)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, newer.ID).Status)
}

func TestCancel(t *testing.T) {
	g := newGate()
	q := New(newStarter(t, g), Options{Workers: 1})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	e, err := q.Enqueue(branch("main"))
	require.NoError(t, err)
	<-g.started

	require.NoError(t, q.Cancel(e.ID, "user request"))
	got := waitDone(t, q, e.ID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Equal(t, "user request", got.Error)

	err = q.Cancel(e.ID, "")
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))
	err = q.Cancel("nope", "")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestQueueFull(t *testing.T) {
	q := New(newStarter(t, newGate()), Options{Workers: 1, Size: 1})
	// Not started: nothing drains the channel.
	_, err := q.Enqueue(branch("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(branch("b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Length())
}

func TestListNewestFirstAndHistoryTrim(t *testing.T) {
	var mu sync.Mutex
	started := 0
	starter := StarterFunc(func(context.Context, string, trigger.RunContext) (*scheduler.Run, error) {
		mu.Lock()
		started++
		mu.Unlock()
		return nil, fmt.Errorf("manifest is invalid")
	})
	q := New(starter, Options{Workers: 1, HistorySize: 2, NewID: sequentialIDs()})
	q.Start(t.Context())
	defer q.Stop(context.Background())

	for _, ref := range []string{"a", "b", "c"} {
		e, err := q.Enqueue(branch(ref))
		require.NoError(t, err)
		assert.Equal(t, StatusErrored, waitDone(t, q, e.ID).Status)
	}
	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, "run-3", list[0].ID)
	assert.Equal(t, "run-2", list[1].ID)
}
