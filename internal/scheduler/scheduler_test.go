package scheduler

import (
	"context"
	stderrors "errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// recorder captures every transition in emission order.
type recorder struct {
	mu       sync.Mutex
	log      []Transition
	started  int
	finished *Outcome
}

func (r *recorder) RunStarted(context.Context, RunInfo, *graph.DAG) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recorder) JobTransition(_ context.Context, t Transition) {
	r.mu.Lock()
	r.log = append(r.log, t)
	r.mu.Unlock()
}

func (r *recorder) RunFinished(_ context.Context, o *Outcome) {
	r.mu.Lock()
	r.finished = o
	r.mu.Unlock()
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.log)
}

func (r *recorder) statesOf(job string) []State {
	var out []State
	for _, t := range r.transitions() {
		if t.Job == job {
			out = append(out, t.To)
		}
	}
	return out
}

// finishHooks records which jobs reached Finish.
type finishHooks struct {
	mu       sync.Mutex
	finished []string
	prepare  func(job string, attempt int) error
}

func (h *finishHooks) Prepare(_ context.Context, run RunInfo, node *graph.Node, attempt int) (executor.JobSpec, error) {
	if h.prepare != nil {
		if err := h.prepare(node.Name(), attempt); err != nil {
			return executor.JobSpec{}, err
		}
	}
	return SpecFor(run, node, attempt, ""), nil
}

func (h *finishHooks) Finish(_ context.Context, _ RunInfo, node *graph.Node, _ executor.JobSpec, res executor.Result) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, node.Name())
	if res.Status == executor.StatusSuccess {
		return []string{node.Name() + "-bundle"}, nil
	}
	return nil, nil
}

func (h *finishHooks) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.finished)
}

func buildDAG(t *testing.T, src string) *graph.DAG {
	t.Helper()
	p, err := manifest.Parse([]byte(src))
	require.NoError(t, err)
	d, err := graph.Build(p, trigger.AdmitAll(p.JobNames()))
	require.NoError(t, err)
	return d
}

func info(id string) RunInfo {
	return RunInfo{ID: id, Context: trigger.RunContext{Workspace: "ws", Ref: "main", Kind: trigger.KindBranch}}
}

func ok() executor.Result { return executor.Result{Status: executor.StatusSuccess} }

func newScheduler(exec executor.Executor, rec *recorder, hooks Hooks, concurrency int) *Scheduler {
	return New(exec, Options{Concurrency: concurrency, Backoff: retry.NoBackoff(), Hooks: hooks, Listener: rec})
}

func TestExecuteLinearSuccess(t *testing.T) {
	d := buildDAG(t, `
stages: [build, test]
a: {stage: build, script: [x]}
b: {stage: test, script: [x]}
`)
	rec := &recorder{}
	hooks := &finishHooks{}
	s := newScheduler(executor.Func(func(context.Context, executor.JobSpec) executor.Result { return ok() }), rec, hooks, 2)

	o := s.Execute(context.Background(), info("r1"), d)
	require.NotNil(t, o)
	assert.Equal(t, RunSucceeded, o.Status)
	require.Len(t, o.Jobs, 2)
	for _, j := range o.Jobs {
		assert.Equal(t, StateSucceeded, j.State, j.Name)
		assert.Equal(t, 1, j.Attempts)
		assert.Equal(t, []string{j.Name + "-bundle"}, j.Bundles)
		assert.NotNil(t, j.FinishedAt)
	}
	assert.Equal(t, []State{StateBlocked, StateReady, StateRunning, StateSucceeded}, rec.statesOf("b"))
	assert.Equal(t, 1, rec.started)
	assert.Same(t, o, rec.finished)
}

func TestFailureCancelsDependents(t *testing.T) {
	d := buildDAG(t, `
stages: [build, test]
a: {stage: build, script: [x]}
b: {stage: test, script: [x]}
`)
	rec := &recorder{}
	hooks := &finishHooks{}
	var ranB atomic.Bool
	exec := executor.Func(func(_ context.Context, spec executor.JobSpec) executor.Result {
		if spec.Job == "a" {
			return executor.Failed(retry.ScriptFailure, stderrors.New("exit status 1"))
		}
		ranB.Store(true)
		return ok()
	})

	o := newScheduler(exec, rec, hooks, 2).Execute(context.Background(), info("r2"), d)
	assert.Equal(t, RunFailed, o.Status)

	a, _ := o.Job("a")
	assert.Equal(t, StateFailed, a.State)
	assert.Equal(t, retry.ScriptFailure, a.FailureClass)
	assert.Equal(t, 1, a.Attempts)

	b, _ := o.Job("b")
	assert.Equal(t, StateCanceled, b.State)
	assert.Contains(t, b.Error, `"a"`)
	assert.Empty(t, b.Bundles)
	assert.False(t, ranB.Load())
	assert.Equal(t, []string{"a"}, hooks.names())
	assert.Len(t, o.NonSucceeded(), 2)
}

func TestInfrastructureFailureIsRetried(t *testing.T) {
	d := buildDAG(t, `
d:
  script: [x]
  retry: {max: 2, when: [executor_error]}
`)
	rec := &recorder{}
	var calls atomic.Int32
	exec := executor.Func(func(_ context.Context, spec executor.JobSpec) executor.Result {
		n := calls.Add(1)
		assert.Equal(t, int(n), spec.Attempt)
		if n < 3 {
			return executor.Failed(retry.ExecutorError, stderrors.New("runner lost"))
		}
		return ok()
	})

	o := newScheduler(exec, rec, &finishHooks{}, 1).Execute(context.Background(), info("r3"), d)
	assert.Equal(t, RunSucceeded, o.Status)
	j, _ := o.Job("d")
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, StateSucceeded, j.State)
	assert.Empty(t, j.FailureClass)
	assert.Equal(t, []State{
		StateReady,
		StateRunning, StateFailed, StateRetrying,
		StateRunning, StateFailed, StateRetrying,
		StateRunning, StateSucceeded,
	}, rec.statesOf("d"))
}

func TestRetryGivesUpAfterMax(t *testing.T) {
	d := buildDAG(t, `
d:
  script: [x]
  retry: 1
`)
	var calls atomic.Int32
	exec := executor.Func(func(context.Context, executor.JobSpec) executor.Result {
		calls.Add(1)
		return executor.Failed(retry.APIFailure, stderrors.New("503"))
	})
	o := newScheduler(exec, &recorder{}, nil, 1).Execute(context.Background(), info("r4"), d)
	assert.Equal(t, RunFailed, o.Status)
	assert.EqualValues(t, 2, calls.Load())
	j, _ := o.Job("d")
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, retry.APIFailure, j.FailureClass)
}

func TestJobFailureIsNeverRetried(t *testing.T) {
	d := buildDAG(t, `
d:
  script: [x]
  retry: {max: 2}
`)
	var calls atomic.Int32
	exec := executor.Func(func(context.Context, executor.JobSpec) executor.Result {
		calls.Add(1)
		return executor.Failed(retry.ScriptFailure, stderrors.New("exit status 2"))
	})
	o := newScheduler(exec, &recorder{}, nil, 1).Execute(context.Background(), info("r5"), d)
	assert.Equal(t, RunFailed, o.Status)
	assert.EqualValues(t, 1, calls.Load())
	j, _ := o.Job("d")
	assert.Equal(t, 1, j.Attempts)
}

func TestPrepareErrorCountsAsEnvironmentFailure(t *testing.T) {
	d := buildDAG(t, `
d:
  script: [x]
  retry: {max: 1, when: [environment_unavailable]}
`)
	hooks := &finishHooks{prepare: func(_ string, attempt int) error {
		if attempt == 1 {
			return stderrors.New("disk full")
		}
		return nil
	}}
	o := newScheduler(executor.Func(func(context.Context, executor.JobSpec) executor.Result { return ok() }), &recorder{}, hooks, 1).
		Execute(context.Background(), info("r6"), d)
	assert.Equal(t, RunSucceeded, o.Status)
	j, _ := o.Job("d")
	assert.Equal(t, 2, j.Attempts)
}

func TestJobsStartOnlyAfterDependenciesSucceed(t *testing.T) {
	d := buildDAG(t, `
stages: [build, test, deploy]
a: {stage: build, script: [x]}
b: {stage: build, script: [x]}
c: {stage: test, script: [x], needs: [a]}
e: {stage: test, script: [x]}
f: {stage: deploy, script: [x], needs: [c]}
g: {stage: deploy, script: [x]}
`)
	rec := &recorder{}
	exec := executor.Func(func(context.Context, executor.JobSpec) executor.Result {
		time.Sleep(2 * time.Millisecond)
		return ok()
	})
	o := newScheduler(exec, rec, nil, 4).Execute(context.Background(), info("r7"), d)
	require.Equal(t, RunSucceeded, o.Status)

	succeeded := map[string]bool{}
	for _, tr := range rec.transitions() {
		if tr.To == StateRunning {
			n, _ := d.Node(tr.Job)
			for _, dep := range n.Deps {
				assert.True(t, succeeded[dep], "%s started before %s succeeded", tr.Job, dep)
			}
		}
		if tr.To == StateSucceeded {
			succeeded[tr.Job] = true
		}
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	d := buildDAG(t, `
a: {script: [x]}
b: {script: [x]}
c: {script: [x]}
e: {script: [x]}
f: {script: [x]}
`)
	var current, peak atomic.Int32
	exec := executor.Func(func(context.Context, executor.JobSpec) executor.Result {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return ok()
	})
	o := newScheduler(exec, &recorder{}, nil, 2).Execute(context.Background(), info("r8"), d)
	assert.Equal(t, RunSucceeded, o.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelInterruptsInterruptibleJobs(t *testing.T) {
	d := buildDAG(t, `
stages: [build, test]
slow: {stage: build, script: [x], interruptible: true}
after: {stage: test, script: [x]}
`)
	started := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, _ executor.JobSpec) executor.Result {
		close(started)
		<-ctx.Done()
		return executor.Result{Status: executor.StatusCanceled}
	})
	hooks := &finishHooks{}
	run := newScheduler(exec, &recorder{}, hooks, 2).Start(context.Background(), info("r9"), d)
	<-started
	run.Cancel("user request")
	run.Cancel("again")

	o := run.Wait()
	assert.Equal(t, RunCanceled, o.Status)
	assert.Equal(t, "user request", o.CancelReason)
	for _, j := range o.Jobs {
		assert.Equal(t, StateCanceled, j.State, j.Name)
	}
	assert.Empty(t, hooks.names())
}

func TestCancelLetsNonInterruptibleJobFinish(t *testing.T) {
	d := buildDAG(t, `
stages: [build, test]
deploy: {stage: build, script: [x]}
after: {stage: test, script: [x]}
`)
	started := make(chan struct{})
	release := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, spec executor.JobSpec) executor.Result {
		if spec.Job == "deploy" {
			close(started)
			<-release
			if ctx.Err() != nil {
				return executor.Result{Status: executor.StatusCanceled}
			}
		}
		return ok()
	})
	run := newScheduler(exec, &recorder{}, nil, 2).Start(context.Background(), info("r10"), d)
	<-started
	run.Cancel("superseded")
	close(release)

	o := run.Wait()
	assert.Equal(t, RunCanceled, o.Status)
	j, _ := o.Job("deploy")
	assert.Equal(t, StateSucceeded, j.State)
	after, _ := o.Job("after")
	assert.Equal(t, StateCanceled, after.State)
}

func TestContextCancellationCancelsRun(t *testing.T) {
	d := buildDAG(t, `slow: {script: [x], interruptible: true}`)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	exec := executor.Func(func(ctx context.Context, _ executor.JobSpec) executor.Result {
		close(started)
		<-ctx.Done()
		return executor.Failed(retry.ScriptFailure, ctx.Err())
	})
	run := newScheduler(exec, &recorder{}, nil, 1).Start(ctx, info("r11"), d)
	<-started
	cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after context cancellation")
	}
	o := run.Wait()
	assert.Equal(t, RunCanceled, o.Status)
	j, _ := o.Job("slow")
	assert.Equal(t, StateCanceled, j.State)
}

func TestEmptyDAGSucceeds(t *testing.T) {
	p, err := manifest.Parse([]byte(`
a:
  script: [x]
  rules: [{ref: release}]
`))
	require.NoError(t, err)
	rc := trigger.RunContext{Workspace: "ws", Ref: "main", Kind: trigger.KindBranch}
	d, err := graph.Build(p, trigger.Evaluate(p.Subjects(), rc))
	require.NoError(t, err)

	o := newScheduler(executor.Func(func(context.Context, executor.JobSpec) executor.Result { return ok() }), &recorder{}, nil, 1).
		Execute(context.Background(), info("r12"), d)
	assert.Equal(t, RunSucceeded, o.Status)
	assert.Empty(t, o.Jobs)
	require.Len(t, o.Excluded, 1)
	assert.Equal(t, "a", o.Excluded[0].Name)
}
