package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/retry"
)

type jobState struct {
	node     *graph.Node
	state    State
	attempts int
	class    retry.FailureClass
	err      string
	bundles  []string
	started  *time.Time
	finished *time.Time
	// waitingOn counts deps that have not succeeded yet.
	waitingOn int
}

// completion is what a worker hands back to the coordinator.
type completion struct {
	js    *jobState
	state State
	class retry.FailureClass
	err   string
	// bundles are set only when the job succeeded or failed.
	bundles []string
}

// Run is a handle on one executing run.
type Run struct {
	s    *Scheduler
	info RunInfo
	dag  *graph.DAG

	mu           sync.Mutex
	jobs         map[string]*jobState
	canceled     bool
	cancelReason string

	cancelCh   chan string
	cancelOnce sync.Once
	done       chan struct{}
	outcome    *Outcome
}

func newRun(s *Scheduler, info RunInfo, d *graph.DAG) *Run {
	r := &Run{
		s:        s,
		info:     info,
		dag:      d,
		jobs:     make(map[string]*jobState, d.Len()),
		cancelCh: make(chan string, 1),
		done:     make(chan struct{}),
	}
	for _, name := range d.Order() {
		n, _ := d.Node(name)
		r.jobs[name] = &jobState{node: n, state: StatePending, waitingOn: len(n.Deps)}
	}
	return r
}

func (r *Run) ID() string { return r.info.ID }

func (r *Run) Info() RunInfo { return r.info }

// Cancel asks the run to stop. Waiting jobs are canceled, interruptible
// running jobs are interrupted and the others are allowed to finish their
// current attempt. Safe to call more than once.
func (r *Run) Cancel(reason string) {
	if reason == "" {
		reason = "canceled"
	}
	r.cancelOnce.Do(func() { r.cancelCh <- reason })
}

// Done is closed when the run reached a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finished and returns its outcome.
func (r *Run) Wait() *Outcome {
	<-r.done
	return r.outcome
}

// Snapshot returns the current job states in topological order.
func (r *Run) Snapshot() []JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resultsLocked()
}

func (r *Run) resultsLocked() []JobResult {
	out := make([]JobResult, 0, len(r.jobs))
	for _, name := range r.dag.Order() {
		js := r.jobs[name]
		out = append(out, JobResult{
			Name:         name,
			Stage:        js.node.Job.Stage,
			State:        js.state,
			Attempts:     js.attempts,
			FailureClass: js.class,
			Error:        js.err,
			Bundles:      slices.Clone(js.bundles),
			StartedAt:    js.started,
			FinishedAt:   js.finished,
		})
	}
	return out
}

func (r *Run) isCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// move changes a job's state and notifies listeners outside the lock.
func (r *Run) move(ctx context.Context, js *jobState, to State, attempt int, class retry.FailureClass, reason string) {
	now := r.s.opts.Now()
	r.mu.Lock()
	from := js.state
	js.state = to
	if attempt > js.attempts {
		js.attempts = attempt
	}
	if to == StateRunning {
		if js.started == nil {
			js.started = &now
		}
		js.finished = nil
	}
	if to.Terminal() {
		js.finished = &now
		js.class = class
		js.err = reason
	}
	r.mu.Unlock()

	r.s.opts.Listener.JobTransition(ctx, Transition{
		RunID:   r.info.ID,
		Job:     js.node.Name(),
		Stage:   js.node.Job.Stage,
		From:    from,
		To:      to,
		Attempt: attempt,
		Class:   class,
		Reason:  reason,
		At:      now,
	})
}

func (r *Run) coordinate(ctx context.Context) {
	log := r.s.opts.Logger.With(logfields.RunID(r.info.ID))
	limit := r.s.opts.Concurrency

	// Non-interruptible jobs run on base and survive cancellation.
	base := context.WithoutCancel(ctx)
	interruptCtx, interrupt := context.WithCancel(base)
	defer interrupt()

	work := make(chan *jobState, limit)
	results := make(chan completion, limit)
	var wg sync.WaitGroup
	for range limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for js := range work {
				jctx := interruptCtx
				if !js.node.Job.Interruptible {
					jctx = base
				}
				results <- r.runJob(jctx, base, js)
			}
		}()
	}

	var ready []*jobState
	for _, name := range r.dag.Order() {
		js := r.jobs[name]
		if js.waitingOn == 0 {
			r.move(base, js, StateReady, 0, "", "")
			ready = append(ready, js)
		} else {
			r.move(base, js, StateBlocked, 0, "", "")
		}
	}

	cancel := func(reason string) {
		log.Info("Canceling run", "reason", reason)
		r.mu.Lock()
		r.canceled = true
		r.cancelReason = reason
		r.mu.Unlock()
		interrupt()
		for _, name := range r.dag.Order() {
			js := r.jobs[name]
			if r.waitingState(js) {
				r.move(base, js, StateCanceled, js.attempts, "", reason)
			}
		}
		ready = nil
	}

	ctxDone := ctx.Done()
	running := 0
	for {
		for running < limit && len(ready) > 0 && !r.isCanceled() {
			js := ready[0]
			ready = ready[1:]
			running++
			work <- js
		}
		if running == 0 {
			break
		}
		select {
		case c := <-results:
			running--
			ready = r.complete(base, c, ready)
		case <-ctxDone:
			ctxDone = nil
			cancel("context canceled: " + context.Cause(ctx).Error())
		case reason := <-r.cancelCh:
			cancel(reason)
		}
	}
	close(work)
	wg.Wait()

	// Anything left waiting was unreachable.
	for _, name := range r.dag.Order() {
		if js := r.jobs[name]; r.waitingState(js) {
			r.move(base, js, StateCanceled, js.attempts, "", "run ended before job could start")
		}
	}

	r.mu.Lock()
	jobs := r.resultsLocked()
	o := &Outcome{
		RunID:        r.info.ID,
		Context:      r.info.Context,
		StartedAt:    r.info.StartedAt,
		FinishedAt:   r.s.opts.Now(),
		CancelReason: r.cancelReason,
		Jobs:         jobs,
		Excluded:     r.dag.Excluded(),
	}
	o.Status = decideStatus(jobs, r.canceled)
	r.mu.Unlock()

	r.outcome = o
	log.Info("Run finished", logfields.State(string(o.Status)), logfields.DurationMS(float64(o.Duration().Milliseconds())))
	r.s.opts.Listener.RunFinished(base, o)
	close(r.done)
}

func (r *Run) waitingState(js *jobState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return js.state.waiting()
}

// complete records a finished job and returns the updated ready queue.
func (r *Run) complete(ctx context.Context, c completion, ready []*jobState) []*jobState {
	js := c.js
	r.mu.Lock()
	js.bundles = c.bundles
	attempts := js.attempts
	r.mu.Unlock()
	r.move(ctx, js, c.state, attempts, c.class, c.err)

	if c.state == StateSucceeded {
		if r.isCanceled() {
			return ready
		}
		for _, name := range js.node.Dependents {
			dep := r.jobs[name]
			dep.waitingOn--
			if dep.waitingOn == 0 && r.stateOf(dep) == StateBlocked {
				r.move(ctx, dep, StateReady, 0, "", "")
				ready = append(ready, dep)
			}
		}
		return ready
	}

	reason := fmt.Sprintf("dependency %q %s", js.node.Name(), c.state)
	r.cancelDescendants(ctx, js.node, reason)
	return slices.DeleteFunc(ready, func(j *jobState) bool { return r.stateOf(j) != StateReady })
}

func (r *Run) stateOf(js *jobState) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return js.state
}

// cancelDescendants cancels every job that transitively depends on n and
// has not started.
func (r *Run) cancelDescendants(ctx context.Context, n *graph.Node, reason string) {
	seen := map[string]bool{}
	queue := slices.Clone(n.Dependents)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		js := r.jobs[name]
		if r.waitingState(js) {
			r.move(ctx, js, StateCanceled, js.attempts, "", reason)
		}
		queue = append(queue, js.node.Dependents...)
	}
}

// runJob runs every attempt of one job on a worker goroutine.
func (r *Run) runJob(jctx, base context.Context, js *jobState) completion {
	node := js.node
	job := node.Job
	log := r.s.opts.Logger.With(logfields.RunID(r.info.ID), logfields.Job(job.Name), logfields.Stage(job.Stage))

	for attempt := 1; ; attempt++ {
		if attempt > 1 && r.isCanceled() {
			return completion{js: js, state: StateCanceled, err: "run canceled before retry"}
		}
		r.move(base, js, StateRunning, attempt, "", "")
		log.Info("Job attempt started", logfields.Attempt(attempt))

		spec, err := r.s.opts.Hooks.Prepare(jctx, r.info, node, attempt)
		var res executor.Result
		if err != nil {
			res = executor.Failed(retry.EnvironmentUnavailable, fmt.Errorf("prepare job: %w", err))
		} else {
			res = r.s.exec.Execute(jctx, spec)
		}

		if res.Status == executor.StatusFailure && jctx.Err() != nil {
			res.Status = executor.StatusCanceled
		}

		switch res.Status {
		case executor.StatusSuccess:
			log.Info("Job succeeded", logfields.Attempt(attempt), logfields.DurationMS(float64(res.Duration.Milliseconds())))
			return r.finish(base, js, spec, res, StateSucceeded, "", "")
		case executor.StatusCanceled:
			log.Info("Job canceled", logfields.Attempt(attempt))
			return completion{js: js, state: StateCanceled, err: "job interrupted"}
		}

		class := res.Class
		if !class.Known() {
			class = retry.UnknownFailure
		}
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		log.Warn("Job attempt failed", logfields.Attempt(attempt), logfields.FailureClass(string(class)), logfields.Error(res.Err))

		if retry.Classify(retry.Signal{Class: class, Attempt: attempt}, job.Retry) == retry.DecisionTerminal {
			return r.finish(base, js, spec, res, StateFailed, class, msg)
		}

		r.move(base, js, StateFailed, attempt, class, msg)
		r.move(base, js, StateRetrying, attempt, class, msg)
		delay := r.s.opts.Backoff.Delay(attempt)
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-jctx.Done():
				t.Stop()
				return completion{js: js, state: StateCanceled, class: class, err: "canceled while waiting to retry"}
			}
		}
	}
}

func (r *Run) finish(ctx context.Context, js *jobState, spec executor.JobSpec, res executor.Result, state State, class retry.FailureClass, msg string) completion {
	c := completion{js: js, state: state, class: class, err: msg}
	bundles, err := r.s.opts.Hooks.Finish(ctx, r.info, js.node, spec, res)
	if err != nil {
		r.s.opts.Logger.Warn("Job post-processing failed",
			logfields.RunID(r.info.ID), logfields.Job(js.node.Name()), logfields.Error(err))
		if c.err == "" {
			c.err = "post-processing: " + err.Error()
		}
	}
	c.bundles = bundles
	return c
}
