// Package runqueue queues pipeline runs and executes them with a fixed
// number of workers. A newer run for the same workspace and ref can
// supersede older queued or running runs.
package runqueue

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/logfields"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Status is the queue-level status of a run request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	// StatusRejected means workflow rules created no run.
	StatusRejected Status = "rejected"
	// StatusErrored means the run could not be planned, e.g. an invalid manifest.
	StatusErrored Status = "errored"
)

func (s Status) Terminal() bool {
	return s != StatusQueued && s != StatusRunning
}

// Entry is a snapshot of one run request.
type Entry struct {
	ID           string                `json:"run_id"`
	Context      trigger.RunContext    `json:"context"`
	Status       Status                `json:"status"`
	EnqueuedAt   time.Time             `json:"enqueued_at"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
	Error        string                `json:"error,omitempty"`
	SupersededBy string                `json:"superseded_by,omitempty"`
	Jobs         []scheduler.JobResult `json:"jobs,omitempty"`
	Outcome      *scheduler.Outcome    `json:"outcome,omitempty"`
}

// Starter plans and starts a run for a context under the given ID.
type Starter interface {
	Start(ctx context.Context, id string, rc trigger.RunContext) (*scheduler.Run, error)
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, id string, rc trigger.RunContext) (*scheduler.Run, error)

func (f StarterFunc) Start(ctx context.Context, id string, rc trigger.RunContext) (*scheduler.Run, error) {
	return f(ctx, id, rc)
}

// Options tune a Queue. Zero values pick defaults.
type Options struct {
	Workers     int
	Size        int
	HistorySize int
	Supersede   bool
	Logger      *slog.Logger
	NewID       func() string
}

type entry struct {
	Entry
	run      *scheduler.Run
	canceled string
	done     chan struct{}
}

// Queue manages run requests.
type Queue struct {
	items       chan *entry
	workers     int
	maxSize     int
	historySize int
	supersede   bool
	starter     Starter
	logger      *slog.Logger
	newID       func() string

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ErrQueueFull is returned by Enqueue when no slot is free.
var ErrQueueFull = stderrors.New("run queue is full")

// New creates a queue; call Start to begin processing.
func New(starter Starter, opts Options) *Queue {
	if starter == nil {
		panic("runqueue.New: starter is required")
	}
	if opts.Size <= 0 {
		opts.Size = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Queue{
		items:       make(chan *entry, opts.Size),
		workers:     opts.Workers,
		maxSize:     opts.Size,
		historySize: opts.HistorySize,
		supersede:   opts.Supersede,
		starter:     starter,
		logger:      opts.Logger,
		newID:       opts.NewID,
		entries:     make(map[string]*entry),
		stopChan:    make(chan struct{}),
	}
}

// Start begins processing runs with the configured number of workers.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("Starting run queue", "workers", q.workers, "max_size", q.maxSize, "supersede", q.supersede)
	for range q.workers {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop cancels every active run and waits for the workers to exit.
func (q *Queue) Stop(_ context.Context) {
	q.stopOnce.Do(func() { close(q.stopChan) })

	q.mu.Lock()
	for _, e := range q.entries {
		switch {
		case e.Status == StatusQueued:
			q.cancelQueuedLocked(e, "queue stopped")
		case e.Status == StatusRunning:
			q.cancelRunningLocked(e, "queue stopped")
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Length returns the number of queued runs.
func (q *Queue) Length() int {
	return len(q.items)
}

// Active returns the number of running runs.
func (q *Queue) Active() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Enqueue adds a run request. With supersede on, older queued or running
// runs for the same workspace and ref are canceled.
func (q *Queue) Enqueue(rc trigger.RunContext) (Entry, error) {
	e := &entry{
		Entry: Entry{
			ID:         q.newID(),
			Context:    rc,
			Status:     StatusQueued,
			EnqueuedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.items <- e:
	default:
		return Entry{}, errors.RuntimeError(ErrQueueFull.Error()).
			WithCause(ErrQueueFull).
			WithContext("max_size", q.maxSize).
			Build()
	}
	q.entries[e.ID] = e
	q.order = append(q.order, e.ID)
	q.trimHistoryLocked()

	if q.supersede {
		for _, id := range q.order {
			old := q.entries[id]
			if old == e || old.Status.Terminal() || old.Context.Key() != rc.Key() {
				continue
			}
			old.SupersededBy = e.ID
			reason := "superseded by " + e.ID
			q.logger.Info("Superseding run", logfields.RunID(old.ID), "by", e.ID, logfields.Ref(rc.Ref))
			if old.Status == StatusQueued {
				q.cancelQueuedLocked(old, reason)
			} else {
				q.cancelRunningLocked(old, reason)
			}
		}
	}
	q.logger.Info("Run queued", logfields.RunID(e.ID), logfields.Workspace(rc.Workspace), logfields.Ref(rc.Ref), "kind", rc.Kind)
	return e.snapshotLocked(), nil
}

// Cancel stops a queued or running run.
func (q *Queue) Cancel(id, reason string) error {
	if reason == "" {
		reason = "canceled"
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return errors.NotFoundError("run not found").WithContext("run_id", id).Build()
	}
	switch e.Status {
	case StatusQueued:
		q.cancelQueuedLocked(e, reason)
	case StatusRunning:
		q.cancelRunningLocked(e, reason)
	default:
		return errors.ConflictError(fmt.Sprintf("run already %s", e.Status)).WithContext("run_id", id).Build()
	}
	return nil
}

func (q *Queue) cancelQueuedLocked(e *entry, reason string) {
	now := time.Now().UTC()
	e.Status = StatusCanceled
	e.Error = reason
	e.FinishedAt = &now
	close(e.done)
}

func (q *Queue) cancelRunningLocked(e *entry, reason string) {
	if e.run != nil {
		e.run.Cancel(reason)
		return
	}
	// Dequeued but not started yet; the worker cancels right after starting.
	e.canceled = reason
}

// Get returns a snapshot of one run.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.snapshotLocked(), true
}

// List returns snapshots of known runs, newest first.
func (q *Queue) List() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range slices.Backward(q.order) {
		out = append(out, q.entries[id].snapshotLocked())
	}
	return out
}

// Done returns a channel closed when the run reaches a terminal status.
func (q *Queue) Done(id string) (<-chan struct{}, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	return e.done, true
}

func (e *entry) snapshotLocked() Entry {
	cp := e.Entry
	if e.run != nil && e.Status == StatusRunning {
		cp.Jobs = e.run.Snapshot()
	}
	return cp
}

// trimHistoryLocked forgets the oldest terminal entries beyond historySize.
func (q *Queue) trimHistoryLocked() {
	for len(q.order) > q.historySize {
		idx := slices.IndexFunc(q.order, func(id string) bool { return q.entries[id].Status.Terminal() })
		if idx < 0 {
			return
		}
		delete(q.entries, q.order[idx])
		q.order = slices.Delete(q.order, idx, idx+1)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case e := <-q.items:
			if e != nil {
				q.process(ctx, e)
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, e *entry) {
	q.mu.Lock()
	if e.Status != StatusQueued {
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	e.Status = StatusRunning
	e.StartedAt = &now
	q.mu.Unlock()

	log := q.logger.With(logfields.RunID(e.ID))
	run, err := q.starter.Start(ctx, e.ID, e.Context)

	q.mu.Lock()
	if err != nil {
		end := time.Now().UTC()
		e.FinishedAt = &end
		e.Error = err.Error()
		e.Status = StatusErrored
		if stderrors.Is(err, pipeline.ErrWorkflowRejected) {
			e.Status = StatusRejected
		}
		close(e.done)
		q.mu.Unlock()
		log.Warn("Run not started", logfields.State(string(e.Status)), logfields.Error(err))
		return
	}
	e.run = run
	if e.canceled != "" {
		run.Cancel(e.canceled)
	}
	q.mu.Unlock()

	o := run.Wait()

	q.mu.Lock()
	end := time.Now().UTC()
	e.FinishedAt = &end
	e.Outcome = o
	e.Jobs = o.Jobs
	e.Error = o.CancelReason
	switch o.Status {
	case scheduler.RunSucceeded:
		e.Status = StatusSucceeded
	case scheduler.RunCanceled:
		e.Status = StatusCanceled
	default:
		e.Status = StatusFailed
	}
	close(e.done)
	q.mu.Unlock()
}
