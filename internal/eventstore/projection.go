// Package eventstore persists the event history of pipeline runs and
// projects it into run summaries.
package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

const defaultHistorySize = 100

// RunSummary is a read model of one run, live while it runs and final
// once RunFinished was applied.
type RunSummary struct {
	RunID      string                `json:"run_id"`
	Context    trigger.RunContext    `json:"context"`
	Status     scheduler.RunStatus   `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Duration   time.Duration         `json:"duration,omitempty"`
	Jobs       []scheduler.JobResult `json:"jobs"`
	Excluded   []graph.Excluded      `json:"excluded,omitempty"`
	// Outcome is set once the run finished.
	Outcome *scheduler.Outcome `json:"-"`
}

func (s *RunSummary) clone() *RunSummary {
	cp := *s
	cp.Jobs = slices.Clone(s.Jobs)
	cp.Excluded = slices.Clone(s.Excluded)
	return &cp
}

func (s *RunSummary) job(name string) *scheduler.JobResult {
	for i := range s.Jobs {
		if s.Jobs[i].Name == name {
			return &s.Jobs[i]
		}
	}
	s.Jobs = append(s.Jobs, scheduler.JobResult{Name: name, State: scheduler.StatePending})
	return &s.Jobs[len(s.Jobs)-1]
}

// RunHistoryProjection maintains an in-memory view of run history,
// reconstructed from the event store.
type RunHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	runs     map[string]*RunSummary
	history  []*RunSummary // finished runs, newest first
	maxSize  int
	lastSync time.Time
}

// NewRunHistoryProjection creates a projection backed by store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = defaultHistorySize
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		history: make([]*RunSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from every stored event.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Unix(0, 0), time.Now().Add(time.Hour))
	if err != nil {
		return wrap(ErrProjectionRebuildFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs = make(map[string]*RunSummary)
	p.history = make([]*RunSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	slices.SortStableFunc(p.history, func(a, b *RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	p.trimLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event as it is emitted.
func (p *RunHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *RunHistoryProjection) applyEventLocked(event Event) {
	runID := event.RunID()
	if runID == "" {
		return
	}
	summary, exists := p.runs[runID]
	if !exists {
		summary = &RunSummary{RunID: runID, Status: scheduler.RunRunning, StartedAt: event.Timestamp()}
		p.runs[runID] = summary
	}

	switch event.Type() {
	case TypeRunStarted:
		var data RunStartedData
		if err := json.Unmarshal(event.Payload(), &data); err != nil {
			return
		}
		summary.Context = data.Context
		summary.StartedAt = event.Timestamp()
		summary.Excluded = data.Excluded
		for _, name := range data.Jobs {
			summary.job(name)
		}

	case TypeJobTransitioned:
		var t scheduler.Transition
		if err := json.Unmarshal(event.Payload(), &t); err != nil {
			return
		}
		j := summary.job(t.Job)
		j.Stage = t.Stage
		j.State = t.To
		if t.Attempt > j.Attempts {
			j.Attempts = t.Attempt
		}
		if t.Class != "" {
			j.FailureClass = t.Class
		}
		if t.Reason != "" && t.To.Terminal() {
			j.Error = t.Reason
		}

	case TypeRunFinished:
		var o scheduler.Outcome
		if err := json.Unmarshal(event.Payload(), &o); err != nil {
			return
		}
		summary.Outcome = &o
		summary.Context = o.Context
		summary.Status = o.Status
		summary.StartedAt = o.StartedAt
		finished := o.FinishedAt
		summary.FinishedAt = &finished
		summary.Duration = o.Duration()
		summary.Jobs = slices.Clone(o.Jobs)
		summary.Excluded = slices.Clone(o.Excluded)
		p.addToHistoryLocked(summary)
	}
}

func (p *RunHistoryProjection) addToHistoryLocked(summary *RunSummary) {
	if slices.Contains(p.history, summary) {
		return
	}
	p.history = slices.Insert(p.history, 0, summary)
	p.trimLocked()
}

// trimLocked bounds history and drops finished runs that fell out of it.
// Running runs are always kept.
func (p *RunHistoryProjection) trimLocked() {
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.RunID] = struct{}{}
	}
	for id, summary := range p.runs {
		if summary.Status == scheduler.RunRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.runs, id)
		}
	}
}

// History returns finished runs, newest first.
func (p *RunHistoryProjection) History() []*RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*RunSummary, len(p.history))
	for i, s := range p.history {
		out[i] = s.clone()
	}
	return out
}

// Active returns runs without a RunFinished event, oldest first.
func (p *RunHistoryProjection) Active() []*RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*RunSummary
	for _, s := range p.runs {
		if s.Status == scheduler.RunRunning {
			out = append(out, s.clone())
		}
	}
	slices.SortFunc(out, func(a, b *RunSummary) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Get returns the summary of one run.
func (p *RunHistoryProjection) Get(runID string) (*RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, ok := p.runs[runID]
	if !ok {
		return nil, false
	}
	return summary.clone(), true
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *RunHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
