package metrics

import (
	"context"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
)

// Observer is a scheduler.Listener feeding a Recorder.
type Observer struct {
	rec Recorder
}

func NewObserver(rec Recorder) *Observer {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &Observer{rec: rec}
}

func (o *Observer) RunStarted(context.Context, scheduler.RunInfo, *graph.DAG) {}

func (o *Observer) JobTransition(_ context.Context, t scheduler.Transition) {
	if t.To == scheduler.StateRunning {
		o.rec.AddRunningJobs(1)
	}
	if t.From == scheduler.StateRunning {
		o.rec.AddRunningJobs(-1)
	}
	if t.To == scheduler.StateRetrying {
		o.rec.IncJobRetry(t.Job, string(t.Class))
	}
}

func (o *Observer) RunFinished(_ context.Context, out *scheduler.Outcome) {
	for _, j := range out.Jobs {
		o.rec.IncJobResult(j.Name, string(j.State))
		if d := j.Duration(); d > 0 {
			o.rec.ObserveJobDuration(j.Name, string(j.State), d)
		}
		for range j.Bundles {
			o.rec.IncBundles(j.Name)
		}
	}
	o.rec.ObserveRunDuration(out.Duration())
	o.rec.IncRunOutcome(string(out.Status))
}
