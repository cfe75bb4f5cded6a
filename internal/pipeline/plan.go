package pipeline

import (
	stderrors "errors"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// ErrWorkflowRejected is returned when workflow rules do not create a run
// for the context. It is not a failure.
var ErrWorkflowRejected = stderrors.New("workflow rules do not create a run for this context")

// Plan is an immutable execution plan: the pipeline, the run context and
// the DAG derived from them.
type Plan struct {
	Pipeline  *manifest.Pipeline
	Context   trigger.RunContext
	Admission trigger.Admission
	DAG       *graph.DAG
}

// StagePlan lists the admitted jobs of one stage in execution order.
type StagePlan struct {
	Name string   `json:"name"`
	Jobs []string `json:"jobs"`
}

// NewPlan evaluates triggers and builds the DAG for rc.
func NewPlan(p *manifest.Pipeline, rc trigger.RunContext) (*Plan, error) {
	if !p.Creates(rc) {
		return nil, ErrWorkflowRejected
	}
	adm := trigger.Evaluate(p.Subjects(), rc)
	d, err := graph.Build(p, adm)
	if err != nil {
		return nil, err
	}
	return &Plan{Pipeline: p, Context: rc, Admission: adm, DAG: d}, nil
}

// Order returns admitted job names in execution order.
func (pl *Plan) Order() []string { return pl.DAG.Order() }

func (pl *Plan) Excluded() []graph.Excluded { return pl.DAG.Excluded() }

// Stages groups the admitted jobs by stage, skipping empty stages.
func (pl *Plan) Stages() []StagePlan {
	byStage := map[string][]string{}
	for _, name := range pl.DAG.Order() {
		n, _ := pl.DAG.Node(name)
		byStage[n.Job.Stage] = append(byStage[n.Job.Stage], name)
	}
	var out []StagePlan
	for _, s := range pl.Pipeline.Stages {
		if jobs := byStage[s]; len(jobs) > 0 {
			out = append(out, StagePlan{Name: s, Jobs: jobs})
		}
	}
	return out
}
