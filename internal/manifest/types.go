package manifest

import (
	"slices"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Implicit stages that always exist around the declared ones.
const (
	StagePre  = ".pre"
	StagePost = ".post"
)

// DefaultStages applies when a manifest declares no stages.
var DefaultStages = []string{"build", "test", "deploy"}

// DefaultStage is the stage of a job that names none.
const DefaultStage = "test"

// Pipeline is a parsed, composed and validated manifest. It is immutable.
type Pipeline struct {
	Stages    []string
	Variables map[string]string
	Workflow  []trigger.Rule
	Jobs      map[string]*Job
	Warnings  []string

	order []string
}

// Job is one fully composed job: no templates, extends or defaults remain.
type Job struct {
	Name   string
	Stage  string
	Script []string
	Rules  []trigger.Rule

	// Needs overrides the stage barrier when HasNeeds is set, even if empty.
	Needs    []Need
	HasNeeds bool

	// Dependencies limits which producers' artifacts are materialized.
	Dependencies    []string
	HasDependencies bool

	Artifacts     *Artifacts
	Cache         *Cache
	Retry         retry.Policy
	Interruptible bool
	Variables     map[string]string
	Image         string
	Tags          []string
	Timeout       time.Duration
}

// Need is an explicit dependency edge.
type Need struct {
	Job       string
	Artifacts bool
	Optional  bool
}

// ArtifactWhen decides on which terminal states artifacts are captured.
type ArtifactWhen string

const (
	ArtifactsOnSuccess ArtifactWhen = "on_success"
	ArtifactsOnFailure ArtifactWhen = "on_failure"
	ArtifactsAlways    ArtifactWhen = "always"
)

// CapturedOn reports whether artifacts are captured for a job that succeeded (or not).
func (w ArtifactWhen) CapturedOn(succeeded bool) bool {
	switch w {
	case ArtifactsAlways:
		return true
	case ArtifactsOnFailure:
		return !succeeded
	default:
		return succeeded
	}
}

// Artifacts declares the bundle a job produces.
type Artifacts struct {
	Name     string
	Paths    []string
	Exclude  []string
	When     ArtifactWhen
	ExpireIn expiry.Period // zero means the configured default
}

// CachePolicy controls whether a job restores and/or persists its cache.
type CachePolicy string

const (
	CachePullPush CachePolicy = "pull-push"
	CachePull     CachePolicy = "pull"
	CachePush     CachePolicy = "push"
)

func (p CachePolicy) Pulls() bool  { return p != CachePush }
func (p CachePolicy) Pushes() bool { return p != CachePull }

// Cache declares a job's incremental build cache. Key is a user suffix added
// to the (workspace, ref, job) key.
type Cache struct {
	Key    string
	Paths  []string
	Policy CachePolicy
}

// JobNames returns job names in declaration order.
func (p *Pipeline) JobNames() []string { return slices.Clone(p.order) }

// Job looks up a job by name.
func (p *Pipeline) Job(name string) (*Job, bool) {
	j, ok := p.Jobs[name]
	return j, ok
}

// StageIndex returns the position of stage, or -1.
func (p *Pipeline) StageIndex(stage string) int {
	return slices.Index(p.Stages, stage)
}

// JobsInStage returns the names of jobs in stage, in declaration order.
func (p *Pipeline) JobsInStage(stage string) []string {
	var out []string
	for _, n := range p.order {
		if p.Jobs[n].Stage == stage {
			out = append(out, n)
		}
	}
	return out
}

// BarrierJobs returns the declared jobs of the nearest stage before stage
// that declares any job. Trigger exclusion never moves the barrier further
// back: excluded members are dropped from it, not substituted.
func (p *Pipeline) BarrierJobs(stage string) []string {
	for i := p.StageIndex(stage) - 1; i >= 0; i-- {
		if members := p.JobsInStage(p.Stages[i]); len(members) > 0 {
			return members
		}
	}
	return nil
}

// DeclaredDeps returns the jobs j waits for when every job is admitted:
// its needs when declared, otherwise the stage barrier.
func (p *Pipeline) DeclaredDeps(j *Job) []string {
	if !j.HasNeeds {
		return p.BarrierJobs(j.Stage)
	}
	out := make([]string, 0, len(j.Needs))
	for _, n := range j.Needs {
		out = append(out, n.Job)
	}
	return out
}

// Subjects exposes jobs to the trigger evaluator.
func (p *Pipeline) Subjects() []trigger.Subject {
	out := make([]trigger.Subject, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.Jobs[n])
	}
	return out
}

// Creates reports whether workflow rules allow a pipeline for rc.
func (p *Pipeline) Creates(rc trigger.RunContext) bool {
	return trigger.Admit(p.Workflow, rc)
}

func (j *Job) JobName() string              { return j.Name }
func (j *Job) TriggerRules() []trigger.Rule { return j.Rules }

// Admit evaluates the job's rules against rc.
func (j *Job) Admit(rc trigger.RunContext) bool { return trigger.Admit(j.Rules, rc) }

// NeedsArtifactsFrom lists the needs whose artifacts the job downloads.
func (j *Job) NeedsArtifactsFrom() []string {
	var out []string
	for _, n := range j.Needs {
		if n.Artifacts {
			out = append(out, n.Job)
		}
	}
	return out
}
