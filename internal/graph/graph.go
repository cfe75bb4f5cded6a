// Package graph builds the execution DAG of a run from a pipeline and the
// trigger admission for that run.
package graph

import (
	"fmt"
	"maps"
	"slices"

	"git.home.luguber.info/inful/pipewright/internal/dag"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Node is one admitted job in the DAG.
type Node struct {
	Job        *manifest.Job
	StageIndex int
	// Deps are the jobs that must succeed before this one starts.
	Deps []string
	// Dependents are the jobs whose Deps contain this one.
	Dependents []string
	// ArtifactSources are the producers whose bundles are materialized for this job.
	ArtifactSources []string
}

func (n *Node) Name() string { return n.Job.Name }

// Excluded is a job that does not take part in the run.
type Excluded struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// DAG is the immutable execution graph of one run.
type DAG struct {
	nodes    map[string]*Node
	order    []string
	excluded []Excluded
}

// Order returns job names in topological order (stage index, then name).
func (d *DAG) Order() []string { return slices.Clone(d.order) }

func (d *DAG) Node(name string) (*Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

func (d *DAG) Len() int { return len(d.order) }

// Excluded lists jobs left out by triggers or transitive exclusion, sorted by name.
func (d *DAG) Excluded() []Excluded { return slices.Clone(d.excluded) }

// Build derives the DAG for an admission. Jobs whose required need is not
// admitted are excluded transitively; optional needs on excluded jobs are dropped.
func Build(p *manifest.Pipeline, adm trigger.Admission) (*DAG, error) {
	reasons := make(map[string]string)
	admitted := make(map[string]bool)
	for _, name := range p.JobNames() {
		if adm.Admitted(name) {
			admitted[name] = true
		} else {
			reasons[name] = adm.Reason(name)
			if reasons[name] == "" {
				reasons[name] = "not admitted"
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, name := range p.JobNames() {
			if !admitted[name] {
				continue
			}
			for _, need := range p.Jobs[name].Needs {
				if need.Optional || admitted[need.Job] {
					continue
				}
				delete(admitted, name)
				reasons[name] = fmt.Sprintf("needs excluded job %q", need.Job)
				changed = true
				break
			}
		}
	}

	g := dag.New()
	for _, stage := range p.Stages {
		members := p.JobsInStage(stage)
		slices.Sort(members)
		for _, name := range members {
			if admitted[name] {
				g.AddNode(name)
			}
		}
	}

	for _, name := range p.JobNames() {
		if !admitted[name] {
			continue
		}
		for _, from := range p.DeclaredDeps(p.Jobs[name]) {
			if !admitted[from] {
				continue
			}
			if err := g.AddEdge(from, name); err != nil {
				return nil, errors.WrapError(err, errors.CategoryInternal, "graph edge").Build()
			}
		}
	}

	order, err := g.TopoSort()
	if err != nil {
		return nil, errors.ValidationError("pipeline has a dependency cycle").WithCause(err).Build()
	}

	d := &DAG{nodes: make(map[string]*Node, len(order)), order: order}
	for _, name := range order {
		job := p.Jobs[name]
		d.nodes[name] = &Node{
			Job:             job,
			StageIndex:      p.StageIndex(job.Stage),
			Deps:            g.Dependencies(name),
			Dependents:      g.Dependents(name),
			ArtifactSources: artifactSources(p, job, admitted, order),
		}
	}
	for _, name := range slices.Sorted(maps.Keys(reasons)) {
		d.excluded = append(d.excluded, Excluded{Name: name, Reason: reasons[name]})
	}
	return d, nil
}

// artifactSources are the transitive needs of a job (following needs whose
// artifacts flag is set) plus its dependencies, restricted to admitted jobs,
// in DAG order.
func artifactSources(p *manifest.Pipeline, job *manifest.Job, admitted map[string]bool, order []string) []string {
	set := make(map[string]bool)
	for _, d := range job.Dependencies {
		if admitted[d] {
			set[d] = true
		}
	}
	var walk func(j *manifest.Job)
	walk = func(j *manifest.Job) {
		for _, n := range j.Needs {
			if !n.Artifacts || !admitted[n.Job] || set[n.Job] {
				continue
			}
			set[n.Job] = true
			walk(p.Jobs[n.Job])
		}
	}
	walk(job)

	out := make([]string, 0, len(set))
	for _, n := range order {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}
