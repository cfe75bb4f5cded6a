package manifest

import (
	stderrors "errors"

	"git.home.luguber.info/inful/pipewright/internal/dag"
)

// validate checks cross-job references and acyclicity of the declared graph.
func validate(p *Pipeline, probs *problems) {
	seenStage := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if seenStage[s] {
			probs.addf("", "stage %q is listed more than once", s)
		}
		seenStage[s] = true
	}

	refsOK := true
	for _, name := range p.order {
		job := p.Jobs[name]
		idx := p.StageIndex(job.Stage)
		if idx < 0 {
			probs.addf(name, "unknown stage %q", job.Stage)
			refsOK = false
		}
		seenNeed := make(map[string]bool, len(job.Needs))
		for _, n := range job.Needs {
			switch {
			case n.Job == name:
				probs.addf(name, "needs itself")
				refsOK = false
			case seenNeed[n.Job]:
				probs.addf(name, "needs %q more than once", n.Job)
			case p.Jobs[n.Job] == nil:
				probs.addf(name, "needs unknown job %q", n.Job)
				refsOK = false
			}
			seenNeed[n.Job] = true
		}
		for _, d := range job.Dependencies {
			dep := p.Jobs[d]
			switch {
			case dep == nil:
				probs.addf(name, "dependencies lists unknown job %q", d)
			case idx >= 0 && p.StageIndex(dep.Stage) >= idx:
				probs.addf(name, "dependencies lists %q which is not in an earlier stage", d)
			}
		}
	}
	if !refsOK {
		return
	}
	if err := checkAcyclic(p); err != nil {
		var cycle *dag.CycleError
		if stderrors.As(err, &cycle) && len(cycle.Cycle) > 0 {
			probs.addf(cycle.Cycle[0], "%v", err)
			return
		}
		probs.addf("", "%v", err)
	}
}

// checkAcyclic builds the declared graph with every job present. A run's
// graph only ever drops edges from it, so a pipeline passing here cannot
// hit a cycle at run time.
func checkAcyclic(p *Pipeline) error {
	g := dag.New()
	for _, s := range p.Stages {
		for _, n := range p.JobsInStage(s) {
			g.AddNode(n)
		}
	}
	for _, n := range p.order {
		for _, f := range p.DeclaredDeps(p.Jobs[n]) {
			if err := g.AddEdge(f, n); err != nil {
				return err
			}
		}
	}
	_, err := g.TopoSort()
	return err
}
