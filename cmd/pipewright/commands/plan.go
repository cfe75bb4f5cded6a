package commands

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/pipewright/internal/graph"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// PlanCmd implements the 'plan' command.
type PlanCmd struct {
	ContextFlags
	File string `short:"f" help:"Manifest path (default: from config)" type:"path"`
	JSON bool   `help:"Print the plan as JSON"`
}

type planView struct {
	Context  trigger.RunContext   `json:"context"`
	Rejected bool                 `json:"rejected,omitempty"`
	Stages   []pipeline.StagePlan `json:"stages,omitempty"`
	Order    []planJob            `json:"order,omitempty"`
	Excluded []graph.Excluded     `json:"excluded,omitempty"`
}

type planJob struct {
	Name  string   `json:"name"`
	Stage string   `json:"stage"`
	Needs []string `json:"needs,omitempty"`
}

func (p *PlanCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	pl, err := manifest.Load(root.manifestPath(cfg, p.File))
	if err != nil {
		return err
	}
	rc, err := p.runContext(cfg, root.Dir)
	if err != nil {
		return err
	}

	view := planView{Context: rc}
	plan, err := pipeline.NewPlan(pl, rc)
	switch {
	case stderrors.Is(err, pipeline.ErrWorkflowRejected):
		view.Rejected = true
	case err != nil:
		return err
	default:
		view.Stages = plan.Stages()
		view.Excluded = plan.Excluded()
		for _, name := range plan.Order() {
			n, _ := plan.DAG.Node(name)
			view.Order = append(view.Order, planJob{Name: name, Stage: n.Job.Stage, Needs: n.Deps})
		}
	}

	if p.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	return printPlan(g, view)
}

func printPlan(g *Global, v planView) error {
	_, _ = fmt.Fprintf(g.Out, "Run context: %s\n", v.Context)
	if v.Rejected {
		_, _ = fmt.Fprintln(g.Out, "Workflow rules create no run for this context.")
		return nil
	}

	for _, s := range v.Stages {
		_, _ = fmt.Fprintf(g.Out, "stage %s: %s\n", s.Name, strings.Join(s.Jobs, ", "))
	}
	_, _ = fmt.Fprintln(g.Out)

	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tJOB\tSTAGE\tWAITS FOR")
	for i, j := range v.Order {
		deps := strings.Join(j.Needs, ", ")
		if deps == "" {
			deps = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, j.Name, j.Stage, deps)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(v.Excluded) > 0 {
		_, _ = fmt.Fprintln(g.Out, "\nExcluded:")
		for _, e := range v.Excluded {
			_, _ = fmt.Fprintf(g.Out, "  %s: %s\n", e.Name, e.Reason)
		}
	}
	return nil
}
