package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/eventstore"
	"git.home.luguber.info/inful/pipewright/internal/report"
)

// RunsCmd groups the run history commands.
type RunsCmd struct {
	List RunsListCmd `cmd:"" help:"List recent runs"`
	Show RunsShowCmd `cmd:"" help:"Show one run"`
}

type RunsListCmd struct {
	Limit int  `short:"n" help:"Number of runs to show" default:"20"`
	JSON  bool `help:"Print runs as JSON"`
}

func (l *RunsListCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := eventstore.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	history := eventstore.NewRunHistoryProjection(store, l.Limit)
	if err := history.Rebuild(ctx); err != nil {
		return err
	}
	runs := history.History()

	if l.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tREF\tKIND\tSOURCE\tSTARTED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Status, r.Context.Ref, r.Context.Kind, r.Context.Source,
			r.StartedAt.Local().Format(time.DateTime), r.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}

type RunsShowCmd struct {
	ID       string `arg:"" help:"Run ID"`
	JSON     bool   `help:"Print the run as JSON"`
	Markdown bool   `help:"Print the run as a Markdown report"`
}

func (s *RunsShowCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := eventstore.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sum, err := eventstore.Replay(ctx, store, s.ID)
	if err != nil {
		return err
	}

	switch {
	case s.JSON:
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case s.Markdown && sum.Outcome != nil:
		return report.Markdown(g.Out, sum.Outcome)
	}

	_, _ = fmt.Fprintf(g.Out, "Run %s: %s\n", sum.RunID, sum.Status)
	_, _ = fmt.Fprintf(g.Out, "Context: %s\n", sum.Context)
	_, _ = fmt.Fprintf(g.Out, "Started: %s\n", sum.StartedAt.Local().Format(time.DateTime))
	if sum.FinishedAt != nil {
		_, _ = fmt.Fprintf(g.Out, "Duration: %s\n", sum.Duration.Round(time.Millisecond))
	}
	_, _ = fmt.Fprintln(g.Out)

	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSTAGE\tSTATE\tATTEMPTS\tFAILURE")
	for _, j := range sum.Jobs {
		class := string(j.FailureClass)
		if class == "" {
			class = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", j.Name, j.Stage, j.State, j.Attempts, class)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, e := range sum.Excluded {
		_, _ = fmt.Fprintf(g.Out, "excluded %s: %s\n", e.Name, e.Reason)
	}
	return nil
}
