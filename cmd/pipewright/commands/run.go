package commands

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/daemon"
	"git.home.luguber.info/inful/pipewright/internal/executor"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/manifest"
	"git.home.luguber.info/inful/pipewright/internal/pipeline"
	"git.home.luguber.info/inful/pipewright/internal/report"
	"git.home.luguber.info/inful/pipewright/internal/scheduler"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	ContextFlags
	File        string `short:"f" help:"Manifest path (default: from config)" type:"path"`
	Concurrency int    `short:"j" help:"Jobs to run at once (default: from config)"`
	JSON        bool   `help:"Print the run outcome as JSON"`
	Report      string `help:"Write a report; .md for Markdown, anything else for HTML" type:"path"`

	// executor replaces the shell executor in tests.
	executor executor.Executor
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	pl, err := manifest.Load(root.manifestPath(cfg, r.File))
	if err != nil {
		return err
	}
	rc, err := r.runContext(cfg, root.Dir)
	if err != nil {
		return err
	}
	plan, err := pipeline.NewPlan(pl, rc)
	if stderrors.Is(err, pipeline.ErrWorkflowRejected) {
		_, _ = fmt.Fprintf(g.Out, "No run created for %s: workflow rules reject it\n", rc)
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := daemon.NewRuntime(ctx, cfg, daemon.RuntimeOptions{
		ProjectDir:  root.Dir,
		Concurrency: r.Concurrency,
		Executor:    r.executor,
		Logger:      g.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	run := rt.Engine.Start(context.WithoutCancel(ctx), plan)
	stop := context.AfterFunc(ctx, func() { run.Cancel("interrupted") })
	o := run.Wait()
	stop()

	if r.Report != "" {
		if err := writeReport(r.Report, o); err != nil {
			return err
		}
		g.Logger.Info("Report written", "path", r.Report)
	}
	if r.JSON {
		enc := json.NewEncoder(g.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(o); err != nil {
			return err
		}
	} else if err := printOutcome(g, o); err != nil {
		return err
	}
	return outcomeError(o)
}

func writeReport(path string, o *scheduler.Outcome) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "failed to create report directory").WithContext("path", dir).Build()
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "failed to create report").WithContext("path", path).Build()
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return report.Markdown(f, o)
	}
	return report.HTML(f, o)
}

func printOutcome(g *Global, o *scheduler.Outcome) error {
	w := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSTAGE\tSTATE\tATTEMPTS\tDURATION\tERROR")
	for _, j := range o.Jobs {
		msg := j.Error
		if msg == "" {
			msg = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", j.Name, j.Stage, j.State, j.Attempts, j.Duration().Round(time.Millisecond), msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, e := range o.Excluded {
		_, _ = fmt.Fprintf(g.Out, "excluded %s: %s\n", e.Name, e.Reason)
	}
	_, _ = fmt.Fprintf(g.Out, "Run %s %s in %s\n", o.RunID, o.Status, o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
	return nil
}

// outcomeError maps a finished run to the command's exit status.
func outcomeError(o *scheduler.Outcome) error {
	switch o.Status {
	case scheduler.RunSucceeded:
		return nil
	case scheduler.RunCanceled:
		return errors.RuntimeError("run canceled").WithContext("run_id", o.RunID).WithContext("reason", o.CancelReason).Build()
	default:
		failed := 0
		for _, j := range o.Jobs {
			if j.State == scheduler.StateFailed {
				failed++
			}
		}
		return errors.JobError("pipeline failed").WithContext("run_id", o.RunID).WithContext("failed_jobs", failed).Build()
	}
}
