package commands

import (
	"maps"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/daemon"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/gitctx"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// ContextFlags describe the run context. Anything left empty is detected
// from the git checkout of the project directory.
type ContextFlags struct {
	Ref    string            `help:"Ref to run for (default: current checkout)"`
	Kind   string            `help:"Run kind: branch, tag, schedule or manual"`
	Source string            `help:"What triggered the run" default:"cli"`
	Commit string            `help:"Commit SHA recorded with the run"`
	Var    map[string]string `short:"V" help:"Run variable as KEY=VALUE; overrides job variables"`
}

func (f ContextFlags) runContext(cfg *config.Config, dir string) (trigger.RunContext, error) {
	rc := trigger.RunContext{
		Workspace: daemon.ResolveWorkspace(cfg, dir),
		Ref:       f.Ref,
		Source:    f.Source,
		Commit:    f.Commit,
		Variables: maps.Clone(f.Var),
	}
	if f.Kind != "" {
		k, err := trigger.ParseKind(f.Kind)
		if err != nil {
			return rc, errors.ValidationError("invalid --kind").WithCause(err).WithContext("kind", f.Kind).Build()
		}
		rc.Kind = k
	}
	return gitctx.Fill(rc, dir)
}
