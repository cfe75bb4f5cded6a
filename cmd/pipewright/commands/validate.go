package commands

import (
	stderrors "errors"
	"fmt"

	"git.home.luguber.info/inful/pipewright/internal/manifest"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	File string `short:"f" help:"Manifest path (default: from config)" type:"path"`
}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	path := root.manifestPath(cfg, v.File)

	p, err := manifest.Load(path)
	if err != nil {
		var verr *manifest.ValidationError
		if stderrors.As(err, &verr) {
			_, _ = fmt.Fprintf(g.Out, "%s: %d problem(s)\n", path, len(verr.Problems))
			for _, prob := range verr.Problems {
				_, _ = fmt.Fprintf(g.Out, "  - %s\n", prob)
			}
		}
		return err
	}

	for _, w := range p.Warnings {
		_, _ = fmt.Fprintf(g.Out, "warning: %s\n", w)
	}
	_, _ = fmt.Fprintf(g.Out, "%s is valid: %d jobs in %d stages\n", path, len(p.Jobs), len(p.Stages))
	return nil
}
