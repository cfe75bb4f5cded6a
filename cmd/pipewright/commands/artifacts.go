package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/pipewright/internal/artifact"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
	"git.home.luguber.info/inful/pipewright/internal/storage"
)

// ArtifactsCmd groups artifact maintenance commands.
type ArtifactsCmd struct {
	Prune ArtifactsPruneCmd `cmd:"" help:"Delete expired artifact bundles"`
}

type ArtifactsPruneCmd struct{}

func (p *ArtifactsPruneCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	period, err := expiry.Parse(cfg.Artifacts.DefaultExpireIn)
	if err != nil {
		return errors.ConfigError("invalid artifacts.default_expire_in").WithCause(err).Build()
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Artifacts, g.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rep, err := artifact.NewManager(store, period, g.Logger).Prune(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, b := range rep.Deleted {
		_, _ = fmt.Fprintf(g.Out, "deleted %s\n", b.Key)
	}
	_, _ = fmt.Fprintf(g.Out, "%d bundle(s) deleted, %d kept\n", len(rep.Deleted), rep.Kept)
	return nil
}
