package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/pipewright/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Listen string `help:"Override daemon.listen"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	if d.Listen != "" {
		cfg.Daemon.Listen = d.Listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := daemon.NewRuntime(ctx, cfg, daemon.RuntimeOptions{ProjectDir: root.Dir, Logger: g.Logger})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	dm, err := daemon.New(cfg, rt, daemon.Options{ProjectDir: root.Dir, Logger: g.Logger})
	if err != nil {
		return err
	}
	return dm.Run(ctx)
}
