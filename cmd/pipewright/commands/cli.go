// Package commands implements the pipewright command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/daemon"
)

// Global is shared state bound into every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

// CLI definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"pipewright.yaml" env:"PIPEWRIGHT_CONFIG"`
	Dir     string           `short:"C" help:"Project directory" default:"." type:"existingdir"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Validate  ValidateCmd  `cmd:"" help:"Parse and validate the pipeline manifest"`
	Plan      PlanCmd      `cmd:"" help:"Show which jobs a run would execute and in what order"`
	Run       RunCmd       `cmd:"" help:"Execute the pipeline locally"`
	Daemon    DaemonCmd    `cmd:"" help:"Start the API, run queue and schedules"`
	Runs      RunsCmd      `cmd:"" help:"Inspect run history"`
	Artifacts ArtifactsCmd `cmd:"" help:"Manage artifact bundles"`
	Init      InitCmd      `cmd:"" help:"Write an example configuration and manifest"`
}

// AfterApply sets up logging once flags are parsed. The level comes from
// -v or PIPEWRIGHT_LOG_LEVEL; the format follows the config once loaded.
func (c *CLI) AfterApply(g *Global) error {
	if g.Out == nil {
		g.Out = os.Stdout
	}
	g.Logger = newLogger(os.Stderr, c.logLevel(""), config.LogFormatText)
	slog.SetDefault(g.Logger)
	return nil
}

func (c *CLI) logLevel(configured config.LogLevel) slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	level := configured
	if env := os.Getenv("PIPEWRIGHT_LOG_LEVEL"); env != "" {
		level = config.NormalizeLogLevel(env)
	}
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level slog.Level, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configuration and applies its logging section.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	g.Logger = newLogger(os.Stderr, c.logLevel(cfg.Logging.Level), cfg.Logging.Format)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

// manifestPath prefers an explicit -f over the configured manifest.
func (c *CLI) manifestPath(cfg *config.Config, file string) string {
	if file != "" {
		return file
	}
	return daemon.ManifestPath(cfg, c.Dir)
}
