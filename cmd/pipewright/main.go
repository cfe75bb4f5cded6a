package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pipewright/cmd/pipewright/commands"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/version"
)

func main() {
	cli := &commands.CLI{}
	globals := &commands.Global{Out: os.Stdout}
	parser := kong.Parse(cli,
		kong.Name("pipewright"),
		kong.Description("Declarative pipeline orchestration."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(globals),
	)
	err := parser.Run(globals, cli)
	os.Exit(errors.NewCLIErrorAdapter(cli.Verbose, globals.Logger).Report(os.Stderr, err))
}
