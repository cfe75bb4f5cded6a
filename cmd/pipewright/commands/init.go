package commands

import (
	"fmt"
	"os"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/daemon"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

const exampleManifest = `# pipewright pipeline
stages: [build, test, deploy]

variables:
  GOFLAGS: -mod=readonly

workflow:
  rules:
    - source: schedule
      when: always
    - kind: tag
      when: always
    - kind: branch
      when: always

.go:
  cache:
    key: go-modules
    paths: [.cache/go]
  variables:
    GOMODCACHE: .cache/go

compile:
  extends: .go
  stage: build
  script:
    - go build -o bin/ ./...
  artifacts:
    paths: [bin/]
    expire_in: 1 week

unit:
  extends: .go
  stage: test
  needs: [compile]
  script: go test ./...
  retry:
    max: 2
    when: [environment_unavailable, api_failure]

release:
  stage: deploy
  needs: [compile, unit]
  script: ./scripts/release.sh
  rules:
    - kind: tag
`

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing files"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	_, _ = fmt.Fprintf(g.Out, "Writing configuration to %s\n", root.Config)
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}

	path := daemon.ManifestPath(config.Default(), root.Dir)
	if _, err := os.Stat(path); err == nil && !i.Force {
		return errors.ConflictError("manifest already exists (use --force to overwrite)").WithContext("path", path).Build()
	}
	_, _ = fmt.Fprintf(g.Out, "Writing example manifest to %s\n", path)
	if err := os.WriteFile(path, []byte(exampleManifest), 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to write manifest").WithContext("path", path).Build()
	}
	return nil
}
