// Package version holds build metadata set with -ldflags:
//
//	go build -ldflags "-X git.home.luguber.info/inful/pipewright/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String formats the version line printed by --version.
func String() string {
	commit := GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("pipewright %s (commit %s, built %s)", Version, commit, BuildTime)
}
