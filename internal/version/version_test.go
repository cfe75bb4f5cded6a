package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })

	assert.Equal(t, "pipewright dev (commit unknown, built unknown)", String())

	Version, GitCommit, BuildTime = "v1.2.3", "0123456789abcdef0123", "2026-01-01T00:00:00Z"
	assert.Equal(t, "pipewright v1.2.3 (commit 0123456789ab, built 2026-01-01T00:00:00Z)", String())
}
