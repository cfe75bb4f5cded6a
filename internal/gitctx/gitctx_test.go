package gitctx

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/testutil"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

func initRepo(t *testing.T) (string, *git.Repository, plumbing.Hash) {
	t.Helper()
	return testutil.InitRepo(t, "checkout")
}

func TestDetectBranch(t *testing.T) {
	dir, _, hash := initRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))

	info, err := Detect(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.Equal(t, "main", info.Ref)
	assert.Equal(t, trigger.KindBranch, info.Kind)
	assert.Equal(t, hash.String(), info.Commit)
	assert.Equal(t, "checkout", info.Workspace)
	assert.False(t, info.Detached)
}

func TestDetectTagAndOrigin(t *testing.T) {
	dir, repo, hash := initRepo(t)
	_, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"git@example.com:acme/mono.git"}})
	require.NoError(t, err)
	_, err = repo.CreateTag("v1.2.0", hash, nil)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: hash}))

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, info.Detached)
	assert.Equal(t, trigger.KindTag, info.Kind)
	assert.Equal(t, "v1.2.0", info.Ref)
	assert.Equal(t, "mono", info.Workspace)
}

func TestDetectDetachedWithoutTag(t *testing.T) {
	dir, repo, first := initRepo(t)
	testutil.Commit(t, repo, "CHANGES.md", "v2\n", "second")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: first}))

	info, err := Detect(dir)
	require.NoError(t, err)
	assert.True(t, info.Detached)
	assert.Equal(t, trigger.KindBranch, info.Kind)
	assert.Equal(t, first.String(), info.Ref)
	assert.Equal(t, first.String(), info.Commit)
}

func TestDetectNotRepository(t *testing.T) {
	_, err := Detect(t.TempDir())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrNotRepository))
}

func TestFill(t *testing.T) {
	dir, _, hash := initRepo(t)

	rc, err := Fill(trigger.RunContext{Workspace: "ws"}, dir)
	require.NoError(t, err)
	assert.Equal(t, trigger.RunContext{Workspace: "ws", Ref: "main", Kind: trigger.KindBranch, Commit: hash.String()}, rc)

	rc, err = Fill(trigger.RunContext{Ref: "release", Kind: trigger.KindTag}, dir)
	require.NoError(t, err)
	assert.Equal(t, "release", rc.Ref)
	assert.Equal(t, trigger.KindTag, rc.Kind)
	assert.Empty(t, rc.Commit, "commit of another ref is not guessed")
	assert.Equal(t, "checkout", rc.Workspace)

	rc, err = Fill(trigger.RunContext{Ref: "main"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, trigger.RunContext{Ref: "main", Kind: trigger.KindBranch}, rc)

	_, err = Fill(trigger.RunContext{}, t.TempDir())
	require.Error(t, err)
}

func TestRepoNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/acme/mono.git":    "mono",
		"https://example.com/acme/mono/":       "mono",
		"git@example.com:acme/tools.git":       "tools",
		"git@example.com:solo.git":             "solo",
		"ssh://git@example.com:2222/a/b/c.git": "c",
	}
	for in, want := range cases {
		assert.Equal(t, want, repoNameFromURL(in), in)
	}
}
