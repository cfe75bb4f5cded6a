package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// InitRepo creates a repository on branch main under a fresh temp dir and
// commits one file. It returns the checkout path, the repository and the commit.
func InitRepo(t testing.TB, name string) (string, *git.Repository, plumbing.Hash) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	return dir, repo, Commit(t, repo, "README.md", "hello\n", "initial")
}

// Commit writes file and commits it.
func Commit(t testing.TB, repo *git.Repository, file, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Filesystem.Root(), file), []byte(content), 0o600))
	_, err = wt.Add(file)
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}
