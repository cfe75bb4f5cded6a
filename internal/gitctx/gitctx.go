// Package gitctx derives a run context from a local git checkout.
package gitctx

import (
	stderrors "errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Info describes the checkout HEAD points at.
type Info struct {
	Root      string
	Workspace string // origin repository name, or the checkout directory name
	Ref       string
	Kind      trigger.Kind
	Commit    string
	Detached  bool
}

// ErrNotRepository is returned when dir is not inside a git checkout.
var ErrNotRepository = errors.GitError("not a git repository").Build()

// Detect opens the repository containing dir. A branch checkout yields
// kind branch; a detached HEAD on a tagged commit yields kind tag; any other
// detached HEAD is reported as a branch run on the commit hash.
func Detect(dir string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if stderrors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, errors.GitError(ErrNotRepository.Message()).WithCause(err).WithContext("path", dir).Build()
		}
		return Info{}, errors.GitError("failed to open repository").WithCause(err).WithContext("path", dir).Build()
	}

	info := Info{Kind: trigger.KindBranch}
	if wt, werr := repo.Worktree(); werr == nil {
		info.Root = wt.Filesystem.Root()
	}
	info.Workspace = workspaceName(repo, info.Root)

	head, err := repo.Head()
	if err != nil {
		// Unborn branch: no commit yet.
		if stderrors.Is(err, plumbing.ErrReferenceNotFound) {
			if ref, rerr := repo.Storer.Reference(plumbing.HEAD); rerr == nil && ref.Type() == plumbing.SymbolicReference {
				info.Ref = ref.Target().Short()
				return info, nil
			}
		}
		return Info{}, errors.GitError("failed to resolve HEAD").WithCause(err).WithContext("path", dir).Build()
	}

	info.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		info.Ref = head.Name().Short()
		return info, nil
	}

	info.Detached = true
	if tag := tagAt(repo, head.Hash()); tag != "" {
		info.Ref = tag
		info.Kind = trigger.KindTag
		return info, nil
	}
	info.Ref = info.Commit
	return info, nil
}

// tagAt returns the first tag, in name order, that points at commit.
func tagAt(repo *git.Repository, commit plumbing.Hash) string {
	iter, err := repo.Tags()
	if err != nil {
		return ""
	}
	defer iter.Close()

	var found string
	_ = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if obj, terr := repo.TagObject(target); terr == nil {
			c, cerr := obj.Commit()
			if cerr != nil {
				return nil
			}
			target = c.Hash
		}
		if target == commit {
			name := ref.Name().Short()
			if found == "" || name < found {
				found = name
			}
		}
		return nil
	})
	return found
}

func workspaceName(repo *git.Repository, root string) string {
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			if name := repoNameFromURL(urls[0]); name != "" {
				return name
			}
		}
	}
	if root == "" {
		return ""
	}
	return filepath.Base(root)
}

// repoNameFromURL handles https, ssh and scp-like remotes.
func repoNameFromURL(url string) string {
	u := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndex(u, ":"); i >= 0 && !strings.Contains(u[i:], "/") {
		u = u[i+1:]
	}
	name := path.Base(strings.ReplaceAll(u, ":", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Fill completes rc from the checkout containing dir. Fields already set
// in rc are kept. Outside a checkout rc is returned as is unless it has
// no ref, which is an error.
func Fill(rc trigger.RunContext, dir string) (trigger.RunContext, error) {
	if rc.Ref != "" && rc.Commit != "" && rc.Workspace != "" {
		return rc, nil
	}
	info, err := Detect(dir)
	if err != nil {
		if rc.Ref != "" {
			if rc.Kind == "" {
				rc.Kind = trigger.KindBranch
			}
			return rc, nil
		}
		return rc, errors.ValidationError("no ref given and the run context cannot be detected from git").
			WithCause(err).WithContext("path", dir).Build()
	}
	if rc.Workspace == "" {
		rc.Workspace = info.Workspace
	}
	if rc.Ref == "" {
		rc.Ref = info.Ref
		if rc.Kind == "" {
			rc.Kind = info.Kind
		}
	}
	if rc.Commit == "" && rc.Ref == info.Ref {
		rc.Commit = info.Commit
	}
	if rc.Kind == "" {
		rc.Kind = trigger.KindBranch
	}
	return rc, nil
}
