package changes

import (
	"context"
	"errors"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GoGit answers the same queries as GitCLI without a git executable.
type GoGit struct {
	Dir string
}

func (g *GoGit) open(op string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, &Error{Kind: NotRepository, Op: op, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	return repo, nil
}

func (g *GoGit) head(repo *git.Repository, op string) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, &Error{Kind: NoHistory, Op: op, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	return commit, nil
}

func (g *GoGit) DiffAgainstParent(ctx context.Context) ([]string, error) {
	const op = "diff against parent"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := g.open(op)
	if err != nil {
		return nil, err
	}
	commit, err := g.head(repo, op)
	if err != nil {
		return nil, err
	}
	parent, err := commit.Parent(0)
	if errors.Is(err, object.ErrParentNotFound) {
		return nil, &Error{Kind: NoHistory, Op: op, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}

	files := make(map[string]struct{})
	if err := diffCommits(parent, commit, files); err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	for name, s := range status {
		if s.Worktree == git.Untracked && s.Staging == git.Untracked {
			continue
		}
		if s.Worktree == git.Unmodified && s.Staging == git.Unmodified {
			continue
		}
		files[name] = struct{}{}
	}
	return sortedKeys(files), nil
}

func (g *GoGit) LastCommitFiles(ctx context.Context) ([]string, error) {
	const op = "last commit files"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := g.open(op)
	if err != nil {
		return nil, err
	}
	commit, err := g.head(repo, op)
	if err != nil {
		return nil, err
	}

	files := make(map[string]struct{})
	parent, err := commit.Parent(0)
	switch {
	case errors.Is(err, object.ErrParentNotFound):
		// Root commit: every file in its tree was introduced by it.
		tree, err := commit.Tree()
		if err != nil {
			return nil, &Error{Kind: Invocation, Op: op, Err: err}
		}
		err = tree.Files().ForEach(func(f *object.File) error {
			files[f.Name] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, &Error{Kind: Invocation, Op: op, Err: err}
		}
	case err != nil:
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	default:
		if err := diffCommits(parent, commit, files); err != nil {
			return nil, &Error{Kind: Invocation, Op: op, Err: err}
		}
	}
	return sortedKeys(files), nil
}

func (g *GoGit) TrackedFiles(ctx context.Context) ([]string, error) {
	const op = "tracked files"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := g.open(op)
	if err != nil {
		return nil, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, &Error{Kind: Invocation, Op: op, Err: err}
	}
	files := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		files = append(files, e.Name)
	}
	sort.Strings(files)
	return files, nil
}

func diffCommits(from, to *object.Commit, into map[string]struct{}) error {
	fromTree, err := from.Tree()
	if err != nil {
		return err
	}
	toTree, err := to.Tree()
	if err != nil {
		return err
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if c.To.Name != "" {
			into[c.To.Name] = struct{}{}
		} else if c.From.Name != "" {
			into[c.From.Name] = struct{}{}
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
