// Package repository wraps a local git checkout with the queries the build
// coordinator and the bisection engine need: revision resolution, ancestry
// tests, first-parent enumeration and bisection midpoints.
package repository

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Revision is any user-supplied reference (branch, tag, relative expression
// or commit id) that the repository can resolve to exactly one Commit.
type Revision string

// Commit is a canonical commit identifier obtained via ResolveToCommit.
type Commit string

// gitRunner executes a git subcommand and returns its trimmed stdout.
// Swapped out by tests.
type gitRunner func(ctx context.Context, dir string, args ...string) (string, error)

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Repo provides access to a local clone of a compiler project's repository.
// Revision resolution and common-ancestor queries are memoized for the
// lifetime of the Repo; Pull invalidates the caches in full.
type Repo struct {
	path       string
	mainBranch string
	run        gitRunner

	mu            sync.Mutex
	resolveCache  map[Revision]Commit
	ancestorCache map[string]Commit
}

// New creates a Repo for the checkout at path whose mainline branch is
// mainBranch.
func New(path, mainBranch string) *Repo {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Repo{
		path:          abs,
		mainBranch:    mainBranch,
		run:           execGit,
		resolveCache:  make(map[Revision]Commit),
		ancestorCache: make(map[string]Commit),
	}
}

// Path returns the checkout directory.
func (r *Repo) Path() string {
	return r.path
}

// MainBranch returns the mainline branch name.
func (r *Repo) MainBranch() string {
	return r.mainBranch
}

// ResolveToCommit resolves any revision (branch, tag, relative expression,
// commit id) to its canonical commit hash via rev-parse. "trunk", "master"
// and "main" are aliased to the repository's main branch.
func (r *Repo) ResolveToCommit(ctx context.Context, rev Revision) (Commit, error) {
	rev = Revision(strings.TrimSpace(string(rev)))
	switch rev {
	case "trunk", "master", "main":
		rev = Revision(r.mainBranch)
	}

	r.mu.Lock()
	if c, ok := r.resolveCache[rev]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	out, err := r.run(ctx, r.path, "rev-parse", string(rev))
	if err != nil {
		return "", &RepositoryError{Op: fmt.Sprintf("rev-parse %s", rev), Err: err}
	}
	c := Commit(out)

	r.mu.Lock()
	r.resolveCache[rev] = c
	r.mu.Unlock()
	return c, nil
}

// IsAncestor reports whether old is an ancestor of young.
func (r *Repo) IsAncestor(ctx context.Context, old, young Revision) (bool, error) {
	a, err := r.ResolveToCommit(ctx, old)
	if err != nil {
		return false, err
	}
	b, err := r.ResolveToCommit(ctx, young)
	if err != nil {
		return false, err
	}
	_, err = r.run(ctx, r.path, "merge-base", "--is-ancestor", string(a), string(b))
	if err == nil {
		return true, nil
	}
	if exitErr, ok := errUnwrapExit(err); ok && exitErr == 1 {
		return false, nil
	}
	return false, &RepositoryError{Op: fmt.Sprintf("merge-base --is-ancestor %s %s", a, b), Err: err}
}

// BestCommonAncestor returns the merge base of the two revisions.
func (r *Repo) BestCommonAncestor(ctx context.Context, revA, revB Revision) (Commit, error) {
	a, err := r.ResolveToCommit(ctx, revA)
	if err != nil {
		return "", err
	}
	b, err := r.ResolveToCommit(ctx, revB)
	if err != nil {
		return "", err
	}

	key := string(a) + " " + string(b)
	r.mu.Lock()
	if c, ok := r.ancestorCache[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	out, err := r.run(ctx, r.path, "merge-base", string(a), string(b))
	if err != nil {
		return "", &RepositoryError{Op: fmt.Sprintf("merge-base %s %s", a, b), Err: err}
	}
	c := Commit(out)

	r.mu.Lock()
	r.ancestorCache[key] = c
	r.mu.Unlock()
	return c, nil
}

// DirectFirstParentPath returns the interval of commits [newer, older]
// always following the first parent, newest first and inclusive of both
// ends.
func (r *Repo) DirectFirstParentPath(ctx context.Context, older, newer Revision) ([]Commit, error) {
	out, err := r.run(ctx, r.path, "rev-list", "--first-parent", string(newer), "^"+string(older))
	if err != nil {
		return nil, &RepositoryError{Op: fmt.Sprintf("rev-list --first-parent %s ^%s", newer, older), Err: err}
	}
	path := splitCommits(out)
	oldest, err := r.ResolveToCommit(ctx, older)
	if err != nil {
		return nil, err
	}
	return append(path, oldest), nil
}

// NextBisectionCommit returns the canonical first-parent bisection midpoint
// of the good..bad range, following the git-bisect convention. An empty
// Commit signals that the search has converged.
func (r *Repo) NextBisectionCommit(ctx context.Context, good, bad Revision) (Commit, error) {
	out, err := r.run(ctx, r.path, "rev-list", "--bisect", "--first-parent", string(bad), "^"+string(good))
	if err != nil {
		return "", &RepositoryError{Op: fmt.Sprintf("rev-list --bisect %s ^%s", bad, good), Err: err}
	}
	return Commit(out), nil
}

// CommitsInRange enumerates the commits selected by a git revision range
// expression such as "introducer~..patchable".
func (r *Repo) CommitsInRange(ctx context.Context, spec string) ([]Commit, error) {
	out, err := r.run(ctx, r.path, "log", "--format=%H", spec)
	if err != nil {
		return nil, &RepositoryError{Op: fmt.Sprintf("log %s", spec), Err: err}
	}
	return splitCommits(out), nil
}

// RangeNeedingPatch enumerates the commits between introducer and fixer that
// need a patch, excluding side branches that merged in after the introducer
// without descending from it.
func (r *Repo) RangeNeedingPatch(ctx context.Context, introducer, fixer Revision) ([]Commit, error) {
	mergesOut, err := r.run(ctx, r.path, "rev-list", "--merges",
		fmt.Sprintf("%s~..%s", introducer, fixer))
	if err != nil {
		return nil, &RepositoryError{Op: "rev-list --merges", Err: err}
	}
	merges := splitCommits(mergesOut)

	var unwantedParents []Commit
	if len(merges) > 0 {
		args := []string{"rev-parse"}
		for _, m := range merges {
			args = append(args, string(m)+"^@")
		}
		parentsOut, err := r.run(ctx, r.path, args...)
		if err != nil {
			return nil, &RepositoryError{Op: "rev-parse merge parents", Err: err}
		}
		seen := make(map[Commit]bool)
		for _, p := range splitCommits(parentsOut) {
			if seen[p] {
				continue
			}
			seen[p] = true
			descends, err := r.IsAncestor(ctx, introducer, Revision(p))
			if err != nil {
				return nil, err
			}
			if !descends {
				unwantedParents = append(unwantedParents, p)
			}
		}
	}

	args := []string{"rev-list", string(fixer), "^" + string(introducer)}
	for _, p := range unwantedParents {
		args = append(args, "^"+string(p))
	}
	out, err := r.run(ctx, r.path, args...)
	if err != nil {
		return nil, &RepositoryError{Op: "rev-list range", Err: err}
	}
	intro, err := r.ResolveToCommit(ctx, introducer)
	if err != nil {
		return nil, err
	}
	return append(splitCommits(out), intro), nil
}

// Pull switches the repository to its main branch and pulls. All memo
// caches are invalidated since the pull may move refs.
func (r *Repo) Pull(ctx context.Context) error {
	r.mu.Lock()
	r.resolveCache = make(map[Revision]Commit)
	r.ancestorCache = make(map[string]Commit)
	r.mu.Unlock()

	if _, err := r.run(ctx, r.path, "switch", r.mainBranch); err != nil {
		return &RepositoryError{Op: "switch " + r.mainBranch, Err: err}
	}
	if _, err := r.run(ctx, r.path, "pull"); err != nil {
		return &RepositoryError{Op: "pull", Err: err}
	}
	return nil
}

// Tags lists all tags of the repository.
func (r *Repo) Tags(ctx context.Context) ([]Revision, error) {
	out, err := r.run(ctx, r.path, "tag", "-l")
	if err != nil {
		return nil, &RepositoryError{Op: "tag -l", Err: err}
	}
	var tags []Revision
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tags = append(tags, Revision(line))
		}
	}
	return tags, nil
}

// AddWorktree checks out commit into an isolated working tree at dir.
func (r *Repo) AddWorktree(ctx context.Context, dir string, commit Commit) error {
	if _, err := r.run(ctx, r.path, "worktree", "add", dir, string(commit), "-f"); err != nil {
		return &RepositoryError{Op: fmt.Sprintf("worktree add %s", commit), Err: err}
	}
	return nil
}

// PruneWorktrees removes stale worktree administrative records.
func (r *Repo) PruneWorktrees(ctx context.Context) error {
	if _, err := r.run(ctx, r.path, "worktree", "prune"); err != nil {
		return &RepositoryError{Op: "worktree prune", Err: err}
	}
	return nil
}

func splitCommits(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commits = append(commits, Commit(line))
		}
	}
	return commits
}

// errUnwrapExit digs the process exit code out of a wrapped exec error.
func errUnwrapExit(err error) (int, bool) {
	for e := err; e != nil; {
		if exit, ok := e.(*exec.ExitError); ok {
			return exit.ExitCode(), true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		e = u.Unwrap()
	}
	return 0, false
}
