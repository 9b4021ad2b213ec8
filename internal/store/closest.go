package store

import (
	"context"
	"fmt"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// RangeQuerier is the slice of the repository interface the closest-built
// lookup needs.
type RangeQuerier interface {
	ResolveToCommit(ctx context.Context, rev repository.Revision) (repository.Commit, error)
	IsAncestor(ctx context.Context, old, young repository.Revision) (bool, error)
	DirectFirstParentPath(ctx context.Context, older, newer repository.Revision) ([]repository.Commit, error)
}

// ClosestBuiltInRange finds an already-built compiler near commit on the
// first-parent path between lowerBound (older) and upperBound (newer),
// excluding the bounds themselves. If commit itself is built it is returned
// directly. Equidistant neighbors are broken toward the newer commit,
// consistently, including at the range boundaries.
//
// The substituted commit is not behaviorally identical to the requested
// one; callers trade precision for cache reuse.
func (s *CompilerStore) ClosestBuiltInRange(
	ctx context.Context,
	project compiler.Project,
	rev, lowerBound, upperBound repository.Revision,
	repo RangeQuerier,
) (*BuiltCompilerInfo, error) {
	commit, err := repo.ResolveToCommit(ctx, rev)
	if err != nil {
		return nil, err
	}
	lower, err := repo.ResolveToCommit(ctx, lowerBound)
	if err != nil {
		return nil, err
	}
	upper, err := repo.ResolveToCommit(ctx, upperBound)
	if err != nil {
		return nil, err
	}

	if built, err := s.Built(project, commit); err != nil || built != nil {
		return built, err
	}

	builtCommits, err := s.BuiltCommits(project)
	if err != nil {
		return nil, err
	}
	builtSet := make(map[repository.Commit]bool, len(builtCommits))
	for _, c := range builtCommits {
		builtSet[c] = true
	}

	path, err := repo.DirectFirstParentPath(ctx, repository.Revision(lower), repository.Revision(upper))
	if err != nil {
		return nil, err
	}

	// Chronological order, restricted to built commits and the query
	// commit, bounds excluded: [lower, c1, ..., upper] -> [c1, ...].
	var commits []repository.Commit
	for i := len(path) - 1; i >= 0; i-- {
		c := path[i]
		if c == lower || c == upper {
			continue
		}
		if builtSet[c] || c == commit {
			commits = append(commits, c)
		}
	}

	pos := -1
	for i, c := range commits {
		if c == commit {
			pos = i
			break
		}
	}
	if pos == -1 {
		// The query targets an ancestor of the lower bound on a side
		// branch; offer the oldest built commit in range if any.
		isAncestor, err := repo.IsAncestor(ctx, repository.Revision(commit), repository.Revision(lower))
		if err != nil {
			return nil, err
		}
		if !isAncestor {
			return nil, fmt.Errorf("commit %s is not on the first-parent path %s...%s", commit, lower, upper)
		}
		if len(commits) > 0 {
			return s.Built(project, commits[0])
		}
		return nil, nil
	}

	if len(commits) == 1 {
		// Only the query commit itself; no alternative to offer.
		return nil, nil
	}

	var target repository.Commit
	switch {
	case pos == 0:
		target = commits[1]
	case pos == len(commits)-1:
		target = commits[pos-1]
	default:
		// Prefer newer.
		target = commits[pos+1]
	}
	return s.Built(project, target)
}
