package patcher

import (
	"context"
	"fmt"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// BisectBuild bisects the (good, bad) bracket on plain build success,
// with no patch awareness. With failureIsGood set the sense is inverted,
// i.e. the good commit is the one expected to fail.
func (p *Patcher) BisectBuild(ctx context.Context, project compiler.Project, good, bad repository.Commit, failureIsGood bool) (repository.Commit, repository.Commit, error) {
	repo, err := p.repo(project)
	if err != nil {
		return "", "", err
	}

	var midpoint repository.Commit
	for {
		prev := midpoint
		midpoint, err = repo.NextBisectionCommit(ctx, repository.Revision(good), repository.Revision(bad))
		if err != nil {
			return "", "", err
		}
		p.logger.Info("Midpoint: %s", midpoint)
		if midpoint == "" || midpoint == prev {
			break
		}

		p.logger.Info("Building midpoint %s...", midpoint)
		buildErr := p.builds.Build(ctx, project, repository.Revision(midpoint), nil)
		switch {
		case buildErr == nil:
			if failureIsGood {
				bad = midpoint
			} else {
				good = midpoint
			}
		case recoverableBuildFailure(buildErr):
			p.logger.Info("Failed to build %s: %v", midpoint, buildErr)
			if failureIsGood {
				good = midpoint
			} else {
				bad = midpoint
			}
		default:
			return "", "", buildErr
		}
	}
	return good, bad, nil
}

// FindIntroducer locates the commit that introduced the build failure of
// brokenRev. It first searches backward for a buildable ancestor with
// exponentially growing offsets, capped at the common ancestor of the
// oldest buildable release and the main branch, then bisects the
// resulting bracket on plain build success.
func (p *Patcher) FindIntroducer(ctx context.Context, project compiler.Project, brokenRev repository.Revision) (repository.Commit, error) {
	repo, err := p.repo(project)
	if err != nil {
		return "", err
	}
	broken, err := repo.ResolveToCommit(ctx, brokenRev)
	if err != nil {
		return "", err
	}
	p.logger.Info("Looking for the introducer commit starting at %s", brokenRev)

	releases, err := repo.Releases(ctx, project)
	if err != nil {
		return "", err
	}
	if len(releases) == 0 {
		return "", fmt.Errorf("no releases known for %s; cannot bound the backward search", project)
	}
	oldestPossible, err := repo.BestCommonAncestor(ctx, releases[len(releases)-1].Tag, "trunk")
	if err != nil {
		return "", err
	}

	// Backward search: probe broken~(2^exp+10) until one builds, clamping
	// to oldestPossible once the offset runs past it.
	exp := 0
	hitBound := false
	current := broken
	var prev repository.Commit
	for {
		prev = current
		if hitBound {
			return "", fmt.Errorf("no buildable ancestor found for broken revision %s", brokenRev)
		}
		offset := 1<<exp + 10
		cand, err := repo.ResolveToCommit(ctx, repository.Revision(fmt.Sprintf("%s~%d", broken, offset)))
		if err != nil {
			// Ran off the start of the history; clamp.
			cand = oldestPossible
			hitBound = true
		} else {
			older, err := repo.IsAncestor(ctx, repository.Revision(oldestPossible), repository.Revision(cand))
			if err != nil {
				return "", err
			}
			if !older {
				cand = oldestPossible
				hitBound = true
			}
		}
		current = cand

		p.logger.Info("Building %s in search of a buildable ancestor...", current)
		buildErr := p.builds.Build(ctx, project, repository.Revision(current), nil)
		if buildErr == nil {
			break
		}
		if !recoverableBuildFailure(buildErr) {
			return "", buildErr
		}
		exp++
		p.logger.Info("Failed to build %s, widening the search to ~%d: %v", current, 1<<exp+10, buildErr)
	}

	p.logger.Info("Bisecting between %s and %s...", current, prev)
	_, introducer, err := p.BisectBuild(ctx, project, current, prev, false)
	if err != nil {
		return "", err
	}
	p.logger.Success("Found introducer %s", introducer)
	return introducer, nil
}
