package patcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// FindRanges takes a commit known to build only with the given patches
// and persists into the patch database the contiguous first-parent range
// that requires them. It brackets the introduction of the defect against
// the release tags, bisects for the exact introducer, then searches every
// release descending from the introducer for the corresponding fixer.
//
// The range is assumed contiguous: a gap in the middle that happens to
// build clean is either swallowed into the range or ends the search at
// the gap.
func (p *Patcher) FindRanges(ctx context.Context, project compiler.Project, patchableRev repository.Revision, patches []string) error {
	repo, err := p.repo(project)
	if err != nil {
		return err
	}
	patchable, err := repo.ResolveToCommit(ctx, patchableRev)
	if err != nil {
		return err
	}

	abs := make([]string, 0, len(patches))
	for _, patch := range patches {
		a, err := filepath.Abs(patch)
		if err != nil {
			return err
		}
		if _, err := os.Stat(a); err != nil {
			return fmt.Errorf("patch %s does not exist: %w", patch, err)
		}
		abs = append(abs, a)
	}
	patches = abs

	noPatchAncestor, oldestPatchable, err := p.bracketFromReleases(ctx, project, repo, patchable, patchableRev, patches)
	if err != nil {
		return err
	}

	switch {
	case noPatchAncestor != "":
		// The common case: a release ancestor builds clean, so the
		// introducer lies between it and the patchable commit.
		_, introducer, err := p.bisect(ctx, project, repo, noPatchAncestor, patchable, patches, false)
		if err != nil {
			return err
		}
		p.logger.Success("Found introducer %s", introducer)

		// Not the complete range yet, but enough to steer later
		// bisections away from rebuilding it.
		commits, err := repo.CommitsInRange(ctx, fmt.Sprintf("%s~..%s", introducer, patchable))
		if err != nil {
			return err
		}
		for _, patch := range patches {
			if err := p.patchDB.Save(patch, commits); err != nil {
				return err
			}
		}
		return p.findFixersFromIntroducer(ctx, project, repo, introducer, patches)

	case oldestPatchable != "":
		// Every tested release ancestor already needs the patches; the
		// best introducer estimate is the oldest of them.
		return p.findFixersFromIntroducer(ctx, project, repo, oldestPatchable, patches)
	}
	return nil
}

// bracketFromReleases walks the release tags oldest to newest (ending
// with trunk), classifying the common ancestor of each with the patchable
// commit. It returns the oldest ancestor building clean and the oldest
// ancestor building only with the patches; the walk stops at the first
// clean one.
func (p *Patcher) bracketFromReleases(ctx context.Context, project compiler.Project, repo Repo, patchable repository.Commit, displayName repository.Revision, patches []string) (repository.Commit, repository.Commit, error) {
	releases, err := repo.Releases(ctx, project)
	if err != nil {
		return "", "", err
	}
	// Oldest first, trunk last.
	candidates := make([]repository.Revision, 0, len(releases)+1)
	for i := len(releases) - 1; i >= 0; i-- {
		candidates = append(candidates, releases[i].Tag)
	}
	candidates = append(candidates, "trunk")

	var noPatchAncestor, oldestPatchable repository.Commit
	tested := map[repository.Commit]bool{}
	for _, candidate := range candidates {
		p.logger.Info("Testing against %s", candidate)

		older, err := p.branchPointIsAncestor(ctx, repo, candidate, repository.Revision(patchable))
		if err != nil {
			return "", "", err
		}
		if !older {
			if oldestPatchable != "" {
				p.logger.Warn("Only releases older than %s require the patches", displayName)
				break
			}
			return "", "", fmt.Errorf("no buildable release ancestor found before %s", displayName)
		}

		ancestor, err := repo.BestCommonAncestor(ctx, candidate, repository.Revision(patchable))
		if err != nil {
			return "", "", err
		}
		if tested[ancestor] {
			p.logger.Debug("Common ancestor with %s already tested, skipping", candidate)
			continue
		}

		result, err := p.checkBuildingPatches(ctx, project, repo, repository.Revision(ancestor), patches)
		if err != nil {
			return "", "", err
		}
		switch result {
		case BuildsWithoutPatching:
			noPatchAncestor = ancestor
			return noPatchAncestor, oldestPatchable, nil
		case BuildsWithPatching:
			if oldestPatchable == "" {
				oldestPatchable = ancestor
			}
		default:
			tested[ancestor] = true
		}
	}
	return noPatchAncestor, oldestPatchable, nil
}

// branchPointIsAncestor reports whether the point where rev branched off
// the main branch is an ancestor of the point where young branched off.
// Used to skip releases that diverged after the patchable commit.
func (p *Patcher) branchPointIsAncestor(ctx context.Context, repo Repo, rev, young repository.Revision) (bool, error) {
	bpOld, err := repo.BestCommonAncestor(ctx, "trunk", rev)
	if err != nil {
		return false, err
	}
	bpYoung, err := repo.BestCommonAncestor(ctx, "trunk", young)
	if err != nil {
		return false, err
	}
	return repo.IsAncestor(ctx, repository.Revision(bpOld), repository.Revision(bpYoung))
}

// findFixersFromIntroducer finds, for every release descending from the
// introducer, the last commit still needing the patches, and persists
// each discovered range. A fixer already found for an earlier release
// short-circuits releases it is an ancestor of.
func (p *Patcher) findFixersFromIntroducer(ctx context.Context, project compiler.Project, repo Repo, introducer repository.Commit, patches []string) error {
	p.logger.Info("Searching fixer commits from introducer %s...", introducer)

	releases, err := repo.Releases(ctx, project)
	if err != nil {
		return err
	}
	var reachable []repository.Commit
	for _, release := range releases {
		desc, err := repo.IsAncestor(ctx, repository.Revision(introducer), release.Tag)
		if err != nil {
			return err
		}
		if desc {
			commit, err := repo.ResolveToCommit(ctx, release.Tag)
			if err != nil {
				return err
			}
			reachable = append(reachable, commit)
		}
	}

	var knownFixers []repository.Commit
	for _, release := range reachable {
		p.logger.Info("Searching fixer for release %s", release)

		result, err := p.checkBuildingPatches(ctx, project, repo, repository.Revision(release), patches)
		if err != nil {
			return err
		}

		if result == BuildsWithoutPatching {
			fixed, err := p.anyIsAncestor(ctx, repo, knownFixers, release)
			if err != nil {
				return err
			}
			if fixed {
				p.logger.Debug("Release %s is already covered by a known fixer", release)
				continue
			}
		}

		switch result {
		case BuildFailed:
			continue

		case BuildsWithPatching:
			// The release itself still needs the patches; everything up
			// to it is part of the range.
			commits, err := repo.CommitsInRange(ctx, fmt.Sprintf("%s~1..%s", introducer, release))
			if err != nil {
				return err
			}
			for _, patch := range patches {
				if err := p.patchDB.Save(patch, commits); err != nil {
					return err
				}
			}

		case BuildsWithoutPatching:
			// The fixer lies between the introducer and the release;
			// bisect with the sense inverted so "good" means "still
			// needs the patches".
			lastNeedingPatch, _, err := p.bisect(ctx, project, repo, introducer, release, patches, true)
			if err != nil {
				return err
			}
			knownFixers = append(knownFixers, lastNeedingPatch)

			commits, err := repo.RangeNeedingPatch(ctx, repository.Revision(introducer), repository.Revision(lastNeedingPatch))
			if err != nil {
				return err
			}
			for _, patch := range patches {
				if err := p.patchDB.Save(patch, commits); err != nil {
					return err
				}
			}
		}
	}

	p.logger.Success("Done finding fixers")
	return nil
}

func (p *Patcher) anyIsAncestor(ctx context.Context, repo Repo, commits []repository.Commit, young repository.Commit) (bool, error) {
	for _, c := range commits {
		ok, err := repo.IsAncestor(ctx, repository.Revision(c), repository.Revision(young))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
