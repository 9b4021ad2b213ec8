// Package patcher locates introducer and fixer commits for compiler build
// failures and the commit ranges that require source patches, by bisecting
// the first-parent history and building candidate commits through the
// build coordinator.
//
// The good/bad convention follows git bisect: good is the older commit
// exhibiting the baseline behavior, bad is the newer one exhibiting the
// behavior being localized. An introducer is the first commit where the
// behavior turns bad, a fixer the first commit where it turns good again.
package patcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/altuslabsxyz/ccbuilder/internal/builder"
	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/patchdb"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// PatchingResult classifies a commit by how it builds.
type PatchingResult int

const (
	BuildsWithoutPatching PatchingResult = iota + 1
	BuildsWithPatching
	BuildFailed
)

func (r PatchingResult) String() string {
	switch r {
	case BuildsWithoutPatching:
		return "builds without patching"
	case BuildsWithPatching:
		return "builds with patching"
	case BuildFailed:
		return "fails to build"
	}
	return "unknown"
}

// BuildService is the slice of the build coordinator the patcher needs.
// A build failure must surface as *builder.BuildError; any other error is
// treated as fatal to the search.
type BuildService interface {
	Build(ctx context.Context, project compiler.Project, rev repository.Revision, additionalPatches []string) error
}

// Repo is the repository surface the patcher bisects over.
type Repo interface {
	ResolveToCommit(ctx context.Context, rev repository.Revision) (repository.Commit, error)
	IsAncestor(ctx context.Context, old, young repository.Revision) (bool, error)
	BestCommonAncestor(ctx context.Context, revA, revB repository.Revision) (repository.Commit, error)
	DirectFirstParentPath(ctx context.Context, older, newer repository.Revision) ([]repository.Commit, error)
	NextBisectionCommit(ctx context.Context, good, bad repository.Revision) (repository.Commit, error)
	CommitsInRange(ctx context.Context, spec string) ([]repository.Commit, error)
	RangeNeedingPatch(ctx context.Context, introducer, fixer repository.Revision) ([]repository.Commit, error)
	Releases(ctx context.Context, project compiler.Project) ([]repository.Release, error)
}

// Options tunes the double-fail recovery of the bisection. The step
// ratios are empirical; they control how far the probe point moves when a
// commit fails to build both with and without patches.
type Options struct {
	// BadStepRatio is the fraction of the midpoint..bad range stepped
	// back from the bad bound on even recovery attempts.
	BadStepRatio float64
	// GoodStepRatio is the fraction of the good..midpoint range stepped
	// back from the midpoint on odd recovery attempts.
	GoodStepRatio float64
	// MaxDoubleFail is how many recovery attempts are made before the
	// search is declared unrecoverable.
	MaxDoubleFail int
}

// DefaultOptions returns the recovery tuning used by the CLI.
func DefaultOptions() Options {
	return Options{BadStepRatio: 0.9, GoodStepRatio: 0.2, MaxDoubleFail: 2}
}

// NonConvergenceError reports a bisection aborted after too many double
// failures, with the bracket state for manual follow-up.
type NonConvergenceError struct {
	Project     compiler.Project
	Good        repository.Commit
	Bad         repository.Commit
	Midpoint    repository.Commit
	DoubleFails int
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf(
		"bisection of %s did not converge after %d double failures (good %s, bad %s, midpoint %s); the bracket is unreliable and needs manual follow-up",
		e.Project, e.DoubleFails, e.Good, e.Bad, e.Midpoint)
}

// Patcher drives bisection searches for one or more compiler projects.
type Patcher struct {
	builds  BuildService
	patchDB *patchdb.PatchDB
	repos   map[compiler.Project]Repo
	opts    Options
	logger  *output.Logger
}

// New creates a Patcher. Zero-valued opts fields fall back to the
// defaults.
func New(builds BuildService, db *patchdb.PatchDB, repos map[compiler.Project]Repo, opts Options, logger *output.Logger) *Patcher {
	def := DefaultOptions()
	if opts.BadStepRatio <= 0 || opts.BadStepRatio >= 1 {
		opts.BadStepRatio = def.BadStepRatio
	}
	if opts.GoodStepRatio <= 0 || opts.GoodStepRatio >= 1 {
		opts.GoodStepRatio = def.GoodStepRatio
	}
	if opts.MaxDoubleFail <= 0 {
		opts.MaxDoubleFail = def.MaxDoubleFail
	}
	if logger == nil {
		logger = output.DefaultLogger
	}
	return &Patcher{builds: builds, patchDB: db, repos: repos, opts: opts, logger: logger}
}

func (p *Patcher) repo(project compiler.Project) (Repo, error) {
	repo, ok := p.repos[project]
	if !ok {
		return nil, fmt.Errorf("no repository configured for %s", project)
	}
	return repo, nil
}

// recoverableBuildFailure reports whether err classifies the commit as
// failing to build, as opposed to an error that must abort the search.
func recoverableBuildFailure(err error) bool {
	var buildErr *builder.BuildError
	return errors.As(err, &buildErr)
}

// checkBuildingPatches classifies rev: does it build clean, only with the
// given patches, or not at all. The patch database is consulted first so
// already-answered commits skip both builds; a commit failing both ways
// is flagged for manual intervention.
func (p *Patcher) checkBuildingPatches(ctx context.Context, project compiler.Project, repo Repo, rev repository.Revision, patches []string) (PatchingResult, error) {
	commit, err := repo.ResolveToCommit(ctx, rev)
	if err != nil {
		return 0, err
	}
	if p.patchDB.RequiresAllThesePatches(commit, patches) {
		p.logger.Debug("Patch database already records %s as requiring the patches", rev)
		return BuildsWithPatching, nil
	}

	p.logger.Info("Building %s without patches...", rev)
	err = p.builds.Build(ctx, project, rev, nil)
	if err == nil {
		return BuildsWithoutPatching, nil
	}
	if !recoverableBuildFailure(err) {
		return 0, err
	}
	p.logger.Info("Failed to build %s without patches: %v", rev, err)

	p.logger.Info("Building %s with patches...", rev)
	err = p.builds.Build(ctx, project, rev, patches)
	if err == nil {
		return BuildsWithPatching, nil
	}
	if !recoverableBuildFailure(err) {
		return 0, err
	}

	p.logger.Error("Failed to build %s even with patches, manual intervention needed: %v", rev, err)
	if dbErr := p.patchDB.ManualInterventionRequired(project, rev); dbErr != nil {
		return 0, dbErr
	}
	return BuildFailed, nil
}

// bisect narrows the (good, bad) bracket until the bisection midpoint
// stops moving, classifying each midpoint via checkBuildingPatches. With
// failureIsGood set, the sense of the predicate is inverted (used when
// searching fixers, where the older commits are the ones needing the
// patch). A midpoint that fails both with and without patches does not
// move the bracket; instead the probe point is shifted per Options, at
// most MaxDoubleFail times.
func (p *Patcher) bisect(ctx context.Context, project compiler.Project, repo Repo, good, bad repository.Commit, patches []string, failureIsGood bool) (repository.Commit, repository.Commit, error) {
	var midpoint repository.Commit
	doubleFails := 0
	recovering := false

	for {
		if recovering {
			if doubleFails >= p.opts.MaxDoubleFail {
				return "", "", &NonConvergenceError{
					Project:     project,
					Good:        good,
					Bad:         bad,
					Midpoint:    midpoint,
					DoubleFails: doubleFails,
				}
			}
			m, err := p.recoverMidpoint(ctx, repo, doubleFails, good, midpoint, bad)
			if err != nil {
				return "", "", err
			}
			midpoint = m
			doubleFails++
			recovering = false
		} else {
			prev := midpoint
			m, err := repo.NextBisectionCommit(ctx, repository.Revision(good), repository.Revision(bad))
			if err != nil {
				return "", "", err
			}
			midpoint = m
			p.logger.Info("Midpoint: %s", midpoint)
			if midpoint == "" || midpoint == prev {
				break
			}
		}

		result, err := p.checkBuildingPatches(ctx, project, repo, repository.Revision(midpoint), patches)
		if err != nil {
			return "", "", err
		}
		switch {
		case result == BuildFailed:
			recovering = true
		case (result == BuildsWithoutPatching) != failureIsGood:
			good = midpoint
		default:
			bad = midpoint
		}
	}
	return good, bad, nil
}

// recoverMidpoint picks the next probe point after a double failure,
// alternating by attempt parity between stepping back from the bad bound
// and stepping back from the midpoint toward the good bound.
func (p *Patcher) recoverMidpoint(ctx context.Context, repo Repo, attempt int, good, midpoint, bad repository.Commit) (repository.Commit, error) {
	var base repository.Commit
	var step int
	if attempt%2 == 0 {
		path, err := repo.DirectFirstParentPath(ctx, repository.Revision(midpoint), repository.Revision(bad))
		if err != nil {
			return "", err
		}
		base = bad
		step = int(p.opts.BadStepRatio * float64(len(path)))
	} else {
		path, err := repo.DirectFirstParentPath(ctx, repository.Revision(good), repository.Revision(midpoint))
		if err != nil {
			return "", err
		}
		base = midpoint
		step = int(p.opts.GoodStepRatio * float64(len(path)))
	}
	if step < 1 {
		step = 1
	}
	return repo.ResolveToCommit(ctx, repository.Revision(fmt.Sprintf("%s~%d", base, step)))
}
