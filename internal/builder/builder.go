// Package builder coordinates compiler builds against the shared compiler
// store: at-most-once per (project, commit) coordination across processes,
// failure memoization, and the worktree build itself.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/patchdb"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/internal/store"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// Repository is the slice of the repository surface the coordinator needs.
type Repository interface {
	ResolveToCommit(ctx context.Context, rev repository.Revision) (repository.Commit, error)
}

// Config assembles a Coordinator.
type Config struct {
	// StoreDir is the directory install prefixes live under.
	StoreDir string
	Store    *store.CompilerStore
	PatchDB  *patchdb.PatchDB
	Repos    map[compiler.Project]Repository
	// Executor performs the actual build, usually a WorktreeExecutor.
	Executor Executor
	// Locks defaults to the pid-file provider.
	Locks LockProvider
	// Jobs is the default build parallelism; defaults to NumCPU.
	Jobs int
	// LogDir receives per-build log files; empty logs to the logger.
	LogDir string
	Logger *output.Logger
}

// BuildOptions configures a single build request.
type BuildOptions struct {
	ConfigureFlags    string
	Jobs              int
	Force             bool
	AdditionalPatches []string
}

// successRecord is the provenance JSON written into the success marker.
type successRecord struct {
	Revision  string `json:"revision"`
	Configure string `json:"configure"`
}

// Coordinator wraps the build executor with caching, failure memoization
// and cross-process mutual exclusion.
type Coordinator struct {
	storeDir string
	store    *store.CompilerStore
	patchDB  *patchdb.PatchDB
	repos    map[compiler.Project]Repository
	exec     Executor
	locks    LockProvider
	jobs     int
	logDir   string
	logger   *output.Logger

	group singleflight.Group

	// Poll and warn intervals of the wait loop; shortened by tests.
	pollInterval time.Duration
	warnInterval time.Duration
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = output.DefaultLogger
	}
	if cfg.Locks == nil {
		cfg.Locks = PIDFileLock{}
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	return &Coordinator{
		storeDir:     cfg.StoreDir,
		store:        cfg.Store,
		patchDB:      cfg.PatchDB,
		repos:        cfg.Repos,
		exec:         cfg.Executor,
		locks:        cfg.Locks,
		jobs:         cfg.Jobs,
		logDir:       cfg.LogDir,
		logger:       cfg.Logger,
		pollInterval: time.Second,
		warnInterval: 15 * time.Minute,
	}
}

// Build builds the given compiler revision, returning the cached result
// when one exists. A revision whose build previously failed fails fast
// unless opts.Force is set.
func (c *Coordinator) Build(ctx context.Context, project compiler.Project, rev repository.Revision, opts BuildOptions) (*store.BuiltCompilerInfo, error) {
	repo, ok := c.repos[project]
	if !ok {
		return nil, fmt.Errorf("no repository configured for %s", project)
	}
	commit, err := repo.ResolveToCommit(ctx, rev)
	if err != nil {
		return nil, err
	}

	if info, err := c.store.Built(project, commit); err != nil {
		return nil, err
	} else if info != nil {
		return info, nil
	}

	if !opts.Force {
		failed, err := c.store.HasFailed(project, commit)
		if err != nil {
			return nil, err
		}
		if failed {
			return nil, &BuildError{
				Project: project,
				Commit:  commit,
				Message: "previously failed to build; rerun with force to retry",
			}
		}
	}

	key := project.String() + "/" + string(commit)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.buildLocked(ctx, project, commit, rev, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.BuiltCompilerInfo), nil
}

// BisectionBuilds adapts the coordinator for bisection probes. A probe
// classifies a commit by building it unpatched and then, when that
// fails, immediately again with patches; the failure-history fast path
// must not short-circuit the second attempt, so every probe build
// carries Force.
type BisectionBuilds struct {
	Coordinator *Coordinator
}

func (b BisectionBuilds) Build(ctx context.Context, project compiler.Project, rev repository.Revision, additionalPatches []string) error {
	_, err := b.Coordinator.Build(ctx, project, rev, BuildOptions{
		AdditionalPatches: additionalPatches,
		Force:             true,
	})
	return err
}

func (c *Coordinator) buildLocked(ctx context.Context, project compiler.Project, commit repository.Commit, rev repository.Revision, opts BuildOptions) (*store.BuiltCompilerInfo, error) {
	installPrefix, err := filepath.Abs(filepath.Join(c.storeDir, store.InstallDirName(project, commit)))
	if err != nil {
		return nil, err
	}
	marker := filepath.Join(installPrefix, store.SuccessMarker)

	// A finished build may exist on disk without a store record, e.g.
	// after the database was rebuilt elsewhere.
	if _, err := os.Stat(marker); err == nil {
		return c.registerSuccess(project, commit, installPrefix)
	}

	release, state, err := c.locks.Acquire(installPrefix)
	if err != nil {
		return nil, err
	}
	switch state {
	case LockBusy:
		return c.waitForOtherBuilder(ctx, project, commit, installPrefix)
	case LockInconsistent:
		return nil, &DuplicateBuildError{InstallPrefix: installPrefix}
	}
	defer release()
	// Any exit without the success marker leaves an unusable prefix
	// behind; remove it so later attempts do not mistake it for a
	// crashed builder's debris.
	defer func() {
		if _, err := os.Stat(marker); err != nil {
			os.RemoveAll(installPrefix)
		}
	}()

	var patches []string
	if c.patchDB != nil {
		patches = c.patchDB.RequiredPatches(commit)
	}
	patches = append(patches, opts.AdditionalPatches...)

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = c.jobs
	}

	log, closeLog, err := c.openBuildLog(project, commit)
	if err != nil {
		return nil, err
	}
	defer closeLog()

	buildErr := c.exec.Build(ctx, ExecRequest{
		Project:        project,
		Commit:         commit,
		Patches:        patches,
		ConfigureFlags: opts.ConfigureFlags,
		Jobs:           jobs,
		InstallPrefix:  installPrefix,
		Log:            log,
	})
	if buildErr != nil {
		if err := c.store.RecordFailure(project, commit); err != nil {
			c.logger.Warn("Failed to record build failure: %v", err)
		}
		return nil, &BuildError{Project: project, Commit: commit, Message: "build recipe failed", Err: buildErr}
	}

	record, err := json.Marshal(successRecord{Revision: string(rev), Configure: opts.ConfigureFlags})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(marker, record, 0644); err != nil {
		return nil, fmt.Errorf("failed to write success marker: %w", err)
	}
	return c.registerSuccess(project, commit, installPrefix)
}

func (c *Coordinator) registerSuccess(project compiler.Project, commit repository.Commit, installPrefix string) (*store.BuiltCompilerInfo, error) {
	info := store.BuiltCompilerInfo{Project: project, Prefix: installPrefix, Commit: commit}
	if err := c.store.RecordSuccess(info); err != nil {
		return nil, err
	}
	return &info, nil
}

// waitForOtherBuilder blocks while another live worker holds the build
// lock. There is no hard timeout; a warning is emitted every warnInterval
// since a very long wait usually means the cache is in a bad state.
func (c *Coordinator) waitForOtherBuilder(ctx context.Context, project compiler.Project, commit repository.Commit, installPrefix string) (*store.BuiltCompilerInfo, error) {
	c.logger.Info("%s %s is being built by another worker, waiting...", project, commit)
	marker := filepath.Join(installPrefix, store.SuccessMarker)

	start := time.Now()
	waited := time.Duration(0)
	for {
		if _, err := os.Stat(marker); err == nil {
			return c.registerSuccess(project, commit, installPrefix)
		}
		_, pathErr := os.Stat(installPrefix)
		if pathErr != nil || !c.locks.HolderAlive(installPrefix) {
			// Recheck once: the holder may have finished between the
			// two probes.
			if _, err := os.Stat(marker); err == nil {
				return c.registerSuccess(project, commit, installPrefix)
			}
			return nil, &BuildError{
				Project: project,
				Commit:  commit,
				Message: fmt.Sprintf("another worker's build attempt for %s failed", installPrefix),
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if time.Since(start) >= c.warnInterval {
			waited += c.warnInterval
			c.logger.Warn("%s of waiting have passed; the cache may be in an inconsistent state", waited)
			start = time.Now()
		}
	}
}

func (c *Coordinator) openBuildLog(project compiler.Project, commit repository.Commit) (io.Writer, func(), error) {
	if c.logDir == "" {
		return c.logger.Writer(), func() {}, nil
	}
	if err := os.MkdirAll(c.logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.log", time.Now().Format("20060102-150405"), project, commit)
	path := filepath.Join(c.logDir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open build log: %w", err)
	}
	c.logger.Info("Build log at %s", path)
	return f, func() { f.Close() }, nil
}

// CleanUnfinished removes every install prefix under dir that has neither
// a success marker nor a live builder, returning what was removed.
func (c *Coordinator) CleanUnfinished(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, _, ok := store.ParseInstallDirName(entry.Name()); !ok {
			continue
		}
		prefix := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(prefix, store.SuccessMarker)); err == nil {
			continue
		}
		if c.locks.HolderAlive(prefix) {
			continue
		}
		if err := os.RemoveAll(prefix); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", prefix, err)
		}
		removed = append(removed, prefix)
	}
	return removed, nil
}
