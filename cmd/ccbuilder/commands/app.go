package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/altuslabsxyz/ccbuilder/internal/builder"
	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/patchdb"
	"github.com/altuslabsxyz/ccbuilder/internal/patcher"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/internal/store"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// app bundles the effective configuration with constructors for the
// pieces a command needs. Commands build only what they use; opening the
// store may trigger an automatic scan of the store directory.
type app struct {
	storePath  string
	patchesDir string
	reposDir   string
	logDir     string
	jobs       int
	pull       bool
	logger     *output.Logger
}

func currentApp() *app {
	return &app{
		storePath:  storePath,
		patchesDir: patchesDir,
		reposDir:   reposDir,
		logDir:     logDir,
		jobs:       jobs,
		pull:       pull,
		logger:     output.DefaultLogger,
	}
}

// openStore opens the compiler store database. When the database file
// does not exist yet the store directory is scanned first, so an existing
// collection of built compilers is picked up automatically.
func (a *app) openStore(ctx context.Context) (*store.CompilerStore, error) {
	dbPath := store.DefaultStoreFile(a.storePath)
	_, statErr := os.Stat(dbPath)
	needScan := os.IsNotExist(statErr)

	s, err := store.Open(dbPath, a.logger)
	if err != nil {
		return nil, err
	}

	if needScan {
		if _, err := os.Stat(a.storePath); err == nil {
			a.logger.Info("Store metadata missing, scanning %s...", a.storePath)
			n, err := s.Reconcile(ctx, a.storePath)
			if err != nil {
				s.Close()
				return nil, err
			}
			a.logger.Info("Registered %d built compilers", n)
		}
	}
	return s, nil
}

// repo opens the checkout of the given compiler project, pulling it first
// when --pull is set.
func (a *app) repo(ctx context.Context, project compiler.Project) (*repository.Repo, error) {
	path := filepath.Join(a.reposDir, project.RepoDirName())
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf(
			"no %s checkout at %s; clone the repository there or set --repos-dir", project, path)
	}
	repo := repository.New(path, project.DefaultBranch())
	if a.pull {
		a.logger.Info("Pulling %s...", project)
		if err := repo.Pull(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// repos opens the checkouts of every project that has one.
func (a *app) repos(ctx context.Context) (map[compiler.Project]*repository.Repo, error) {
	out := map[compiler.Project]*repository.Repo{}
	for _, project := range compiler.Projects() {
		path := filepath.Join(a.reposDir, project.RepoDirName())
		if _, err := os.Stat(path); err != nil {
			continue
		}
		repo, err := a.repo(ctx, project)
		if err != nil {
			return nil, err
		}
		out[project] = repo
	}
	return out, nil
}

func (a *app) openPatchDB() (*patchdb.PatchDB, error) {
	return patchdb.Load(patchdb.DefaultFile(a.patchesDir), a.logger)
}

// coordinator wires the build coordinator over the given store and repos.
func (a *app) coordinator(s *store.CompilerStore, db *patchdb.PatchDB, repos map[compiler.Project]*repository.Repo) *builder.Coordinator {
	coordRepos := make(map[compiler.Project]builder.Repository, len(repos))
	for project, repo := range repos {
		coordRepos[project] = repo
	}
	return builder.New(builder.Config{
		StoreDir: a.storePath,
		Store:    s,
		PatchDB:  db,
		Repos:    coordRepos,
		Executor: builder.NewWorktreeExecutor(repos, a.logger),
		Jobs:     a.jobs,
		LogDir:   a.logDir,
		Logger:   a.logger,
	})
}

// patcher wires a Patcher over the coordinator and repos.
func (a *app) patcher(coord *builder.Coordinator, db *patchdb.PatchDB, repos map[compiler.Project]*repository.Repo) *patcher.Patcher {
	patcherRepos := make(map[compiler.Project]patcher.Repo, len(repos))
	for project, repo := range repos {
		patcherRepos[project] = repo
	}
	return patcher.New(builder.BisectionBuilds{Coordinator: coord}, db, patcherRepos, patcher.DefaultOptions(), a.logger)
}
