package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// ExecRequest carries everything the build executor needs for one build.
type ExecRequest struct {
	Project        compiler.Project
	Commit         repository.Commit
	Patches        []string
	ConfigureFlags string
	Jobs           int
	InstallPrefix  string
	Log            io.Writer
}

// Executor performs the project-specific checkout-patch-build-install
// sequence inside an isolated, disposable working tree. Implementations
// must remove the tree regardless of outcome.
type Executor interface {
	Build(ctx context.Context, req ExecRequest) error
}

// WorktreeExecutor builds compilers in throwaway git worktrees of the
// project repositories.
type WorktreeExecutor struct {
	repos  map[compiler.Project]*repository.Repo
	logger *output.Logger
}

// NewWorktreeExecutor creates the default executor over the given project
// repositories.
func NewWorktreeExecutor(repos map[compiler.Project]*repository.Repo, logger *output.Logger) *WorktreeExecutor {
	if logger == nil {
		logger = output.DefaultLogger
	}
	return &WorktreeExecutor{repos: repos, logger: logger}
}

func (e *WorktreeExecutor) Build(ctx context.Context, req ExecRequest) error {
	repo, ok := e.repos[req.Project]
	if !ok {
		return fmt.Errorf("no repository configured for %s", req.Project)
	}

	worktree := filepath.Join(os.TempDir(), "ccbuilder-build-"+uuid.NewString())
	if err := repo.AddWorktree(ctx, worktree, req.Commit); err != nil {
		return err
	}
	defer func() {
		os.RemoveAll(worktree)
		if err := repo.PruneWorktrees(ctx); err != nil {
			e.logger.Warn("Failed to prune worktrees: %v", err)
		}
	}()

	if len(req.Patches) > 0 {
		fmt.Fprintf(req.Log, "Applying patches: %v\n", req.Patches)
		if !repository.ApplyPatches(ctx, worktree, req.Patches, false) {
			return fmt.Errorf("failed to apply patches %v", req.Patches)
		}
	}

	switch req.Project {
	case compiler.GCC:
		return gccBuildAndInstall(ctx, worktree, req.InstallPrefix, req.Jobs, req.ConfigureFlags, req.Log)
	case compiler.LLVM:
		return llvmBuildAndInstall(ctx, worktree, req.InstallPrefix, req.Jobs, req.ConfigureFlags, req.Log)
	}
	return fmt.Errorf("no build recipe for %s", req.Project)
}
