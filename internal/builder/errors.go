package builder

import (
	"fmt"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// BuildError is returned when a build recipe fails, patches cannot be
// applied, or a previous attempt (by this or another worker) failed.
// Callers such as the bisection engine treat it as a classification
// outcome, not a crash.
type BuildError struct {
	Project compiler.Project
	Commit  repository.Commit
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build of %s %s failed: %s: %v", e.Project, e.Commit, e.Message, e.Err)
	}
	return fmt.Sprintf("build of %s %s failed: %s", e.Project, e.Commit, e.Message)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// DuplicateBuildError signals a lock-state inconsistency: an install path
// with a dead holder and no success marker. It requires operator cleanup
// (store clear-unfinished) and is never retried silently.
type DuplicateBuildError struct {
	InstallPrefix string
}

func (e *DuplicateBuildError) Error() string {
	return fmt.Sprintf("install path %s is in an inconsistent state "+
		"(no live builder and no success marker); run \"ccbuilder store clear-unfinished\" to fix", e.InstallPrefix)
}
