package store

import (
	"path/filepath"
	"strings"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// SuccessMarker is the file written into an install prefix once a build
// completed and was verified. An install prefix without it is stale.
const SuccessMarker = "DONE"

// BuiltCompilerInfo describes a compiler successfully built and installed
// into the store. It is immutable once created.
type BuiltCompilerInfo struct {
	Project compiler.Project  `json:"project"`
	Prefix  string            `json:"prefix"`
	Commit  repository.Commit `json:"commit"`
}

// CompilerPath returns the path of the installed compiler driver binary.
func (b *BuiltCompilerInfo) CompilerPath(cpp bool) string {
	return filepath.Join(b.Prefix, "bin", b.Project.Driver(cpp))
}

// FailedBuild identifies a (project, commit) pair whose build previously
// failed.
type FailedBuild struct {
	Project compiler.Project
	Commit  repository.Commit
}

// InstallDirName returns the store directory name for a build,
// "{projectprefix}-{commit}".
func InstallDirName(project compiler.Project, commit repository.Commit) string {
	return project.InstallName() + "-" + string(commit)
}

// ParseInstallDirName recognizes a store directory name produced by
// InstallDirName, reporting false for anything else.
func ParseInstallDirName(name string) (compiler.Project, repository.Commit, bool) {
	switch {
	case strings.HasPrefix(name, "gcc-"):
		return compiler.GCC, repository.Commit(strings.TrimPrefix(name, "gcc-")), true
	case strings.HasPrefix(name, "clang-"):
		return compiler.LLVM, repository.Commit(strings.TrimPrefix(name, "clang-")), true
	}
	return 0, "", false
}
