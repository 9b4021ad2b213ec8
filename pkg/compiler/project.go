// Package compiler holds the contract types shared between the build
// coordinator, the compiler store and the bisection engine.
package compiler

import (
	"fmt"
	"strings"
)

// Project identifies one of the supported compiler projects. It determines
// the default branch name, the release-tag naming scheme, the build recipe
// and the install-path naming prefix.
type Project int

const (
	GCC Project = iota
	LLVM
)

// ParseProject converts a user-supplied project name into a Project.
// "clang" is accepted as an alias for LLVM.
func ParseProject(name string) (Project, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gcc":
		return GCC, nil
	case "llvm", "clang":
		return LLVM, nil
	}
	return 0, fmt.Errorf("unknown compiler project %q (expected gcc or llvm)", name)
}

func (p Project) String() string {
	switch p {
	case GCC:
		return "gcc"
	case LLVM:
		return "llvm"
	}
	return fmt.Sprintf("Project(%d)", int(p))
}

// InstallName returns the prefix used for install directory names in the
// compiler store: "gcc-<commit>" or "clang-<commit>".
func (p Project) InstallName() string {
	if p == LLVM {
		return "clang"
	}
	return "gcc"
}

// DefaultBranch returns the name of the project's mainline branch.
func (p Project) DefaultBranch() string {
	if p == LLVM {
		return "main"
	}
	return "master"
}

// RepoDirName returns the conventional checkout directory name under the
// repos directory.
func (p Project) RepoDirName() string {
	if p == LLVM {
		return "llvm-project"
	}
	return "gcc"
}

// Driver returns the compiler driver binary name installed under
// <prefix>/bin, for the C or C++ frontend.
func (p Project) Driver(cpp bool) string {
	switch p {
	case GCC:
		if cpp {
			return "g++"
		}
		return "gcc"
	case LLVM:
		if cpp {
			return "clang++"
		}
		return "clang"
	}
	return ""
}

// Projects lists all supported projects.
func Projects() []Project {
	return []Project{GCC, LLVM}
}
