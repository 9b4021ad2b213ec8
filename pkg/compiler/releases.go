package compiler

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Release tags older than these cannot be built on modern hosts and are
// filtered out of release enumeration.
var (
	minGCCRelease  = goversion.Must(goversion.NewVersion("7.0.0"))
	minLLVMRelease = goversion.Must(goversion.NewVersion("5.0.0"))
)

// ReleaseVersion parses a git tag into a release version of the project.
// It reports false for tags that are not buildable releases: tags of other
// naming schemes, release candidates, and releases too old to build.
func (p Project) ReleaseVersion(tag string) (*goversion.Version, bool) {
	switch p {
	case GCC:
		raw, found := strings.CutPrefix(tag, "releases/gcc-")
		if !found {
			return nil, false
		}
		v, err := goversion.NewVersion(raw)
		if err != nil || v.LessThan(minGCCRelease) {
			return nil, false
		}
		return v, true
	case LLVM:
		raw, found := strings.CutPrefix(tag, "llvmorg-")
		if !found {
			return nil, false
		}
		if strings.Contains(raw, "-rc") || strings.Contains(raw, "init") {
			return nil, false
		}
		v, err := goversion.NewVersion(raw)
		if err != nil || v.LessThan(minLLVMRelease) {
			return nil, false
		}
		return v, true
	}
	return nil, false
}
