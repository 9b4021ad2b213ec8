package repository

import (
	"context"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// Release is a buildable release tag of a compiler project.
type Release struct {
	Tag     Revision
	Version *goversion.Version
}

// Releases enumerates the buildable release tags of the project, newest
// first. Release candidates and releases too old to build on modern hosts
// are filtered out.
func (r *Repo) Releases(ctx context.Context, project compiler.Project) ([]Release, error) {
	tags, err := r.Tags(ctx)
	if err != nil {
		return nil, err
	}
	var releases []Release
	for _, tag := range tags {
		v, ok := project.ReleaseVersion(string(tag))
		if !ok {
			continue
		}
		releases = append(releases, Release{Tag: tag, Version: v})
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Version.GreaterThan(releases[j].Version)
	})
	return releases, nil
}
