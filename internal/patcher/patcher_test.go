package patcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/ccbuilder/internal/builder"
	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/patchdb"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/internal/store"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// fakeHistory is a linear first-parent history c0..c(n-1), oldest first,
// with optional release tags. Revisions support the "X~N" and "X~"
// relative forms; "trunk" resolves to the newest commit.
type fakeHistory struct {
	n    int
	tags map[repository.Revision]int // tag -> commit index
}

func (h *fakeHistory) commit(i int) repository.Commit {
	return repository.Commit(fmt.Sprintf("c%d", i))
}

func (h *fakeHistory) resolve(rev repository.Revision) (int, error) {
	name := string(rev)
	back := 0
	for {
		if cut, found := strings.CutSuffix(name, "~"); found {
			name = cut
			back++
			continue
		}
		if i := strings.LastIndex(name, "~"); i >= 0 {
			if n, err := strconv.Atoi(name[i+1:]); err == nil {
				name = name[:i]
				back += n
				continue
			}
		}
		break
	}

	var idx int
	switch {
	case name == "trunk" || name == "main" || name == "master":
		idx = h.n - 1
	default:
		if at, ok := h.tags[repository.Revision(name)]; ok {
			idx = at
		} else {
			n, err := strconv.Atoi(strings.TrimPrefix(name, "c"))
			if err != nil || n < 0 || n >= h.n {
				return 0, fmt.Errorf("unknown revision %s", rev)
			}
			idx = n
		}
	}
	idx -= back
	if idx < 0 {
		return 0, fmt.Errorf("revision %s walks past the root", rev)
	}
	return idx, nil
}

func (h *fakeHistory) ResolveToCommit(ctx context.Context, rev repository.Revision) (repository.Commit, error) {
	idx, err := h.resolve(rev)
	if err != nil {
		return "", err
	}
	return h.commit(idx), nil
}

func (h *fakeHistory) IsAncestor(ctx context.Context, old, young repository.Revision) (bool, error) {
	oi, err := h.resolve(old)
	if err != nil {
		return false, err
	}
	yi, err := h.resolve(young)
	if err != nil {
		return false, err
	}
	return oi <= yi, nil
}

func (h *fakeHistory) BestCommonAncestor(ctx context.Context, revA, revB repository.Revision) (repository.Commit, error) {
	ai, err := h.resolve(revA)
	if err != nil {
		return "", err
	}
	bi, err := h.resolve(revB)
	if err != nil {
		return "", err
	}
	if bi < ai {
		ai = bi
	}
	return h.commit(ai), nil
}

func (h *fakeHistory) DirectFirstParentPath(ctx context.Context, older, newer repository.Revision) ([]repository.Commit, error) {
	oi, err := h.resolve(older)
	if err != nil {
		return nil, err
	}
	ni, err := h.resolve(newer)
	if err != nil {
		return nil, err
	}
	var path []repository.Commit
	for i := ni; i >= oi; i-- {
		path = append(path, h.commit(i))
	}
	return path, nil
}

func (h *fakeHistory) NextBisectionCommit(ctx context.Context, good, bad repository.Revision) (repository.Commit, error) {
	gi, err := h.resolve(good)
	if err != nil {
		return "", err
	}
	bi, err := h.resolve(bad)
	if err != nil {
		return "", err
	}
	if bi <= gi {
		return "", nil
	}
	// Candidates are (good, bad]; pick the splitting middle like git.
	span := bi - gi
	return h.commit(gi + (span+1)/2), nil
}

func (h *fakeHistory) CommitsInRange(ctx context.Context, spec string) ([]repository.Commit, error) {
	older, newer, found := strings.Cut(spec, "..")
	if !found {
		return nil, fmt.Errorf("unsupported range %s", spec)
	}
	oi, err := h.resolve(repository.Revision(older))
	if err != nil {
		return nil, err
	}
	ni, err := h.resolve(repository.Revision(newer))
	if err != nil {
		return nil, err
	}
	var commits []repository.Commit
	for i := ni; i > oi; i-- {
		commits = append(commits, h.commit(i))
	}
	return commits, nil
}

func (h *fakeHistory) RangeNeedingPatch(ctx context.Context, introducer, fixer repository.Revision) ([]repository.Commit, error) {
	ii, err := h.resolve(introducer)
	if err != nil {
		return nil, err
	}
	fi, err := h.resolve(fixer)
	if err != nil {
		return nil, err
	}
	var commits []repository.Commit
	for i := fi; i >= ii; i-- {
		commits = append(commits, h.commit(i))
	}
	return commits, nil
}

func (h *fakeHistory) Releases(ctx context.Context, project compiler.Project) ([]repository.Release, error) {
	var releases []repository.Release
	for tag := range h.tags {
		v, ok := project.ReleaseVersion(string(tag))
		if !ok {
			return nil, fmt.Errorf("bad test tag %s", tag)
		}
		releases = append(releases, repository.Release{Tag: tag, Version: v})
	}
	// Newest first.
	for i := 0; i < len(releases); i++ {
		for j := i + 1; j < len(releases); j++ {
			if releases[j].Version.GreaterThan(releases[i].Version) {
				releases[i], releases[j] = releases[j], releases[i]
			}
		}
	}
	return releases, nil
}

type commitStatus int

const (
	statusOK commitStatus = iota
	statusNeedsPatch
	statusBroken
)

// fakeBuildService classifies builds by commit status: statusNeedsPatch
// commits build only when the curing patch is applied.
type fakeBuildService struct {
	history   *fakeHistory
	status    func(idx int) commitStatus
	patchName string

	mu     sync.Mutex
	builds int
}

func (b *fakeBuildService) Build(ctx context.Context, project compiler.Project, rev repository.Revision, patches []string) error {
	b.mu.Lock()
	b.builds++
	b.mu.Unlock()

	idx, err := b.history.resolve(rev)
	if err != nil {
		return err
	}
	switch b.status(idx) {
	case statusOK:
		return nil
	case statusNeedsPatch:
		for _, p := range patches {
			if filepath.Base(p) == b.patchName {
				return nil
			}
		}
	}
	return &builder.BuildError{Project: project, Commit: b.history.commit(idx), Message: "build recipe failed"}
}

func (b *fakeBuildService) buildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

func quietLogger() *output.Logger {
	l := output.NewLogger()
	l.SetOutput(io.Discard, io.Discard)
	return l
}

func newTestPatcher(t *testing.T, h *fakeHistory, builds BuildService) (*Patcher, *patchdb.PatchDB) {
	t.Helper()
	db, err := patchdb.Load(filepath.Join(t.TempDir(), "patchdb.json"), quietLogger())
	require.NoError(t, err)
	p := New(builds, db, map[compiler.Project]Repo{compiler.LLVM: h, compiler.GCC: h},
		DefaultOptions(), quietLogger())
	return p, db
}

func TestFindIntroducer(t *testing.T) {
	tests := []struct {
		name     string
		commits  int
		boundary int // commits >= boundary fail to build
	}{
		{name: "small history", commits: 5, boundary: 2},
		{name: "medium history", commits: 1000, boundary: 500},
		{name: "boundary right after root", commits: 5, boundary: 1},
		{name: "boundary at head", commits: 5, boundary: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHistory{n: tt.commits, tags: map[repository.Revision]int{"llvmorg-9.0.0": 0}}
			builds := &fakeBuildService{history: h, status: func(idx int) commitStatus {
				if idx >= tt.boundary {
					return statusBroken
				}
				return statusOK
			}}
			p, _ := newTestPatcher(t, h, builds)

			introducer, err := p.FindIntroducer(context.Background(), compiler.LLVM,
				repository.Revision(h.commit(tt.commits-1)))
			require.NoError(t, err)
			require.Equal(t, h.commit(tt.boundary), introducer)
		})
	}
}

func TestFindIntroducerNoBuildableAncestor(t *testing.T) {
	h := &fakeHistory{n: 50, tags: map[repository.Revision]int{"llvmorg-9.0.0": 0}}
	builds := &fakeBuildService{history: h, status: func(int) commitStatus { return statusBroken }}
	p, _ := newTestPatcher(t, h, builds)

	_, err := p.FindIntroducer(context.Background(), compiler.LLVM, "c49")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no buildable ancestor")
}

func TestBisectDoubleFailCeiling(t *testing.T) {
	h := &fakeHistory{n: 100, tags: map[repository.Revision]int{}}
	builds := &fakeBuildService{history: h, status: func(int) commitStatus { return statusBroken }}
	p, db := newTestPatcher(t, h, builds)

	_, _, err := p.bisect(context.Background(), compiler.GCC, h, h.commit(0), h.commit(99),
		[]string{"fix.patch"}, false)

	var nc *NonConvergenceError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, DefaultOptions().MaxDoubleFail, nc.DoubleFails)
	require.Equal(t, compiler.GCC, nc.Project)
	require.NotEmpty(t, nc.Midpoint)

	// Initial probe plus exactly MaxDoubleFail recovery probes, each
	// trying both an unpatched and a patched build.
	require.Equal(t, 2*(1+DefaultOptions().MaxDoubleFail), builds.buildCount())

	// Every double-failed midpoint was flagged for manual follow-up.
	require.True(t, db.InManual(compiler.GCC, repository.Revision(nc.Midpoint)))
}

func TestFindRanges(t *testing.T) {
	// c0..c9 build clean, c10..c24 need the patch, c25..c30 are fixed.
	// Releases at c5, c20 (still broken) and c30 (fixed).
	h := &fakeHistory{n: 31, tags: map[repository.Revision]int{
		"llvmorg-10.0.0": 5,
		"llvmorg-11.0.0": 20,
		"llvmorg-12.0.0": 30,
	}}
	builds := &fakeBuildService{history: h, patchName: "fix.patch", status: func(idx int) commitStatus {
		if idx >= 10 && idx <= 24 {
			return statusNeedsPatch
		}
		return statusOK
	}}
	p, db := newTestPatcher(t, h, builds)

	patch := filepath.Join(t.TempDir(), "fix.patch")
	require.NoError(t, os.WriteFile(patch, []byte("--- a\n+++ b\n"), 0644))

	err := p.FindRanges(context.Background(), compiler.LLVM, "c12", []string{patch})
	require.NoError(t, err)

	// The whole introducer..fixer range is recorded.
	for i := 10; i <= 24; i++ {
		require.True(t, db.RequiresThisPatch(h.commit(i), patch), "c%d should need the patch", i)
	}
	// Nothing outside it is.
	for _, i := range []int{0, 5, 9, 25, 30} {
		require.False(t, db.RequiresThisPatch(h.commit(i), patch), "c%d should not need the patch", i)
	}
}

func TestFindRangesMissingPatchFile(t *testing.T) {
	h := &fakeHistory{n: 10, tags: map[repository.Revision]int{"llvmorg-10.0.0": 0}}
	builds := &fakeBuildService{history: h, status: func(int) commitStatus { return statusOK }}
	p, _ := newTestPatcher(t, h, builds)

	err := p.FindRanges(context.Background(), compiler.LLVM, "c5",
		[]string{filepath.Join(t.TempDir(), "missing.patch")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

// patchGatedExecutor stands in for a commit that compiles only when
// patches are applied.
type patchGatedExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *patchGatedExecutor) Build(ctx context.Context, req builder.ExecRequest) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if len(req.Patches) == 0 {
		return fmt.Errorf("compile error")
	}
	return nil
}

func TestCheckBuildingPatchesThroughCoordinator(t *testing.T) {
	h := &fakeHistory{n: 10, tags: map[repository.Revision]int{}}
	db, err := patchdb.Load(filepath.Join(t.TempDir(), "patchdb.json"), quietLogger())
	require.NoError(t, err)

	storeDir := t.TempDir()
	s, err := store.Open(store.DefaultStoreFile(storeDir), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	exec := &patchGatedExecutor{}
	coord := builder.New(builder.Config{
		StoreDir: storeDir,
		Store:    s,
		PatchDB:  db,
		Repos:    map[compiler.Project]builder.Repository{compiler.LLVM: h},
		Executor: exec,
		Jobs:     1,
		Logger:   quietLogger(),
	})

	p := New(builder.BisectionBuilds{Coordinator: coord}, db,
		map[compiler.Project]Repo{compiler.LLVM: h}, DefaultOptions(), quietLogger())

	result, err := p.checkBuildingPatches(context.Background(), compiler.LLVM, h, "c3", []string{"fix.patch"})
	require.NoError(t, err)
	require.Equal(t, BuildsWithPatching, result)

	// The unpatched failure must not fast-fail the patched retry.
	require.Equal(t, 2, exec.calls)

	built, err := s.Built(compiler.LLVM, "c3")
	require.NoError(t, err)
	require.NotNil(t, built)
}

func TestCheckBuildingPatchesFlagsManualIntervention(t *testing.T) {
	h := &fakeHistory{n: 10, tags: map[repository.Revision]int{}}
	builds := &fakeBuildService{history: h, status: func(int) commitStatus { return statusBroken }}
	p, db := newTestPatcher(t, h, builds)

	result, err := p.checkBuildingPatches(context.Background(), compiler.GCC, h, "c3", []string{"fix.patch"})
	require.NoError(t, err)
	require.Equal(t, BuildFailed, result)
	require.True(t, db.InManual(compiler.GCC, "c3"))
	require.Equal(t, 2, builds.buildCount())
}

func TestCheckBuildingPatchesUsesDatabaseAnswer(t *testing.T) {
	h := &fakeHistory{n: 10, tags: map[repository.Revision]int{}}
	builds := &fakeBuildService{history: h, status: func(int) commitStatus { return statusBroken }}
	p, db := newTestPatcher(t, h, builds)

	require.NoError(t, db.Save("fix.patch", []repository.Commit{h.commit(3)}))

	result, err := p.checkBuildingPatches(context.Background(), compiler.GCC, h, "c3", []string{"fix.patch"})
	require.NoError(t, err)
	require.Equal(t, BuildsWithPatching, result)
	// Answered from the database, no build was attempted.
	require.Equal(t, 0, builds.buildCount())
}
