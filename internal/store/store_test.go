package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

func newTestStore(t *testing.T) *CompilerStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "compilerstore.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// finishedPrefix creates an install prefix with a success marker and
// returns a store record pointing at it.
func finishedPrefix(t *testing.T, project compiler.Project, commit repository.Commit) BuiltCompilerInfo {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), InstallDirName(project, commit))
	require.NoError(t, os.MkdirAll(prefix, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, SuccessMarker), []byte("{}"), 0644))
	return BuiltCompilerInfo{Project: project, Prefix: prefix, Commit: commit}
}

func TestRecordAndLookupSuccess(t *testing.T) {
	s := newTestStore(t)
	info := finishedPrefix(t, compiler.GCC, "abc123")

	got, err := s.Built(compiler.GCC, "abc123")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.RecordSuccess(info))

	got, err = s.Built(compiler.GCC, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, info, *got)

	// Idempotent for the identical record.
	require.NoError(t, s.RecordSuccess(info))

	// A different prefix under the same key is a consistency violation.
	other := info
	other.Prefix = filepath.Join(t.TempDir(), "elsewhere")
	err = s.RecordSuccess(other)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, compiler.GCC, conflict.Project)
}

func TestSuccessClearsFailure(t *testing.T) {
	s := newTestStore(t)
	info := finishedPrefix(t, compiler.LLVM, "deadbeef")

	require.NoError(t, s.RecordFailure(compiler.LLVM, "deadbeef"))
	failed, err := s.HasFailed(compiler.LLVM, "deadbeef")
	require.NoError(t, err)
	require.True(t, failed)

	require.NoError(t, s.RecordSuccess(info))

	failed, err = s.HasFailed(compiler.LLVM, "deadbeef")
	require.NoError(t, err)
	require.False(t, failed)
}

func TestBuiltEvictsStaleEntries(t *testing.T) {
	s := newTestStore(t)
	info := finishedPrefix(t, compiler.GCC, "abc123")
	require.NoError(t, s.RecordSuccess(info))

	// Losing the success marker invalidates the record.
	require.NoError(t, os.Remove(filepath.Join(info.Prefix, SuccessMarker)))

	got, err := s.Built(compiler.GCC, "abc123")
	require.NoError(t, err)
	require.Nil(t, got)

	commits, err := s.BuiltCommits(compiler.GCC)
	require.NoError(t, err)
	require.Empty(t, commits)
}

func TestFailureBookkeeping(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordFailure(compiler.GCC, "c1"))
	require.NoError(t, s.RecordFailure(compiler.GCC, "c1")) // idempotent
	require.NoError(t, s.RecordFailure(compiler.LLVM, "c2"))

	failed, err := s.FailedBuilds()
	require.NoError(t, err)
	require.Len(t, failed, 2)

	require.NoError(t, s.RemoveFailure(compiler.GCC, "c1"))
	has, err := s.HasFailed(compiler.GCC, "c1")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.ClearFailures())
	failed, err = s.FailedBuilds()
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordSuccess(finishedPrefix(t, compiler.GCC, "a")))
	require.NoError(t, s.RecordSuccess(finishedPrefix(t, compiler.GCC, "b")))
	require.NoError(t, s.RecordSuccess(finishedPrefix(t, compiler.LLVM, "c")))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats[compiler.GCC])
	require.Equal(t, 1, stats[compiler.LLVM])
}

func TestInstallDirName(t *testing.T) {
	require.Equal(t, "gcc-abc", InstallDirName(compiler.GCC, "abc"))
	require.Equal(t, "clang-abc", InstallDirName(compiler.LLVM, "abc"))

	project, commit, ok := ParseInstallDirName("clang-deadbeef")
	require.True(t, ok)
	require.Equal(t, compiler.LLVM, project)
	require.Equal(t, repository.Commit("deadbeef"), commit)

	_, _, ok = ParseInstallDirName("compiler_store")
	require.False(t, ok)
	_, _, ok = ParseInstallDirName("icc-deadbeef")
	require.False(t, ok)
}
