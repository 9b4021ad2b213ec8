package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()

	mkPrefix := func(name string, done bool) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0755))
		if done {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name, SuccessMarker), []byte("{}"), 0644))
		}
	}

	mkPrefix("gcc-abc123", true)
	mkPrefix("clang-deadbeef", true)
	mkPrefix("clang-unfinished", false) // no marker
	mkPrefix("compiler_store", false)   // metadata dir, not an install
	mkPrefix("random-stuff", true)      // unrecognized naming
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gcc-abc123"), filepath.Join(dir, "gcc-alias")))

	found, err := ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, found, 2)

	byCommit := map[string]BuiltCompilerInfo{}
	for _, info := range found {
		byCommit[string(info.Commit)] = info
		require.True(t, filepath.IsAbs(info.Prefix))
	}
	require.Equal(t, compiler.GCC, byCommit["abc123"].Project)
	require.Equal(t, compiler.LLVM, byCommit["deadbeef"].Project)
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"gcc-a", "clang-b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, SuccessMarker), []byte("{}"), 0644))
	}

	s, err := Open(DefaultStoreFile(dir), nil)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Reconcile(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	info, err := s.Built(compiler.GCC, "a")
	require.NoError(t, err)
	require.NotNil(t, info)

	// Running the scan again re-registers the same entries without conflict.
	n, err = s.Reconcile(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
