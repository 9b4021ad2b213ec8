package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// linearHistory fakes a repository whose first-parent history is the
// given commits, oldest first. Commits not in the history resolve to
// themselves and are ancestors of everything in it.
type linearHistory struct {
	commits []repository.Commit
}

func (h linearHistory) index(c repository.Commit) int {
	for i, x := range h.commits {
		if x == c {
			return i
		}
	}
	return -1
}

func (h linearHistory) ResolveToCommit(ctx context.Context, rev repository.Revision) (repository.Commit, error) {
	return repository.Commit(rev), nil
}

func (h linearHistory) IsAncestor(ctx context.Context, old, young repository.Revision) (bool, error) {
	oi, yi := h.index(repository.Commit(old)), h.index(repository.Commit(young))
	if oi == -1 {
		// Off-history commits sit before the range.
		return true, nil
	}
	return oi <= yi, nil
}

func (h linearHistory) DirectFirstParentPath(ctx context.Context, older, newer repository.Revision) ([]repository.Commit, error) {
	oi, ni := h.index(repository.Commit(older)), h.index(repository.Commit(newer))
	if oi == -1 || ni == -1 || oi > ni {
		return nil, fmt.Errorf("bad range %s..%s", older, newer)
	}
	var path []repository.Commit
	for i := ni; i >= oi; i-- {
		path = append(path, h.commits[i])
	}
	return path, nil
}

func TestClosestBuiltInRange(t *testing.T) {
	// History: L c1 c2 c3 U, oldest first.
	history := linearHistory{commits: []repository.Commit{"L", "c1", "c2", "c3", "U"}}
	ctx := context.Background()

	build := func(t *testing.T, s *CompilerStore, commits ...repository.Commit) {
		for _, c := range commits {
			require.NoError(t, s.RecordSuccess(finishedPrefix(t, compiler.GCC, c)))
		}
	}

	t.Run("direct hit", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c2")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c2", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c2"), got.Commit)
	})

	t.Run("neighbor substituted", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c2")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c3", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c2"), got.Commit)
	})

	t.Run("prefer newer between two neighbors", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c1", "c3")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c2", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c3"), got.Commit)
	})

	t.Run("oldest in range takes the newer side", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c2", "c3")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c1", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c2"), got.Commit)
	})

	t.Run("newest in range takes the older side", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c1", "c2")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c3", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c2"), got.Commit)
	})

	t.Run("bounds are excluded", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "L", "U")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c2", "L", "U", history)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("nothing built", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "c2", "L", "U", history)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("ancestor of lower bound gets oldest built", func(t *testing.T) {
		s := newTestStore(t)
		build(t, s, "c2", "c3")
		got, err := s.ClosestBuiltInRange(ctx, compiler.GCC, "ancient", "L", "U", history)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, repository.Commit("c2"), got.Commit)
	})
}
