package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ScanDirectory walks a directory of install prefixes and returns every
// entry recognized by the "{projectprefix}-{commit}" naming convention that
// carries a success marker. Symlinks are skipped so aliased prefixes are
// not registered twice.
func ScanDirectory(ctx context.Context, dir string) ([]BuiltCompilerInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var (
		mu    sync.Mutex
		found []BuiltCompilerInfo
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink != 0 || !entry.IsDir() {
			continue
		}
		project, commit, ok := ParseInstallDirName(entry.Name())
		if !ok {
			continue
		}
		prefix := filepath.Join(dir, entry.Name())
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := os.Stat(filepath.Join(prefix, SuccessMarker)); err != nil {
				return nil
			}
			abs, err := filepath.Abs(prefix)
			if err != nil {
				return err
			}
			mu.Lock()
			found = append(found, BuiltCompilerInfo{Project: project, Prefix: abs, Commit: commit})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// Reconcile scans dir and bulk-registers every recognized built compiler,
// rebuilding the store's index after external changes. Entries already
// registered equally are left alone.
func (s *CompilerStore) Reconcile(ctx context.Context, dir string) (int, error) {
	found, err := ScanDirectory(ctx, dir)
	if err != nil {
		return 0, err
	}
	for _, info := range found {
		if err := s.RecordSuccess(info); err != nil {
			return 0, fmt.Errorf("failed to register %s: %w", info.Prefix, err)
		}
	}
	return len(found), nil
}
