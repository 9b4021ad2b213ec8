// Package store persists metadata about built and failed compiler builds
// and answers nearest-built-compiler queries used to steer bisection.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// Bucket names
var (
	bucketBuilt  = []byte("built")
	bucketFailed = []byte("failed")
)

// CompilerStore is the durable record of built and failed compiler builds.
// A (project, commit) pair is never in both relations: registering a
// success clears any prior failure record in the same transaction.
type CompilerStore struct {
	db     *bolt.DB
	logger *output.Logger
}

// DefaultStoreFile returns the store database path under a store prefix,
// "<prefix>/compiler_store/compilerstore.db".
func DefaultStoreFile(storePrefix string) string {
	return filepath.Join(storePrefix, "compiler_store", "compilerstore.db")
}

// Open opens (creating if needed) the compiler store database at path.
func Open(path string, logger *output.Logger) (*CompilerStore, error) {
	if logger == nil {
		logger = output.DefaultLogger
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 60 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open compiler store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBuilt, bucketFailed} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &CompilerStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *CompilerStore) Close() error {
	return s.db.Close()
}

func storeKey(project compiler.Project, commit repository.Commit) []byte {
	return []byte(project.String() + "/" + string(commit))
}

func parseStoreKey(key []byte) (compiler.Project, repository.Commit, bool) {
	name, commit, found := strings.Cut(string(key), "/")
	if !found {
		return 0, "", false
	}
	project, err := compiler.ParseProject(name)
	if err != nil {
		return 0, "", false
	}
	return project, repository.Commit(commit), true
}

// Built returns the record of a successfully built compiler, or nil if
// there is none. An entry whose install prefix lost its success marker is
// treated as stale: it is evicted and nil is returned.
func (s *CompilerStore) Built(project compiler.Project, commit repository.Commit) (*BuiltCompilerInfo, error) {
	var info *BuiltCompilerInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBuilt).Get(storeKey(project, commit))
		if data == nil {
			return nil
		}
		info = &BuiltCompilerInfo{}
		return json.Unmarshal(data, info)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read store entry: %w", err)
	}
	if info == nil {
		return nil, nil
	}

	if _, err := os.Stat(filepath.Join(info.Prefix, SuccessMarker)); err != nil {
		s.logger.Warn("%s has no success marker but was found in the compiler store, removing it", info.Prefix)
		if err := s.RemoveBuilt(project, commit); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return info, nil
}

// HasFailed reports whether a build of this (project, commit) pair was
// previously recorded as failed.
func (s *CompilerStore) HasFailed(project compiler.Project, commit repository.Commit) (bool, error) {
	var failed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		failed = tx.Bucket(bucketFailed).Get(storeKey(project, commit)) != nil
		return nil
	})
	return failed, err
}

// RecordSuccess registers a successfully built compiler. It is idempotent
// for equal entries; a different entry under the same key is a consistency
// violation and returns a ConflictError. Any failure record for the key is
// cleared in the same transaction.
func (s *CompilerStore) RecordSuccess(info BuiltCompilerInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := storeKey(info.Project, info.Commit)
		built := tx.Bucket(bucketBuilt)

		if existing := built.Get(key); existing != nil {
			var old BuiltCompilerInfo
			if err := json.Unmarshal(existing, &old); err != nil {
				return fmt.Errorf("failed to decode existing store entry: %w", err)
			}
			if old != info {
				return &ConflictError{
					Project: info.Project,
					Commit:  info.Commit,
					Message: fmt.Sprintf("already registered with prefix %s, refusing to overwrite with %s", old.Prefix, info.Prefix),
				}
			}
		} else {
			data, err := json.Marshal(info)
			if err != nil {
				return fmt.Errorf("failed to encode store entry: %w", err)
			}
			if err := built.Put(key, data); err != nil {
				return fmt.Errorf("failed to store entry: %w", err)
			}
		}

		// Success supersedes any earlier failure record.
		return tx.Bucket(bucketFailed).Delete(key)
	})
}

// RecordFailure records that a build of (project, commit) failed.
// Idempotent.
func (s *CompilerStore) RecordFailure(project compiler.Project, commit repository.Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).Put(storeKey(project, commit), []byte{1})
	})
}

// RemoveBuilt removes a built-compiler record. Removing an absent record is
// not an error.
func (s *CompilerStore) RemoveBuilt(project compiler.Project, commit repository.Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilt).Delete(storeKey(project, commit))
	})
}

// RemoveFailure removes a failure record.
func (s *CompilerStore) RemoveFailure(project compiler.Project, commit repository.Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).Delete(storeKey(project, commit))
	})
}

// ClearFailures deletes the entire failure history.
func (s *CompilerStore) ClearFailures() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketFailed); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketFailed)
		return err
	})
}

// FailedBuilds lists all recorded build failures.
func (s *CompilerStore) FailedBuilds() ([]FailedBuild, error) {
	var failed []FailedBuild
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).ForEach(func(k, _ []byte) error {
			project, commit, ok := parseStoreKey(k)
			if ok {
				failed = append(failed, FailedBuild{Project: project, Commit: commit})
			}
			return nil
		})
	})
	return failed, err
}

// BuiltCommits lists the commits with a built compiler for the project.
func (s *CompilerStore) BuiltCommits(project compiler.Project) ([]repository.Commit, error) {
	var commits []repository.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilt).ForEach(func(k, _ []byte) error {
			if p, commit, ok := parseStoreKey(k); ok && p == project {
				commits = append(commits, commit)
			}
			return nil
		})
	})
	return commits, err
}

// Stats reports the number of built compilers per project.
func (s *CompilerStore) Stats() (map[compiler.Project]int, error) {
	stats := make(map[compiler.Project]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilt).ForEach(func(k, _ []byte) error {
			if project, _, ok := parseStoreKey(k); ok {
				stats[project]++
			}
			return nil
		})
	})
	return stats, err
}
