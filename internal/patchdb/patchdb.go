// Package patchdb tracks which source patches are required for which
// commits, along with patch combinations known to fail and revisions
// needing manual intervention.
//
// The database is a single JSON document. Every mutation rewrites it
// synchronously before returning: concurrent engine processes rely on
// read-after-write visibility, not on in-memory caching.
package patchdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/altuslabsxyz/ccbuilder/internal/output"
	"github.com/altuslabsxyz/ccbuilder/internal/repository"
	"github.com/altuslabsxyz/ccbuilder/pkg/compiler"
)

// document is the on-disk layout of the database.
type document struct {
	// Patches maps a patch basename to the commits known to require it.
	// Patches are keyed by basename, not path, so the database is host
	// independent.
	Patches map[string][]string `json:"patches"`
	// Bad maps project -> commit -> patch combinations known to fail to
	// build the commit even when applied.
	Bad map[string]map[string][][]string `json:"bad"`
	// Manual lists "project revision" pairs that failed both patched and
	// unpatched builds.
	Manual []string `json:"manual"`
}

// PatchDB is the persistent patch database backed by a JSON file. Patch
// paths resolve against the database file's directory.
type PatchDB struct {
	path   string
	dir    string
	logger *output.Logger

	mu  sync.Mutex
	doc document
}

// DefaultFile returns the database path under a patches directory.
func DefaultFile(patchesDir string) string {
	return filepath.Join(patchesDir, "patchdb.json")
}

// Load opens the database at path, creating an empty one if the file does
// not exist.
func Load(path string, logger *output.Logger) (*PatchDB, error) {
	if logger == nil {
		logger = output.DefaultLogger
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	db := &PatchDB{path: abs, dir: filepath.Dir(abs), logger: logger}

	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		db.doc = document{}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patch database: %w", err)
	}
	if err := json.Unmarshal(data, &db.doc); err != nil {
		return nil, fmt.Errorf("failed to parse patch database: %w", err)
	}
	return db, nil
}

// persist durably rewrites the backing file. Must be called with the lock
// held.
func (db *PatchDB) persist() error {
	data, err := json.MarshalIndent(&db.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode patch database: %w", err)
	}
	if err := os.MkdirAll(db.dir, 0755); err != nil {
		return fmt.Errorf("failed to create patch directory: %w", err)
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write patch database: %w", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return fmt.Errorf("failed to replace patch database: %w", err)
	}
	return nil
}

// comboKey canonicalizes a patch combination: sorted basenames, joined.
// Order independent by construction.
func comboKey(patches []string) string {
	names := basenames(patches)
	sort.Strings(names)
	return strings.Join(names, "\n")
}

func basenames(patches []string) []string {
	names := make([]string, 0, len(patches))
	for _, p := range patches {
		names = append(names, filepath.Base(p))
	}
	return names
}

// RequiredPatches returns the full paths of all patches whose recorded
// commit set contains commit, ordered by basename.
func (db *PatchDB) RequiredPatches(commit repository.Commit) []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	var names []string
	for name, commits := range db.doc.Patches {
		for _, c := range commits {
			if repository.Commit(c) == commit {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)

	patches := make([]string, 0, len(names))
	for _, name := range names {
		patches = append(patches, filepath.Join(db.dir, name))
	}
	return patches
}

// Save appends commits to the patch's recorded commit set (set union,
// never overwrite) and rewrites the database.
func (db *PatchDB) Save(patch string, commits []repository.Commit) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	name := filepath.Base(patch)
	db.logger.Debug("Saving patch database entry for %s: %d commits", name, len(commits))

	if db.doc.Patches == nil {
		db.doc.Patches = make(map[string][]string)
	}
	existing := make(map[string]bool, len(db.doc.Patches[name]))
	for _, c := range db.doc.Patches[name] {
		existing[c] = true
	}
	for _, c := range commits {
		if !existing[string(c)] {
			db.doc.Patches[name] = append(db.doc.Patches[name], string(c))
			existing[string(c)] = true
		}
	}
	return db.persist()
}

// RequiresThisPatch reports whether the patch's recorded commit set
// contains commit.
func (db *PatchDB) RequiresThisPatch(commit repository.Commit, patch string) bool {
	return db.RequiresAllThesePatches(commit, []string{patch})
}

// RequiresAllThesePatches reports whether every given patch's recorded
// commit set contains commit. Used to skip redundant rebuilding when the
// database already has the answer.
func (db *PatchDB) RequiresAllThesePatches(commit repository.Commit, patches []string) bool {
	if len(patches) == 0 {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, name := range basenames(patches) {
		commits, ok := db.doc.Patches[name]
		if !ok {
			return false
		}
		found := false
		for _, c := range commits {
			if repository.Commit(c) == commit {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsKnownBad reports whether this exact combination of patches was
// previously recorded as failing to build commit even when applied.
func (db *PatchDB) IsKnownBad(patches []string, project compiler.Project, commit repository.Commit) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	combos := db.doc.Bad[project.String()][string(commit)]
	if len(combos) == 0 {
		return false
	}
	key := comboKey(patches)
	for _, combo := range combos {
		if comboKey(combo) == key {
			return true
		}
	}
	return false
}

// SaveBad records a known-bad patch combination for commit.
func (db *PatchDB) SaveBad(patches []string, project compiler.Project, commit repository.Commit) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.logger.Debug("Saving bad combination: %s %s %v", project, commit, basenames(patches))
	if db.doc.Bad == nil {
		db.doc.Bad = make(map[string]map[string][][]string)
	}
	if db.doc.Bad[project.String()] == nil {
		db.doc.Bad[project.String()] = make(map[string][][]string)
	}
	db.doc.Bad[project.String()][string(commit)] = append(
		db.doc.Bad[project.String()][string(commit)], basenames(patches))
	return db.persist()
}

// ClearBad retracts a known-bad combination.
func (db *PatchDB) ClearBad(patches []string, project compiler.Project, commit repository.Commit) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	combos := db.doc.Bad[project.String()][string(commit)]
	if len(combos) == 0 {
		return nil
	}
	key := comboKey(patches)
	kept := combos[:0]
	for _, combo := range combos {
		if comboKey(combo) != key {
			kept = append(kept, combo)
		}
	}
	db.doc.Bad[project.String()][string(commit)] = kept
	return db.persist()
}

// ManualInterventionRequired flags a revision that fails both patched and
// unpatched builds. This is an expected terminal classification, recorded
// as data rather than surfaced as an error.
func (db *PatchDB) ManualInterventionRequired(project compiler.Project, rev repository.Revision) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	entry := project.String() + " " + string(rev)
	for _, m := range db.doc.Manual {
		if m == entry {
			return nil
		}
	}
	db.doc.Manual = append(db.doc.Manual, entry)
	return db.persist()
}

// InManual reports whether a revision was flagged for manual intervention.
func (db *PatchDB) InManual(project compiler.Project, rev repository.Revision) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	entry := project.String() + " " + string(rev)
	for _, m := range db.doc.Manual {
		if m == entry {
			return true
		}
	}
	return false
}
