package config

import (
	"os"
	"path/filepath"
)

func cacheHome() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cache")
}

// DefaultStorePath is where built compilers are kept.
func DefaultStorePath() string {
	return filepath.Join(cacheHome(), "ccbuilder-compilers")
}

// DefaultPatchesDir is where patch files and the patch database live.
func DefaultPatchesDir() string {
	return filepath.Join(cacheHome(), "ccbuilder-patches")
}

// DefaultReposDir is where the compiler repositories are checked out.
func DefaultReposDir() string {
	return filepath.Join(cacheHome(), "ccbuilder-repos")
}

// DefaultConfigDir holds the user-level config.toml.
func DefaultConfigDir() string {
	return filepath.Join(cacheHome(), "ccbuilder")
}
