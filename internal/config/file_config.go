package config

// FileConfig represents the raw config.toml file contents.
// All fields are pointers to distinguish "not set" from "set to zero/false".
type FileConfig struct {
	// Global settings
	NoColor *bool `toml:"no_color"`
	Verbose *bool `toml:"verbose"`

	// Directory layout
	StorePath  *string `toml:"store_path"`  // Built compilers live under this directory
	PatchesDir *string `toml:"patches_dir"` // Patch files and the patch database
	ReposDir   *string `toml:"repos_dir"`   // Checkouts of the compiler repositories
	LogDir     *string `toml:"logdir"`      // Per-build log files

	// Build settings
	Jobs *int  `toml:"jobs"`
	Pull *bool `toml:"pull"` // Pull the repositories before resolving revisions
}

// IsEmpty returns true if no configuration values are set.
func (f *FileConfig) IsEmpty() bool {
	return f.NoColor == nil &&
		f.Verbose == nil &&
		f.StorePath == nil &&
		f.PatchesDir == nil &&
		f.ReposDir == nil &&
		f.LogDir == nil &&
		f.Jobs == nil &&
		f.Pull == nil
}
