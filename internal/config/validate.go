package config

import "fmt"

// ValidateFileConfig validates the FileConfig values before merging.
// This is called when loading the config file to provide early error messages.
func ValidateFileConfig(cfg *FileConfig) error {
	if cfg == nil {
		return nil
	}

	if cfg.Jobs != nil && *cfg.Jobs < 1 {
		return fmt.Errorf("invalid jobs in config file: %d (must be at least 1)", *cfg.Jobs)
	}

	if cfg.StorePath != nil && *cfg.StorePath == "" {
		return fmt.Errorf("store_path in config file must not be empty")
	}
	if cfg.PatchesDir != nil && *cfg.PatchesDir == "" {
		return fmt.Errorf("patches_dir in config file must not be empty")
	}
	if cfg.ReposDir != nil && *cfg.ReposDir == "" {
		return fmt.Errorf("repos_dir in config file must not be empty")
	}

	return nil
}
