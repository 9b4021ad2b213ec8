package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/altuslabsxyz/ccbuilder/internal/output"
)

// ConfigLoader is responsible for loading and merging configuration.
type ConfigLoader struct {
	configDir  string
	configPath string // Explicit --config path
	logger     *output.Logger
}

// NewConfigLoader creates a new ConfigLoader. configDir is where the
// user-level config.toml lives, usually DefaultConfigDir().
func NewConfigLoader(configDir, configPath string, logger *output.Logger) *ConfigLoader {
	return &ConfigLoader{
		configDir:  configDir,
		configPath: configPath,
		logger:     logger,
	}
}

// LoadFileConfig loads and parses config files, merging them in priority order.
// Priority: explicit path > ./config.toml > <configDir>/config.toml
// All config files are merged, with higher priority values overwriting lower ones.
// Returns the merged FileConfig and the primary (highest priority) config file path.
func (l *ConfigLoader) LoadFileConfig() (*FileConfig, string, error) {
	// Collect all config files in order of increasing priority
	var configFiles []string

	// 3. User config directory (lowest priority)
	userPath := filepath.Join(l.configDir, "config.toml")
	if _, err := os.Stat(userPath); err == nil {
		configFiles = append(configFiles, userPath)
	}

	// 2. Current directory
	if _, err := os.Stat("./config.toml"); err == nil {
		if absPath, _ := filepath.Abs("./config.toml"); absPath != userPath {
			configFiles = append(configFiles, "./config.toml")
		}
	}

	// 1. Explicit path (highest priority)
	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", l.configPath)
		}
		absPath, _ := filepath.Abs(l.configPath)
		isDuplicate := false
		for _, cf := range configFiles {
			if abs, _ := filepath.Abs(cf); abs == absPath {
				isDuplicate = true
				break
			}
		}
		if !isDuplicate {
			configFiles = append(configFiles, l.configPath)
		}
	}

	if len(configFiles) == 0 {
		// No config file found - return empty config
		return &FileConfig{}, "", nil
	}

	// Load and merge all configs (later files override earlier ones)
	var merged FileConfig
	var primaryFile string
	for _, configFile := range configFiles {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		var cfg FileConfig
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}

		// Merge: only set values that are not nil in cfg
		mergeFileConfig(&merged, &cfg)
		primaryFile = configFile

		// Warn about unknown keys
		l.warnUnknownKeys(data)

		if l.logger != nil {
			l.logger.Debug("Loaded config file: %s", configFile)
		}
	}

	// Validate merged config
	if err := ValidateFileConfig(&merged); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	return &merged, primaryFile, nil
}

// mergeFileConfig merges src into dst. Non-nil values in src overwrite dst.
func mergeFileConfig(dst, src *FileConfig) {
	if src.NoColor != nil {
		dst.NoColor = src.NoColor
	}
	if src.Verbose != nil {
		dst.Verbose = src.Verbose
	}
	if src.StorePath != nil {
		dst.StorePath = src.StorePath
	}
	if src.PatchesDir != nil {
		dst.PatchesDir = src.PatchesDir
	}
	if src.ReposDir != nil {
		dst.ReposDir = src.ReposDir
	}
	if src.LogDir != nil {
		dst.LogDir = src.LogDir
	}
	if src.Jobs != nil {
		dst.Jobs = src.Jobs
	}
	if src.Pull != nil {
		dst.Pull = src.Pull
	}
}

// warnUnknownKeys checks for unknown keys in the config file and logs warnings.
func (l *ConfigLoader) warnUnknownKeys(data []byte) {
	if l.logger == nil {
		return
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return // Ignore errors here - main parsing will catch them
	}

	knownKeys := map[string]bool{
		"no_color":    true,
		"verbose":     true,
		"store_path":  true,
		"patches_dir": true,
		"repos_dir":   true,
		"logdir":      true,
		"jobs":        true,
		"pull":        true,
	}

	for key := range raw {
		if !knownKeys[key] {
			l.logger.Warn("Unknown config key: %s", key)
		}
	}
}
