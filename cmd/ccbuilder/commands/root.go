// Package commands provides the CLI command implementations for ccbuilder.
// This file defines the root command and registers all subcommands.
package commands

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/ccbuilder/internal/config"
	"github.com/altuslabsxyz/ccbuilder/internal/output"
)

// Local variables for flag binding (Cobra requires pointers to local vars)
var (
	storePath  string
	patchesDir string
	reposDir   string
	logDir     string
	jobs       int
	pull       bool
	verbose    bool
	noColor    bool
	configPath string
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ccbuilder",
		Short: "Build and cache GCC and LLVM at arbitrary revisions",
		Long: `ccbuilder builds compiler toolchains (GCC, LLVM) from source at arbitrary
git revisions, caches the results, tracks which revisions need source
patches to build, and bisects the commit history to locate where build
failures were introduced or fixed.

Examples:
  # Build clang at a specific commit
  ccbuilder build llvm 7c93b4d4e14a

  # Build gcc at the trunk head, pulling first
  ccbuilder --pull build gcc trunk

  # Show what is in the compiler store
  ccbuilder store stats

  # Find the commit that broke a revision
  ccbuilder patch find-introducer gcc 8f3c4020

  # Find the range of commits needing a patch
  ccbuilder patch find-ranges llvm 7c93b4d4e14a --patch fix-abi.patch`,
		SilenceUsage:      true,
		PersistentPreRunE: persistentPreRunE,
	}

	cmd.PersistentFlags().StringVar(&storePath, "store-path", config.DefaultStorePath(),
		"Directory built compilers are stored under")
	cmd.PersistentFlags().StringVar(&patchesDir, "patches-dir", config.DefaultPatchesDir(),
		"Directory with patch files and the patch database")
	cmd.PersistentFlags().StringVar(&reposDir, "repos-dir", config.DefaultReposDir(),
		"Directory with the compiler repository checkouts")
	cmd.PersistentFlags().StringVar(&logDir, "logdir", "",
		"Directory for per-build log files (default: log to stdout)")
	cmd.PersistentFlags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(),
		"Number of build jobs (default: all cores)")
	cmd.PersistentFlags().BoolVar(&pull, "pull", false,
		"Pull the compiler repositories before resolving revisions")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
	cmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config.toml file")

	registerCommands(cmd)

	return cmd
}

// persistentPreRunE handles configuration loading and global state setup.
func persistentPreRunE(cmd *cobra.Command, args []string) error {
	loader := config.NewConfigLoader(config.DefaultConfigDir(), configPath, output.DefaultLogger)
	fileCfg, configFilePath, err := loader.LoadFileConfig()
	if err != nil {
		return err
	}

	// Priority: default < config.toml < env < flag
	applyConfigDefaults(cmd, fileCfg)
	applyEnvironmentOverrides(cmd)

	output.DefaultLogger.SetNoColor(noColor)
	output.DefaultLogger.SetVerbose(verbose)

	if configFilePath != "" && verbose {
		output.DefaultLogger.Debug("Using config file: %s", configFilePath)
	}

	return nil
}

// applyConfigDefaults applies config file values to global flags if not explicitly set.
func applyConfigDefaults(cmd *cobra.Command, fileCfg *config.FileConfig) {
	storePath, _ = config.ApplyStringConfig(cmd, "store-path", storePath, fileCfg.StorePath)
	patchesDir, _ = config.ApplyStringConfig(cmd, "patches-dir", patchesDir, fileCfg.PatchesDir)
	reposDir, _ = config.ApplyStringConfig(cmd, "repos-dir", reposDir, fileCfg.ReposDir)
	logDir, _ = config.ApplyStringConfig(cmd, "logdir", logDir, fileCfg.LogDir)
	jobs, _ = config.ApplyIntConfig(cmd, "jobs", jobs, fileCfg.Jobs)
	pull, _ = config.ApplyBoolConfig(cmd, "pull", pull, fileCfg.Pull)
	verbose, _ = config.ApplyBoolConfig(cmd, "verbose", verbose, fileCfg.Verbose)
	noColor, _ = config.ApplyBoolConfig(cmd, "no-color", noColor, fileCfg.NoColor)
}

// applyEnvironmentOverrides applies environment variable overrides.
func applyEnvironmentOverrides(cmd *cobra.Command) {
	storePath, _ = config.ApplyEnvString(cmd, "store-path", storePath,
		os.Getenv("CCBUILDER_STORE_PATH"), config.SourceConfigFile)
	patchesDir, _ = config.ApplyEnvString(cmd, "patches-dir", patchesDir,
		os.Getenv("CCBUILDER_PATCHES_DIR"), config.SourceConfigFile)
	reposDir, _ = config.ApplyEnvString(cmd, "repos-dir", reposDir,
		os.Getenv("CCBUILDER_REPOS_DIR"), config.SourceConfigFile)
	if os.Getenv("NO_COLOR") != "" && !cmd.Flags().Changed("no-color") {
		noColor = true
	}
}

// registerCommands registers all subcommands.
func registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		newBuildCmd(),
		newStoreCmd(),
		newPatchCmd(),
		newReleasesCmd(),
		newVersionCmd(),
	)
}
