package config

import "github.com/spf13/cobra"

// ConfigSource names where an effective value came from.
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceConfigFile  ConfigSource = "config.toml"
	SourceEnvironment ConfigSource = "environment"
	SourceFlag        ConfigSource = "flag"
)

func (s ConfigSource) String() string { return string(s) }

// The Apply helpers implement the value precedence
// flag > environment > config file > default.
// A flag explicitly set on the command line always wins; config file
// values only apply when the flag was left at its default.

// ApplyStringConfig returns the effective string value and its source.
func ApplyStringConfig(cmd *cobra.Command, flagName string, currentValue string, configValue *string) (string, ConfigSource) {
	if cmd.Flags().Changed(flagName) {
		return currentValue, SourceFlag
	}
	if configValue != nil {
		return *configValue, SourceConfigFile
	}
	return currentValue, SourceDefault
}

// ApplyIntConfig returns the effective int value and its source.
func ApplyIntConfig(cmd *cobra.Command, flagName string, currentValue int, configValue *int) (int, ConfigSource) {
	if cmd.Flags().Changed(flagName) {
		return currentValue, SourceFlag
	}
	if configValue != nil {
		return *configValue, SourceConfigFile
	}
	return currentValue, SourceDefault
}

// ApplyBoolConfig returns the effective bool value and its source. The
// pointer field keeps an unset flag (false) from overriding a config
// file "true".
func ApplyBoolConfig(cmd *cobra.Command, flagName string, currentValue bool, configValue *bool) (bool, ConfigSource) {
	if cmd.Flags().Changed(flagName) {
		return currentValue, SourceFlag
	}
	if configValue != nil {
		return *configValue, SourceConfigFile
	}
	return currentValue, SourceDefault
}

// ApplyEnvString overlays an environment variable on the value computed
// so far. Env wins over the config file but not over an explicit flag.
func ApplyEnvString(cmd *cobra.Command, flagName string, currentValue string, envValue string, currentSource ConfigSource) (string, ConfigSource) {
	if cmd.Flags().Changed(flagName) {
		return currentValue, SourceFlag
	}
	if envValue != "" {
		return envValue, SourceEnvironment
	}
	return currentValue, currentSource
}
