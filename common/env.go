// Package common provides environment settings shared by the warpreq CLI
// and its configuration loader.
package common

import (
	"os"
	"path/filepath"
)

// Environment variable names for configuration.
const (
	// ConfigEnv names the YAML configuration file.
	ConfigEnv = "WARPREQ_CONFIG"

	// ConfigDirEnv overrides the directory holding warpreq state.
	ConfigDirEnv = "WARPREQ_CONFIG_DIR"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "WARPREQ_DEBUG"
)

// DebugMode returns true if WARPREQ_DEBUG=1.
func DebugMode() bool {
	return os.Getenv(DebugEnv) == "1"
}

// ConfigDir returns the directory for warpreq state such as the history
// database. It honours WARPREQ_CONFIG_DIR, then the user config directory,
// then the temp directory.
func ConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "warpreq")
}
