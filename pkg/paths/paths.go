package paths

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the user's config directory for agentcall.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory.
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".agentcall-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "agentcall"))
}

// GetDataDir returns the user's data directory for agentcall: the state
// database, the keyring vault and logs.
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".agentcall"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".agentcall"))
}

// GetHomeDir returns the user's home directory.
//
// Returns an empty string if the home directory cannot be determined.
func GetHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Clean(homeDir)
}
