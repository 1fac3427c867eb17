package config

import (
	"os"
	"path/filepath"
)

const appDirName = "godlp"

// GetAppDir returns the application directory.
// GODLP_HOME wins, then $XDG_CONFIG_HOME/godlp, then ~/.godlp.
func GetAppDir() string {
	if dir := os.Getenv("GODLP_HOME"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "."+appDirName)
	}
	return filepath.Join(home, "."+appDirName)
}

// GetStateDir holds the database and the pending downloads snapshot.
func GetStateDir() string {
	return filepath.Join(GetAppDir(), "state")
}

// GetLogsDir holds per-run debug logs.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetDBPath returns the path of the SQLite database.
func GetDBPath() string {
	return filepath.Join(GetStateDir(), "godlp.db")
}

// GetLockPath is the single-instance lock file.
func GetLockPath() string {
	return filepath.Join(GetAppDir(), "godlp.lock")
}

// EnsureDirs creates all application directories.
func EnsureDirs() error {
	for _, dir := range []string{GetAppDir(), GetStateDir(), GetLogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
