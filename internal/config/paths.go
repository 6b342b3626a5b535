package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppDirName is the directory created under the user config dir for device-local state
const AppDirName = "licensegate"

// UserDataDir returns the per-user directory holding the license cache and device fingerprint.
// It falls back to a directory next to the executable when no user config dir exists.
func UserDataDir() (string, error) {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppDirName), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "data"), nil
}

// EnsureDir creates dir with owner-only permissions if it does not exist
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
