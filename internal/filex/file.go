// Package filex contains small filesystem helpers for locating the client's
// on-disk state.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory that will hold path (for example the
// local SQLite file) and returns path unchanged. In-memory DSNs and bare file
// names in the working directory need no directory and are returned as is.
func EnsureParentDir(path string) (string, error) {
	if path == "" || path == ":memory:" || filepath.Dir(path) == "." {
		return path, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return path, nil
}

// DefaultDataDir returns the per-user directory for client state, falling
// back to the working directory when no user config dir is known.
func DefaultDataDir(app string) string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return "."
	}
	return filepath.Join(base, app)
}
