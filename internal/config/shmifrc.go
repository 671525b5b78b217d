package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const shmifrcFile = ".shmifrc"

// FindShmifrc walks up from startDir looking for a .shmifrc file.
// Returns the path to the file if found, or empty string and nil if not found.
func FindShmifrc(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		candidate := filepath.Join(dir, shmifrcFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return "", nil
		}
		dir = parent
	}
}

// ReadShmifrc reads the connection-point name from a .shmifrc file.
// The file is expected to contain just the name (optionally with whitespace).
func ReadShmifrc(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading .shmifrc: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf(".shmifrc is empty: %s", path)
	}
	return name, nil
}

// WriteShmifrc writes a connection-point name to a .shmifrc file in the
// given directory, pinning that directory tree to a particular connpoint
// the way .dhgrc pins a Deephaven version in the teacher CLI.
func WriteShmifrc(dir, name string) error {
	path := filepath.Join(dir, shmifrcFile)
	return os.WriteFile(path, []byte(name+"\n"), 0o644)
}
