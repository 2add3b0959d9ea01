package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the rootcause home directory.
const HomeEnv = "ROOTCAUSE_HOME"

// GetRootcauseHome returns the rootcause home directory
// Priority order:
//  1. ROOTCAUSE_HOME environment variable (if set)
//  2. .rootcause under the nearest ancestor holding a .rootcause-root marker
//  3. .rootcause under the current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetRootcauseHome() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create rootcause home directory: %w", err)
		}
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	base := cwd
	if root, ok := findMarkedRoot(cwd); ok {
		base = root
	}

	home := filepath.Join(base, ".rootcause")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create rootcause home directory: %w", err)
	}
	return home, nil
}

// findMarkedRoot walks up from dir looking for a .rootcause-root marker file
func findMarkedRoot(dir string) (string, bool) {
	current := dir
	for {
		if _, err := os.Stat(filepath.Join(current, ".rootcause-root")); err == nil {
			return current, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// GetLearningDBPath returns the path to the learning database
// Always returns: $ROOTCAUSE_HOME/learning/rootcause.db
func GetLearningDBPath() (string, error) {
	home, err := GetRootcauseHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "learning", "rootcause.db"), nil
}

// GetLogDir returns the log directory under the rootcause home
func GetLogDir() (string, error) {
	home, err := GetRootcauseHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "logs"), nil
}

// ResolvePaths rewrites relative db_path and log_dir defaults to live under the
// rootcause home when ROOTCAUSE_HOME is set. Explicit absolute paths are kept.
func (c *Config) ResolvePaths() error {
	if os.Getenv(HomeEnv) == "" {
		return nil
	}
	defaults := DefaultConfig()
	if c.Learning.DBPath == defaults.Learning.DBPath {
		p, err := GetLearningDBPath()
		if err != nil {
			return err
		}
		c.Learning.DBPath = p
	}
	if c.LogDir == defaults.LogDir {
		p, err := GetLogDir()
		if err != nil {
			return err
		}
		c.LogDir = p
	}
	return nil
}
