package warren

import (
	"os"
	"path/filepath"
)

// Home returns the Warren home directory.
// It defaults to ~/.warren but can be overridden with the WARREN_HOME
// environment variable.
func Home() string {
	if v := os.Getenv("WARREN_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".warren")
}

// SessionsPath returns the default session store directory.
func SessionsPath() string {
	return filepath.Join(Home(), "sessions")
}

// WorkspacePath returns the default shared workspace directory agents
// read and write under by default.
func WorkspacePath() string {
	return filepath.Join(Home(), "workspace")
}

// DefaultDBPath returns the default SQLite dashboard database path.
func DefaultDBPath() string {
	return filepath.Join(Home(), "warren.db")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// EnsureHome creates the Warren home, session and workspace directories if
// they don't exist.
func EnsureHome() error {
	if err := os.MkdirAll(SessionsPath(), 0o700); err != nil {
		return err
	}
	return os.MkdirAll(WorkspacePath(), 0o755)
}
