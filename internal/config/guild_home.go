package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GuildHome returns the guild state directory for the current workspace.
// Priority order:
//  1. GUILD_HOME environment variable (if set)
//  2. Nearest ancestor directory containing .guild (workspace root)
//  3. .guild under the current working directory (created on demand)
func GuildHome() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return guildHomeFrom(cwd)
}

// guildHomeFrom resolves the state directory for a run started in dir.
func guildHomeFrom(dir string) (string, error) {
	if home := os.Getenv("GUILD_HOME"); home != "" {
		return home, nil
	}

	if root, ok := findWorkspaceRoot(dir); ok {
		return filepath.Join(root, ".guild"), nil
	}

	home := filepath.Join(dir, ".guild")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create guild home directory: %w", err)
	}
	return home, nil
}

// ResolvePath resolves a configured state path against the guild home.
// Absolute paths pass through untouched.
func ResolvePath(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

// findWorkspaceRoot walks up from dir looking for an existing .guild
// directory, so nested invocations share one workspace state.
func findWorkspaceRoot(dir string) (string, bool) {
	current := dir
	for {
		info, err := os.Stat(filepath.Join(current, ".guild"))
		if err == nil && info.IsDir() {
			return current, true
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root
			return "", false
		}
		current = parent
	}
}
