// Package sqlitepath resolves where the SQLite graph database lives.
package sqlitepath

import (
	"os"
	"path/filepath"
	"strings"
)

const dbFile = "recall.db"

// ResolveSQLitePath picks the graph database path. Order of precedence:
//  1. Provided override
//  2. RECALL_SQLITE, then RECALL_DB
//  3. The first existing candidate file
//  4. recall.db inside fallbackDir, normally the resolved .recall/ directory
func ResolveSQLitePath(override, fallbackDir string) string {
	if override != "" {
		return override
	}

	if envPath := strings.TrimSpace(os.Getenv("RECALL_SQLITE")); envPath != "" {
		return envPath
	}
	if envPath := strings.TrimSpace(os.Getenv("RECALL_DB")); envPath != "" {
		return envPath
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return filepath.Join(fallbackDir, dbFile)
}

func sqliteCandidates() []string {
	candidates := []string{
		dbFile,
		"recall.sqlite",
		filepath.Join(".recall", dbFile),
		filepath.Join(".recall", "recall.sqlite"),
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append([]string{
			filepath.Join(home, ".recall", dbFile),
			filepath.Join(home, ".recall", "recall.sqlite"),
		}, candidates...)
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append([]string{
			filepath.Join(xdgHome, "recall", dbFile),
			filepath.Join(xdgHome, "recall", "recall.sqlite"),
		}, candidates...)
	}

	return candidates
}
