package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir ensures the .orchestrator directory exists at the given base
// path, creating it if needed. If basePath is empty or ".", it creates
// ./.orchestrator. Otherwise it creates {basePath}/.orchestrator.
//
// Used to anchor the default sqlite checkpoint database and any
// file-backed namespace fallback.
func EnsureDataDir(basePath string) (string, error) {
	var dir string
	if basePath == "" || basePath == "." {
		dir = ".orchestrator"
	} else {
		dir = filepath.Join(basePath, ".orchestrator")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", dir, err)
	}

	return dir, nil
}
