package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scatterdrop.dev/internal/persistence/indexdb"
)

// openRuntimeIndex opens the session index selected by SCATTER_INDEX_BACKEND.
// A nil index means indexing is off.
func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SCATTER_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "scatter.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported SCATTER_INDEX_BACKEND=%q", backend)
	}
}
