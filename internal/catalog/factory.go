package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"chartbak/internal/config"
	"chartbak/internal/engine"
)

// NewCatalogFromConfig creates a Catalog based on the configuration type.
func NewCatalogFromConfig(cfg config.CatalogConfig, stateDir string) (engine.Catalog, error) {
	switch cfg.Type {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(stateDir, "catalog.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		return NewSQLiteCatalog(path)
	case "memory":
		return NewMemoryCatalog(), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %q", cfg.Type)
	}
}
