// Package catalog loads configured catalogs describing the streams of a sync run.
package catalog

import (
	"bytes"
	"fmt"
	"os"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Load reads a configured catalog from a JSON or YAML file
func Load(path string) (*domain.ConfiguredCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes a configured catalog. JSON documents are valid YAML, so both go
// through the YAML decoder. Unknown fields (json_schema, supported_sync_modes, ...)
// are ignored.
func Parse(data []byte) (*domain.ConfiguredCatalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &domain.ConfiguredCatalog{}, nil
	}

	var catalog domain.ConfiguredCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Streams returns the catalog's streams, or nil for a nil catalog
func Streams(catalog *domain.ConfiguredCatalog) []domain.ConfiguredStream {
	if catalog == nil {
		return nil
	}
	return catalog.Streams
}
