package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ErrInvalidCatalog is returned when an imported catalog lacks required sections.
var ErrInvalidCatalog = errors.New("invalid rule catalog")

// ExportCatalog serializes c as "json" or "yaml".
func ExportCatalog(c *Catalog, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}
		return data, nil
	case "yaml", "yml":
		data, err := yaml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", format)
	}
}

// ImportCatalog parses a catalog and layers it over the defaults: sections
// present in data replace the built-in ones.
func ImportCatalog(data []byte, format string) (*Catalog, error) {
	var imported Catalog
	switch strings.ToLower(format) {
	case "", "json":
		if err := json.Unmarshal(data, &imported); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &imported); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", format)
	}

	if err := validateImported(&imported); err != nil {
		return nil, err
	}

	merged := DefaultCatalog()
	merged.Frameworks = imported.Frameworks
	merged.Tiers = imported.Tiers
	merged.Strategies = imported.Strategies
	if len(imported.Contexts) > 0 {
		merged.Contexts = imported.Contexts
	}
	if len(imported.Levels) > 0 {
		merged.Levels = imported.Levels
	}
	if len(imported.Tokens) > 0 {
		merged.Tokens = imported.Tokens
	}
	if len(imported.IdentifierTargets) > 0 {
		merged.IdentifierTargets = imported.IdentifierTargets
	}
	return merged, nil
}

// LoadCatalogFile imports a catalog from disk, picking the format from the extension.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ImportCatalog(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

func validateImported(c *Catalog) error {
	var missing []string
	if len(c.Frameworks) == 0 {
		missing = append(missing, "complianceFrameworks")
	}
	if len(c.Tiers) == 0 {
		missing = append(missing, "dataClassification")
	}
	if len(c.Strategies) == 0 {
		missing = append(missing, "strategies")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidCatalog, strings.Join(missing, ", "))
	}

	for name, tier := range c.Tiers {
		for _, s := range tier.AllowedStrategies {
			if _, ok := c.Strategies[s]; !ok {
				return fmt.Errorf("%w: tier %s allows undefined strategy %s", ErrInvalidCatalog, name, s)
			}
		}
	}
	return nil
}
