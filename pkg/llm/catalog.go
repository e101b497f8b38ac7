package llm

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Catalog is the ordered list of models offered to teachers.
type Catalog struct {
	Models []ModelInfo `yaml:"models" json:"models"`
}

// LoadCatalog reads the catalog at path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalog
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
		raw = data
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes a YAML catalog and drops entries without an id.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	models := catalog.Models[:0]
	for _, m := range catalog.Models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}
	catalog.Models = models
	return &catalog, nil
}

// Default returns the first model id.
func (c *Catalog) Default() string {
	if c == nil || len(c.Models) == 0 {
		return ""
	}
	return c.Models[0].ID
}

// Contains reports whether id is a catalogued model.
func (c *Catalog) Contains(id string) bool {
	if c == nil {
		return false
	}
	for _, m := range c.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}
