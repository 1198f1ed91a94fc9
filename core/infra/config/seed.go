package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// SeedCategory is one default category shipped with the service.
type SeedCategory struct {
	Name              string                    `yaml:"name"`
	Description       string                    `yaml:"description,omitempty"`
	DisplayName       string                    `yaml:"displayName,omitempty"`
	KeepOriginalItems bool                      `yaml:"keepOriginalItems,omitempty"`
	Children          []string                  `yaml:"children,omitempty"`
	Items             map[string]map[string]any `yaml:"items"`
}

// Seed lists the categories created at start and on seed file changes.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
}

// ParseSeed parses seed data from YAML/JSON bytes. Scalar item attributes
// are turned into the strings the item grammar expects.
func ParseSeed(data []byte) (*Seed, error) {
	if len(data) == 0 {
		return nil, errors.New("seed is empty")
	}
	if err := validateConfigSchema("seed", seedSchemaFile, data); err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	seen := make(map[string]struct{}, len(seed.Categories))
	for i := range seed.Categories {
		cat := &seed.Categories[i]
		if _, dup := seen[cat.Name]; dup {
			return nil, fmt.Errorf("seed category %s declared twice", cat.Name)
		}
		seen[cat.Name] = struct{}{}
		for itemName, def := range cat.Items {
			normalized, err := normalizeItem(def)
			if err != nil {
				return nil, fmt.Errorf("seed category %s item %s: %w", cat.Name, itemName, err)
			}
			cat.Items[itemName] = normalized
		}
	}
	return &seed, nil
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return nil, errors.New("seed path is empty")
	}
	// #nosec G304 -- seed path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	return seed, nil
}

// Value returns the category value in the form CreateCategory takes.
func (c SeedCategory) Value() map[string]any {
	out := make(map[string]any, len(c.Items))
	for name, def := range c.Items {
		item := make(map[string]any, len(def))
		for k, v := range def {
			item[k] = v
		}
		out[name] = item
	}
	return out
}

func normalizeItem(def map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(def))
	for attr, raw := range def {
		switch v := raw.(type) {
		case int:
			out[attr] = strconv.Itoa(v)
		case int64:
			out[attr] = strconv.FormatInt(v, 10)
		case float64:
			out[attr] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[attr] = strconv.FormatBool(v)
		case []any:
			if attr != "default" && attr != "value" {
				out[attr] = v
				continue
			}
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", attr, err)
			}
			out[attr] = string(encoded)
		default:
			out[attr] = v
		}
	}
	return out, nil
}
