package config

import (
	"fmt"
	"sync"

	configschema "github.com/cordum/edgeconf/core/infra/schema"
	"gopkg.in/yaml.v3"
)

// compiled schemas by embedded file name.
var schemaCache sync.Map

func compiledSchema(name, schemaPath string) (*configschema.Schema, error) {
	if s, ok := schemaCache.Load(schemaPath); ok {
		return s.(*configschema.Schema), nil
	}
	raw, err := configSchemaFS.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("load %s schema: %w", name, err)
	}
	s, err := configschema.Compile(name, raw)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	actual, _ := schemaCache.LoadOrStore(schemaPath, s)
	return actual.(*configschema.Schema), nil
}

// validateConfigSchema checks YAML or JSON data against an embedded schema.
func validateConfigSchema(name, schemaPath string, data []byte) error {
	s, err := compiledSchema(name, schemaPath)
	if err != nil {
		return err
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return nil
}
