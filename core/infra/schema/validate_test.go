package schema

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

const seedLike = `{
  "type": "object",
  "required": ["categories"],
  "properties": {
    "categories": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string", "minLength": 1}, "order": {"type": "integer"}}
      }
    }
  }
}`

func TestCompileAndValidate(t *testing.T) {
	s, err := Compile("seed file", []byte(seedLike))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if s.ID() != "seed file" {
		t.Fatalf("unexpected id %q", s.ID())
	}
	ok := map[string]any{"categories": []any{map[string]any{"name": "rest_api", "order": 1}}}
	if err := s.Validate(ok); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
	bad := map[string]any{"categories": []any{map[string]any{"name": ""}}}
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := s.Validate(map[string]any{}); err == nil || !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected missing categories rejected, got %v", err)
	}
}

func TestValidateSchema(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	if err := ValidateSchema("test", schema, map[string]any{"name": "ok"}); err != nil {
		t.Fatalf("expected valid schema: %v", err)
	}
	if err := ValidateSchema("test", schema, map[string]any{"nope": "bad"}); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestNormalizeValue(t *testing.T) {
	val, err := normalizeValue(json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("normalize raw: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected normalized value")
	}
	val, err = normalizeValue(map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("normalize map: %v", err)
	}
	if n, ok := val.(map[string]any)["n"].(float64); !ok || n != 3 {
		t.Fatalf("expected numbers in JSON form, got %#v", val)
	}
	if _, err := normalizeValue([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCompileEmpty(t *testing.T) {
	if _, err := Compile("test", nil); err == nil {
		t.Fatalf("expected error for empty schema")
	}
	if err := ValidateSchema("test", []byte("  "), nil); err == nil {
		t.Fatalf("expected error for blank schema")
	}
}
