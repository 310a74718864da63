package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

var personSchema = &Schema{
	Name: "person-test",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer", "minimum": 0},
		},
		"required":             []string{"name"},
		"additionalProperties": false,
	},
}

func TestValidateResponseAccepts(t *testing.T) {
	raw := json.RawMessage(`{"name":"Ada","age":36}`)
	if err := validateResponse(personSchema, raw); err != nil {
		t.Fatalf("validateResponse() error = %v", err)
	}
}

func TestValidateResponseNilSchema(t *testing.T) {
	if err := validateResponse(nil, json.RawMessage(`not even json`)); err != nil {
		t.Fatalf("nil schema should accept anything, got %v", err)
	}
}

func TestValidateResponseRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed JSON", `{"name":`},
		{"missing required", `{"age":3}`},
		{"wrong type", `{"name":"Ada","age":"old"}`},
		{"extra property", `{"name":"Ada","pet":"cat"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateResponse(personSchema, json.RawMessage(tc.raw))
			var inv *ErrInvalidResponse
			if !errors.As(err, &inv) {
				t.Fatalf("error = %v, want ErrInvalidResponse", err)
			}
			if string(inv.Content) != tc.raw {
				t.Errorf("Content = %s, want original payload", inv.Content)
			}
		})
	}
}

func TestValidateResponseCachesCompiledSchema(t *testing.T) {
	s := &Schema{
		Name:       "cache-test",
		Definition: map[string]any{"type": "object"},
	}
	if err := validateResponse(s, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("first validation: %v", err)
	}
	if _, ok := schemaCache.Load("cache-test"); !ok {
		t.Fatal("compiled schema not cached")
	}
	if err := validateResponse(s, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("cached validation: %v", err)
	}
}
