package agent

import (
	"context"
	"encoding/json"
	"testing"
)

func nopExecute(_ context.Context, _ json.RawMessage) (string, error) {
	return "{}", nil
}

func TestNewToolsetDropsDuplicateNames(t *testing.T) {
	ts := NewToolset(
		Tool{Name: "save", Description: "first", Execute: nopExecute},
		Tool{Name: "save", Description: "second", Execute: nopExecute},
	)
	if got := ts.Lookup("save"); got == nil || got.Description != "first" {
		t.Fatalf("Lookup(save) = %+v, want the first registration", got)
	}
	if defs := ts.Defs(); len(defs) != 1 {
		t.Errorf("Defs() = %d tools, want 1", len(defs))
	}
}

func TestValidateInputNilSchemaAcceptsAnything(t *testing.T) {
	ts := NewToolset(Tool{Name: "free", Execute: nopExecute})
	if err := ts.validateInput(ts.Lookup("free"), json.RawMessage(`{"whatever":1}`)); err != nil {
		t.Fatalf("validateInput() = %v", err)
	}
}

func TestSchemaCacheIsPerToolset(t *testing.T) {
	// Two toolsets declare the same tool name with incompatible schemas.
	// Each must validate against its own declaration, whichever compiled
	// first.
	wantsTitle := NewToolset(Tool{
		Name:        "save",
		InputSchema: ObjectSchema(map[string]any{"title": map[string]any{"type": "string"}}, "title"),
		Execute:     nopExecute,
	})
	wantsScore := NewToolset(Tool{
		Name:        "save",
		InputSchema: ObjectSchema(map[string]any{"score": map[string]any{"type": "number"}}, "score"),
		Execute:     nopExecute,
	})

	titleInput := json.RawMessage(`{"title":"Limits"}`)
	scoreInput := json.RawMessage(`{"score":0.7}`)

	// Warm the first toolset's cache, then exercise both in both directions.
	if err := wantsTitle.validateInput(wantsTitle.Lookup("save"), titleInput); err != nil {
		t.Fatalf("title toolset rejected its own input: %v", err)
	}
	if err := wantsScore.validateInput(wantsScore.Lookup("save"), scoreInput); err != nil {
		t.Fatalf("score toolset rejected its own input: %v", err)
	}
	if err := wantsTitle.validateInput(wantsTitle.Lookup("save"), scoreInput); err == nil {
		t.Error("title toolset accepted score-shaped input")
	}
	if err := wantsScore.validateInput(wantsScore.Lookup("save"), titleInput); err == nil {
		t.Error("score toolset accepted title-shaped input")
	}
}
