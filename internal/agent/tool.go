// Package agent drives multi-turn tool-calling conversations with an LLM
// provider. The engine owns the conversation protocol; callers supply the
// system prompt, the toolset and optional hooks for streaming.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/abhisek/curio/internal/llm"
)

// Tool is one capability the model may invoke. Execute returns the payload
// sent back to the model; a returned error is converted into an error
// payload rather than aborting the run.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Execute     func(ctx context.Context, input json.RawMessage) (string, error)
}

// Toolset is an ordered collection of tools with name lookup. Compiled
// input schemas are cached per toolset, so two agents declaring a
// same-named tool with different schemas never share a compilation.
type Toolset struct {
	tools   []Tool
	byName  map[string]*Tool
	schemas sync.Map // map[string]*jsonschema.Schema
}

// NewToolset builds a toolset. Later tools with duplicate names are dropped.
func NewToolset(tools ...Tool) *Toolset {
	ts := &Toolset{byName: make(map[string]*Tool, len(tools))}
	for i := range tools {
		t := tools[i]
		if _, dup := ts.byName[t.Name]; dup {
			continue
		}
		ts.tools = append(ts.tools, t)
		ts.byName[t.Name] = &ts.tools[len(ts.tools)-1]
	}
	return ts
}

// Lookup returns the tool by name, or nil.
func (ts *Toolset) Lookup(name string) *Tool {
	return ts.byName[name]
}

// Defs renders the toolset for a chat request.
func (ts *Toolset) Defs() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

// validateInput checks a tool input against the tool's declared schema.
// Tools without a schema accept anything.
func (ts *Toolset) validateInput(t *Tool, input json.RawMessage) error {
	if t.InputSchema == nil {
		return nil
	}
	compiled, err := ts.compiledToolSchema(t)
	if err != nil {
		return fmt.Errorf("compile input schema for %s: %w", t.Name, err)
	}
	var parsed any
	if err := json.Unmarshal(input, &parsed); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := compiled.Validate(parsed); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

func (ts *Toolset) compiledToolSchema(t *Tool) (*jsonschema.Schema, error) {
	if cached, ok := ts.schemas.Load(t.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	defBytes, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s.json", t.Name)
	if err := c.AddResource(url, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	ts.schemas.Store(t.Name, compiled)
	return compiled, nil
}

// ObjectSchema is a helper for the common flat object schema shape.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
