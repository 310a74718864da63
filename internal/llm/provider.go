package llm

import (
	"context"
	"encoding/json"
)

// Provider is the core abstraction for LLM interaction.
//
// Generate covers single-turn structured output: the caller supplies a JSON
// schema and receives validated JSON back. Chat covers multi-turn tool-calling
// conversations: the caller supplies the full message history plus tool
// schemas and receives ordered content blocks and a stop reason.
type Provider interface {
	// Generate sends a prompt to the LLM and returns a structured response.
	// The request's Schema field, when set, instructs the provider to return
	// JSON conforming to that schema. The response Content will be the
	// validated JSON.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Chat sends a tool-calling conversation turn. The response carries the
	// model's content blocks in arrival order; tool-use blocks reference
	// tools declared in the request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes a single-turn structured generation.
type Request struct {
	// System is the system prompt. Sets the LLM's role and constraints.
	System string

	// Messages is the conversation history. For single-turn generation
	// this contains one user message.
	Messages []Message

	// Schema is the JSON Schema the response must conform to.
	// When set, the provider uses its native structured output mechanism.
	// When nil, the response Content is raw text as json.RawMessage.
	Schema *Schema

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int

	// Temperature controls randomness. Range: 0.0 - 1.0.
	// Default: 0.0 (deterministic) when not set.
	Temperature float64
}

// Message represents a single plain-text message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the LLM.
type Schema struct {
	// Name identifies this schema (used as tool name for Anthropic,
	// schema name for OpenAI). Kebab-case, e.g. "grade-answers".
	Name string

	// Description is a human-readable description of what this schema
	// represents. Sent to the LLM to guide generation.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the LLM's output for a Generate call.
type Response struct {
	// Content is the generated output. When a Schema was provided in the
	// request, this is the validated JSON object.
	Content json.RawMessage

	// Usage reports token consumption for this request.
	Usage Usage

	// Model is the actual model that served the request.
	Model string

	// StopReason indicates why generation stopped.
	// Normalized to: "end", "max_tokens", "error"
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// BlockType tags a content block in a chat conversation.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a chat message. Which fields are meaningful
// depends on Type: Text for text blocks; ID, Name and Input for tool-use
// blocks; ToolUseID, Content and IsError for tool-result blocks.
type ContentBlock struct {
	Type BlockType

	Text string

	ID    string
	Name  string
	Input json.RawMessage

	ToolUseID string
	Content   string
	IsError   bool
}

// ChatMessage is one turn in a tool-calling conversation.
type ChatMessage struct {
	Role   Role
	Blocks []ContentBlock
}

// TextMessage builds a single-text-block chat message.
func TextMessage(role Role, text string) ChatMessage {
	return ChatMessage{
		Role:   role,
		Blocks: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// ToolDef declares a tool the model may call during a Chat turn.
type ToolDef struct {
	// Name is unique within a request.
	Name string

	// Description is consumed by the model for tool selection.
	Description string

	// InputSchema is the JSON-schema-shaped input contract.
	InputSchema map[string]any
}

// ChatRequest describes one round-trip of a tool-calling conversation.
type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64
}

// ChatResponse holds the model's turn.
type ChatResponse struct {
	// Blocks are the response content blocks in arrival order.
	Blocks []ContentBlock

	// StopReason is normalized to: "end", "tool_use", "max_tokens".
	StopReason string

	Usage Usage
	Model string
}

// Chat stop reasons.
const (
	StopEnd       = "end"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// TextBlocks returns every non-empty text block of the response, in order.
func (r *ChatResponse) TextBlocks() []string {
	var out []string
	for _, b := range r.Blocks {
		if b.Type == BlockText && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// ToolUses returns the tool-use blocks of the response, in order.
func (r *ChatResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// schemaProperties pulls the "properties" member out of a JSON schema map.
func schemaProperties(def map[string]any) any {
	if def == nil {
		return map[string]any{}
	}
	if p, ok := def["properties"]; ok {
		return p
	}
	return map[string]any{}
}

// schemaRequired pulls the "required" member out of a JSON schema map.
func schemaRequired(def map[string]any) []string {
	if def == nil {
		return nil
	}
	req, ok := def["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(req))
	for _, r := range req {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
