package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/curio/internal/llm"
)

// DefaultMaxIterations bounds a run when the caller does not override it.
const DefaultMaxIterations = 15

const (
	chatRetries    = 3
	chatRetryDelay = 2 * time.Second
)

// Hooks observe a run as it happens. All hooks are optional and invoked
// synchronously from the run goroutine.
type Hooks struct {
	// OnThinking receives each text block the model emits, before any tool
	// in the same response executes.
	OnThinking func(text string)
	// OnToolCall fires just before a tool executes.
	OnToolCall func(name string, input json.RawMessage)
	// OnToolResult fires after a tool executed (or failed).
	OnToolResult func(name, result string, isError bool)
}

// ToolCallRecord is one executed tool call, in execution order.
type ToolCallRecord struct {
	Name    string
	Input   json.RawMessage
	Result  string
	IsError bool
}

// RunResult is the outcome of a run. Exhausted means the iteration budget
// ran out before the model produced a final text-only response; FinalText
// then holds the trailing text of the last assistant turn (empty when that
// turn carried only tool calls) and ToolCalls what executed so far.
type RunResult struct {
	FinalText  string
	ToolCalls  []ToolCallRecord
	Iterations int
	Exhausted  bool
}

// Engine drives a tool-calling conversation against a provider.
type Engine struct {
	provider      llm.Provider
	maxIterations int
	maxTokens     int
	temperature   float64

	// sleep is swappable so retry tests do not wait wall-clock seconds.
	sleep func(time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxTokens sets the per-call token cap.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// withSleep replaces the retry sleeper. Test hook.
func withSleep(fn func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = fn }
}

// New creates an engine with the default iteration budget.
func New(provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:      provider,
		maxIterations: DefaultMaxIterations,
		maxTokens:     4096,
		sleep:         time.Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the conversation loop: send history and tools, surface text
// blocks through hooks, execute tool calls strictly in arrival order, feed
// the batched results back as a single user turn, and repeat until the
// model answers without tools or the budget runs out.
func (e *Engine) Run(ctx context.Context, system string, messages []llm.ChatMessage, ts *Toolset, hooks Hooks) (*RunResult, error) {
	history := make([]llm.ChatMessage, len(messages))
	copy(history, messages)

	res := &RunResult{}
	var lastText string
	var turnText string

	for i := 0; i < e.maxIterations; i++ {
		res.Iterations = i + 1

		resp, err := e.chatWithRetry(ctx, llm.ChatRequest{
			System:      system,
			Messages:    history,
			Tools:       ts.Defs(),
			MaxTokens:   e.maxTokens,
			Temperature: e.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("chat iteration %d: %w", i+1, err)
		}

		texts := resp.TextBlocks()
		toolUses := resp.ToolUses()

		turnText = ""
		for _, text := range texts {
			lastText = text
			turnText = text
			if hooks.OnThinking != nil {
				hooks.OnThinking(text)
			}
		}

		if len(toolUses) == 0 {
			res.FinalText = lastText
			return res, nil
		}

		history = append(history, llm.ChatMessage{Role: llm.RoleAssistant, Blocks: resp.Blocks})

		resultBlocks := make([]llm.ContentBlock, 0, len(toolUses))
		for _, tu := range toolUses {
			if hooks.OnToolCall != nil {
				hooks.OnToolCall(tu.Name, tu.Input)
			}

			payload, isErr := e.execute(ctx, ts, tu.Name, tu.Input)

			res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
				Name:    tu.Name,
				Input:   tu.Input,
				Result:  payload,
				IsError: isErr,
			})
			if hooks.OnToolResult != nil {
				hooks.OnToolResult(tu.Name, payload, isErr)
			}
			resultBlocks = append(resultBlocks, llm.ContentBlock{
				Type:      llm.BlockToolResult,
				ToolUseID: tu.ID,
				Content:   payload,
				IsError:   isErr,
			})
		}
		history = append(history, llm.ChatMessage{Role: llm.RoleUser, Blocks: resultBlocks})
	}

	// Budget exhausted: soft failure so callers keep partial work. Only
	// the last turn's trailing text is surfaced; a tool-only final turn
	// yields an empty FinalText rather than stale text from earlier turns.
	res.FinalText = turnText
	res.Exhausted = true
	return res, nil
}

// execute runs one tool call and converts every failure mode into an error
// payload the model can read.
func (e *Engine) execute(ctx context.Context, ts *Toolset, name string, input json.RawMessage) (payload string, isError bool) {
	tool := ts.Lookup(name)
	if tool == nil {
		return errPayload(fmt.Sprintf("unknown tool: %s", name)), true
	}
	if err := ts.validateInput(tool, input); err != nil {
		return errPayload(err.Error()), true
	}
	out, err := tool.Execute(ctx, input)
	if err != nil {
		return errPayload(err.Error()), true
	}
	return out, false
}

func errPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal"}`
	}
	return string(b)
}

// chatWithRetry retries only rate-limit failures, with doubling delays
// (2s, 4s, 8s). Any other error propagates immediately.
func (e *Engine) chatWithRetry(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	delay := chatRetryDelay
	for attempt := 0; ; attempt++ {
		resp, err := e.provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}

		var rl *llm.ErrRateLimit
		if !errors.As(err, &rl) || attempt >= chatRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		e.sleep(delay)
		delay *= 2
	}
}
