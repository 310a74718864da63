package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/abhisek/curio/internal/llm"
)

func textBlock(s string) llm.ContentBlock {
	return llm.ContentBlock{Type: llm.BlockText, Text: s}
}

func toolUseBlock(id, name, input string) llm.ContentBlock {
	return llm.ContentBlock{Type: llm.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)}
}

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its input",
		Execute: func(_ context.Context, input json.RawMessage) (string, error) {
			return string(input), nil
		},
	}
}

func TestRunTerminatesOnTextOnlyResponse(t *testing.T) {
	mock := &llm.MockProvider{}
	// Two tool rounds, then a final text-only turn.
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		textBlock("planning"),
		toolUseBlock("t1", "echo", `{"n":1}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t2", "echo", `{"n":2}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		textBlock("all done"),
	}})

	e := New(mock)
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Exhausted {
		t.Error("run should not be exhausted")
	}
	if res.FinalText != "all done" {
		t.Errorf("final text = %q, want %q", res.FinalText, "all done")
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(res.ToolCalls))
	}
	if mock.ChatCallCount() != 3 {
		t.Errorf("chat calls = %d, want 3", mock.ChatCallCount())
	}
}

func TestRunBatchesToolResultsAsSingleUserTurn(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t1", "echo", `{"a":1}`),
		toolUseBlock("t2", "echo", `{"b":2}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("ok")}})

	e := New(mock)
	if _, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), Hooks{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Second request: initial user turn + assistant turn + ONE result turn.
	second := mock.ChatCalls[1]
	if len(second.Messages) != 3 {
		t.Fatalf("second call history = %d messages, want 3", len(second.Messages))
	}
	last := second.Messages[2]
	if last.Role != llm.RoleUser {
		t.Errorf("result turn role = %q, want user", last.Role)
	}
	if len(last.Blocks) != 2 {
		t.Fatalf("result turn has %d blocks, want 2", len(last.Blocks))
	}
	for i, b := range last.Blocks {
		if b.Type != llm.BlockToolResult {
			t.Errorf("block %d type = %q, want tool_result", i, b.Type)
		}
	}
	if last.Blocks[0].ToolUseID != "t1" || last.Blocks[1].ToolUseID != "t2" {
		t.Errorf("results out of order: %q, %q", last.Blocks[0].ToolUseID, last.Blocks[1].ToolUseID)
	}
}

func TestRunExhaustsBudgetSoftly(t *testing.T) {
	mock := &llm.MockProvider{}
	for i := 0; i < 10; i++ {
		mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
			textBlock(fmt.Sprintf("round %d", i)),
			toolUseBlock(fmt.Sprintf("t%d", i), "echo", `{}`),
		}})
	}

	e := New(mock, WithMaxIterations(5))
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), Hooks{})
	if err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if !res.Exhausted {
		t.Error("expected Exhausted")
	}
	if res.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", res.Iterations)
	}
	if len(res.ToolCalls) != 5 {
		t.Errorf("tool calls = %d, want 5", len(res.ToolCalls))
	}
	if res.FinalText != "round 4" {
		t.Errorf("final text = %q, want last seen text", res.FinalText)
	}
}

func TestRunExhaustedToolOnlyFinalTurnHasNoText(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		textBlock("thinking out loud"),
		toolUseBlock("t1", "echo", `{}`),
	}})
	// Final turn before exhaustion carries only a tool call: earlier text
	// must not leak into FinalText.
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t2", "echo", `{}`),
	}})

	e := New(mock, WithMaxIterations(2))
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Exhausted {
		t.Fatal("expected Exhausted")
	}
	if res.FinalText != "" {
		t.Errorf("final text = %q, want empty for a tool-only final turn", res.FinalText)
	}
	if len(res.ToolCalls) != 2 {
		t.Errorf("tool calls = %d, want 2", len(res.ToolCalls))
	}
}

func TestRunUnknownToolGetsErrorPayload(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t1", "no_such_tool", `{}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("ok")}})

	e := New(mock)
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].IsError {
		t.Fatalf("expected one error-flagged tool call, got %+v", res.ToolCalls)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(res.ToolCalls[0].Result), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if payload["error"] == "" {
		t.Error("error payload missing error field")
	}
}

func TestRunToolFailureBecomesPayloadNotAbort(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t1", "boom", `{}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("recovered")}})

	boom := Tool{
		Name: "boom",
		Execute: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("disk on fire")
		},
	}
	e := New(mock)
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(boom), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FinalText != "recovered" {
		t.Errorf("final text = %q, want %q", res.FinalText, "recovered")
	}
	if !res.ToolCalls[0].IsError {
		t.Error("tool failure should set IsError")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(res.ToolCalls[0].Result), &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["error"] != "disk on fire" {
		t.Errorf("payload error = %q", payload["error"])
	}
}

func TestRunValidatesToolInput(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolUseBlock("t1", "strict_tool", `{"count":"not a number"}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("ok")}})

	var executed bool
	strict := Tool{
		Name: "strict_tool",
		InputSchema: ObjectSchema(map[string]any{
			"count": map[string]any{"type": "integer"},
		}, "count"),
		Execute: func(context.Context, json.RawMessage) (string, error) {
			executed = true
			return "ran", nil
		},
	}

	e := New(mock)
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(strict), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if executed {
		t.Error("tool must not execute on invalid input")
	}
	if !res.ToolCalls[0].IsError {
		t.Error("invalid input should produce an error payload")
	}
}

func TestRunHooksFireInProtocolOrder(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		textBlock("thinking first"),
		toolUseBlock("t1", "echo", `{}`),
	}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("done")}})

	var order []string
	hooks := Hooks{
		OnThinking:   func(string) { order = append(order, "think") },
		OnToolCall:   func(string, json.RawMessage) { order = append(order, "call") },
		OnToolResult: func(string, string, bool) { order = append(order, "result") },
	}
	e := New(mock)
	if _, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(echoTool("echo")), hooks); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"think", "call", "result", "think"}
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
}

func TestChatRetryOnRateLimit(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Err: &llm.ErrRateLimit{Err: errors.New("429")}})
	mock.AddChatResponse(llm.MockChatResponse{Err: &llm.ErrRateLimit{Err: errors.New("429")}})
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{textBlock("ok")}})

	var delays []time.Duration
	e := New(mock, withSleep(func(d time.Duration) { delays = append(delays, d) }))
	res, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(), Hooks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FinalText != "ok" {
		t.Errorf("final text = %q", res.FinalText)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Errorf("retry delays = %v, want [2s 4s]", delays)
	}
	if mock.ChatCallCount() != 3 {
		t.Errorf("chat calls = %d, want 3", mock.ChatCallCount())
	}
}

func TestChatRetryExhaustionPropagates(t *testing.T) {
	mock := &llm.MockProvider{}
	for i := 0; i < 4; i++ {
		mock.AddChatResponse(llm.MockChatResponse{Err: &llm.ErrRateLimit{Err: errors.New("429")}})
	}

	var delays []time.Duration
	e := New(mock, withSleep(func(d time.Duration) { delays = append(delays, d) }))
	_, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(), Hooks{})

	var rl *llm.ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("retry delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("retry delays = %v, want %v", delays, want)
		}
	}
}

func TestChatNonRateLimitErrorPropagatesImmediately(t *testing.T) {
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Err: &llm.ErrProviderUnavailable{}})

	var slept int
	e := New(mock, withSleep(func(time.Duration) { slept++ }))
	_, err := e.Run(context.Background(), "sys",
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, "go")},
		NewToolset(), Hooks{})

	var pu *llm.ErrProviderUnavailable
	if !errors.As(err, &pu) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if slept != 0 {
		t.Errorf("slept %d times, want 0", slept)
	}
	if mock.ChatCallCount() != 1 {
		t.Errorf("chat calls = %d, want 1", mock.ChatCallCount())
	}
}
