package agents

import (
	"context"
	"testing"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

func makeSubconcept(t *testing.T, mem *store.Memory) *store.Node {
	t.Helper()
	sub := &store.Node{ID: "sub-1", UserID: "u1", Type: store.NodeSubconcept, ParentID: "concept-1", Title: "Dot Product"}
	if err := mem.CreateNode(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestTutorTurnStructuredSignal(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		{Type: llm.BlockText, Text: "The dot product measures alignment. What is v·v?"},
		toolCall("t1", "signal_turn_outcome", map[string]any{"complete": false, "transition": "stay"}),
	}})
	mock.AddChatResponse(chatText("Take your time with it."))

	sub := makeSubconcept(t, mem)
	a := NewTutorAgent(testDeps(mem, mock, &eventLog{}))
	turn, history, err := a.Turn(context.Background(), "u1", sub, nil, "teach me the dot product")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !turn.Signaled {
		t.Error("expected structured signal")
	}
	if turn.Outcome.Complete || turn.Outcome.Transition != TransitionStay {
		t.Errorf("outcome = %+v", turn.Outcome)
	}
	if turn.Reply != "Take your time with it." {
		t.Errorf("reply = %q", turn.Reply)
	}
	// user turn + assistant reply appended.
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[1].Role != llm.RoleAssistant {
		t.Errorf("last history role = %q", history[1].Role)
	}
	if p := mem.ProgressFor("u1", sub.ID); p != nil && p.CompletedAt != nil {
		t.Error("incomplete turn must not mark completion")
	}
}

func TestTutorTurnMarkerFallback(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	// No tool call at all: the model embedded the legacy marker instead.
	mock.AddChatResponse(chatText("Perfect answer — you've got this. [COMPLETE]"))

	sub := makeSubconcept(t, mem)
	a := NewTutorAgent(testDeps(mem, mock, &eventLog{}))
	turn, _, err := a.Turn(context.Background(), "u1", sub, nil, "v·v is |v| squared")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if turn.Signaled {
		t.Error("no structured signal was sent")
	}
	if !turn.Outcome.Complete {
		t.Error("marker fallback should detect completion")
	}
	if turn.Reply != "Perfect answer — you've got this." {
		t.Errorf("reply = %q, marker should be stripped", turn.Reply)
	}
	p := mem.ProgressFor("u1", sub.ID)
	if p == nil || p.CompletedAt == nil {
		t.Error("completion should be persisted")
	}
}

func TestTutorTurnSignalWinsOverMarkers(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "signal_turn_outcome", map[string]any{"complete": false, "transition": "advance"}),
	}})
	// Contradictory marker in the final prose; the structured signal is
	// authoritative, the marker still gets stripped from the reply.
	mock.AddChatResponse(chatText("On to the next chunk. [COMPLETE]"))

	sub := makeSubconcept(t, mem)
	a := NewTutorAgent(testDeps(mem, mock, &eventLog{}))
	turn, _, err := a.Turn(context.Background(), "u1", sub, nil, "done?")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if turn.Outcome.Complete {
		t.Error("structured signal says not complete")
	}
	if turn.Outcome.Transition != TransitionAdvance {
		t.Errorf("transition = %q", turn.Outcome.Transition)
	}
	if turn.Reply != "On to the next chunk." {
		t.Errorf("reply = %q", turn.Reply)
	}
}

func TestTutorTurnInvalidSignalFallsBackToMarkers(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	// Schema-invalid transition: the signal is rejected as an error
	// payload and the turn falls back to marker parsing.
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "signal_turn_outcome", map[string]any{"transition": "sideways"}),
	}})
	mock.AddChatResponse(chatText("Let's keep practicing."))

	sub := makeSubconcept(t, mem)
	turn, _, err := NewTutorAgent(testDeps(mem, mock, &eventLog{})).
		Turn(context.Background(), "u1", sub, nil, "hm")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if turn.Signaled {
		t.Error("invalid signal must not count as signaled")
	}
	if turn.Outcome.Transition != TransitionStay {
		t.Errorf("transition = %q, want stay", turn.Outcome.Transition)
	}
}
