package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

func makeConcept(t *testing.T, mem *store.Memory, title string) *store.Node {
	t.Helper()
	c := &store.Node{ID: "concept-1", UserID: "u1", Type: store.NodeConcept, ParentID: "root-1", Title: title}
	if err := mem.CreateNode(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSubconceptAgentIncludesExcerptInPrompt(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(chatText("nothing to add"))

	concept := makeConcept(t, mem, "Derivatives")
	cfg := BootstrapConfig{SmallMode: true, Excerpt: "The derivative measures instantaneous rate of change."}
	if _, err := NewSubconceptAgent(testDeps(mem, mock, &eventLog{}), cfg).Run(context.Background(), "u1", concept); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := mock.ChatCalls[0].Messages[0].Blocks[0].Text
	if !strings.Contains(got, "instantaneous rate of change") {
		t.Errorf("prompt missing source excerpt:\n%s", got)
	}
}

func TestSubconceptAgentToleratesOutOfOrderCalls(t *testing.T) {
	mem := store.NewMemory()
	log := &eventLog{}
	mock := &llm.MockProvider{}
	// Subconcepts and edges arrive before the question, against the
	// prompt's instructed order. Everything must still land.
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "save_subconcept", map[string]any{"title": "Dot Product"}),
		toolCall("t2", "save_subconcept", map[string]any{
			"title": "Projections", "depends_on": []string{"Dot Product"},
		}),
		toolCall("t3", "create_dependency", map[string]any{"from": "Dot Product", "to": "Projections"}),
		toolCall("t4", "save_question", map[string]any{
			"prompt": "What is v·w for orthogonal v, w?", "format": "open_ended",
		}),
	}})
	mock.AddChatResponse(chatText("saved"))

	concept := makeConcept(t, mem, "Inner Products")
	res, err := NewSubconceptAgent(testDeps(mem, mock, log), BootstrapConfig{SmallMode: true}).
		Run(context.Background(), "u1", concept)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Subconcepts) != 2 {
		t.Fatalf("subconcepts = %d, want 2", len(res.Subconcepts))
	}
	if res.Questions != 1 {
		t.Errorf("questions = %d, want 1", res.Questions)
	}

	// Dependency edge exists exactly once despite save_subconcept already
	// wiring it.
	if mem.EdgeCount() != 1 {
		t.Errorf("edge count = %d, want 1", mem.EdgeCount())
	}

	p := mem.ProgressFor("u1", concept.ID)
	if p == nil || !p.StructureGenerated {
		t.Error("structure flag should be set after saving subconcepts")
	}

	assessment, err := mem.GetOrCreate(context.Background(), "u1", concept.ID, "diagnostic")
	if err != nil {
		t.Fatal(err)
	}
	questions, _ := mem.ListQuestions(context.Background(), assessment.ID)
	if len(questions) != 1 {
		t.Errorf("persisted questions = %d, want 1", len(questions))
	}
}

func TestSubconceptAgentEmptyRunDoesNotMarkStructure(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(chatText("I could not produce subconcepts for this."))

	concept := makeConcept(t, mem, "Mystery")
	res, err := NewSubconceptAgent(testDeps(mem, mock, &eventLog{}), BootstrapConfig{}).
		Run(context.Background(), "u1", concept)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Subconcepts) != 0 {
		t.Fatalf("subconcepts = %d, want 0", len(res.Subconcepts))
	}
	if p := mem.ProgressFor("u1", concept.ID); p != nil && p.StructureGenerated {
		t.Error("empty run must not mark structure generated")
	}
}

func TestSubconceptAgentUnknownTitleIsDomainError(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "create_dependency", map[string]any{"from": "Ghost", "to": "Phantom"}),
	}})
	mock.AddChatResponse(chatText("noted"))

	concept := makeConcept(t, mem, "Spectres")
	res, err := NewSubconceptAgent(testDeps(mem, mock, &eventLog{}), BootstrapConfig{}).
		Run(context.Background(), "u1", concept)
	if err != nil {
		t.Fatalf("bad title must not abort the run: %v", err)
	}
	if mem.EdgeCount() != 0 {
		t.Errorf("edge count = %d, want 0", mem.EdgeCount())
	}
	if res.Replayed {
		t.Error("unexpected replay")
	}
}

func TestSubconceptAgentReplaysExistingStructure(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	concept := makeConcept(t, mem, "Limits")
	sub := &store.Node{ID: "sub-1", UserID: "u1", Type: store.NodeSubconcept, ParentID: concept.ID, Title: "Epsilon-Delta"}
	if err := mem.CreateNode(ctx, sub); err != nil {
		t.Fatal(err)
	}

	log := &eventLog{}
	res, err := NewSubconceptAgent(testDeps(mem, &llm.MockProvider{}, log), BootstrapConfig{}).
		Run(ctx, "u1", concept)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Replayed {
		t.Error("expected replay")
	}
	if log.count("node_created:") != 1 {
		t.Errorf("replay node_created = %d, want 1", log.count("node_created:"))
	}
}
