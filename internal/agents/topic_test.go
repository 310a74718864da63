package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

func makeRoot(t *testing.T, mem *store.Memory, title string) *store.Node {
	t.Helper()
	root := &store.Node{ID: "root-1", UserID: "u1", Type: store.NodeRoot, Title: title}
	if err := mem.CreateNode(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestTopicAgentSmallModePlansChainedConcepts(t *testing.T) {
	mem := store.NewMemory()
	log := &eventLog{}
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		{Type: llm.BlockText, Text: "Two concepts cover this."},
		toolCall("t1", "save_concept", map[string]any{"title": "Vectors and Matrices", "description": "The objects"}),
		toolCall("t2", "save_concept", map[string]any{"title": "Linear Transformations", "description": "The maps"}),
	}})
	mock.AddChatResponse(chatText("Planned vectors then transformations."))

	a := NewTopicAgent(testDeps(mem, mock, log), TopicConfig{SmallMode: true})
	root := makeRoot(t, mem, "Linear Algebra")

	res, err := a.Run(context.Background(), "u1", root, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Replayed || res.Exhausted {
		t.Errorf("unexpected flags: %+v", res)
	}
	if len(res.Concepts) != 2 {
		t.Fatalf("concepts = %d, want 2", len(res.Concepts))
	}

	children, err := mem.ListChildren(context.Background(), root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("persisted children = %d, want 2", len(children))
	}

	// Sequential chain: first concept → second concept.
	ok, _ := mem.EdgeExists(context.Background(), res.Concepts[0].ID, res.Concepts[1].ID)
	if !ok {
		t.Error("missing sequential chain edge")
	}
	if mem.EdgeCount() != 1 {
		t.Errorf("edge count = %d, want 1", mem.EdgeCount())
	}

	if log.count("node_created:") != 2 {
		t.Errorf("node_created events = %d, want 2", log.count("node_created:"))
	}
	if log.count("agent_done:") != 1 {
		t.Errorf("agent_done events = %d, want 1", log.count("agent_done:"))
	}
	if len(mem.Generations) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(mem.Generations))
	}
	if mem.Generations[0].Metadata["save_concept"] != 2 {
		t.Errorf("audit metadata = %v", mem.Generations[0].Metadata)
	}
}

func TestTopicAgentExtractsExcerptsFromSourceMaterial(t *testing.T) {
	mem := store.NewMemory()
	log := &eventLog{}
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "save_concept", map[string]any{"title": "Vectors"}),
		toolCall("t2", "save_concept", map[string]any{"title": "Matrices"}),
	}})
	mock.AddChatResponse(chatText("done"))
	// One batched extraction call covers all concepts. Case-insensitive
	// title matching; concepts the material skips get no excerpt.
	mock.AddResponse(llm.MockResponse{Content: json.RawMessage(`{"excerpts":[
		{"concept":"vectors","excerpt":"A vector is a quantity with magnitude and direction."},
		{"concept":"Matrices","excerpt":"  "}
	]}`)})

	root := makeRoot(t, mem, "Linear Algebra")
	res, err := NewTopicAgent(testDeps(mem, mock, log), TopicConfig{SmallMode: true}).
		Run(context.Background(), "u1", root, "A vector is a quantity with magnitude and direction. ...")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if mock.CallCount() != 1 {
		t.Fatalf("extraction calls = %d, want 1 batched call", mock.CallCount())
	}
	if !strings.Contains(mock.Calls[0].Messages[0].Content, "- Vectors\n- Matrices") {
		t.Errorf("extraction prompt missing concept list:\n%s", mock.Calls[0].Messages[0].Content)
	}

	var vectors, matrices string
	for _, c := range res.Concepts {
		switch c.Title {
		case "Vectors":
			vectors = res.Excerpts[c.ID]
		case "Matrices":
			matrices = res.Excerpts[c.ID]
		}
	}
	if !strings.Contains(vectors, "magnitude and direction") {
		t.Errorf("Vectors excerpt = %q", vectors)
	}
	if matrices != "" {
		t.Errorf("blank excerpt should be dropped, got %q", matrices)
	}
}

func TestTopicAgentToleratesExcerptExtractionFailure(t *testing.T) {
	mem := store.NewMemory()
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "save_concept", map[string]any{"title": "Vectors"}),
	}})
	mock.AddChatResponse(chatText("done"))
	// No Generate response queued: the extraction sub-call fails.

	root := makeRoot(t, mem, "Linear Algebra")
	res, err := NewTopicAgent(testDeps(mem, mock, &eventLog{}), TopicConfig{SmallMode: true}).
		Run(context.Background(), "u1", root, "some material")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Concepts) != 1 {
		t.Fatalf("concepts = %d, want 1", len(res.Concepts))
	}
	if len(res.Excerpts) != 0 {
		t.Errorf("excerpts = %v, want none", res.Excerpts)
	}
}

func TestTopicAgentReplaysExistingConcepts(t *testing.T) {
	mem := store.NewMemory()
	log := &eventLog{}
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Blocks: []llm.ContentBlock{
		toolCall("t1", "save_concept", map[string]any{"title": "Vectors"}),
		toolCall("t2", "save_concept", map[string]any{"title": "Matrices"}),
	}})
	mock.AddChatResponse(chatText("done"))

	deps := testDeps(mem, mock, log)
	root := makeRoot(t, mem, "Linear Algebra")

	first, err := NewTopicAgent(deps, TopicConfig{SmallMode: true}).Run(context.Background(), "u1", root, "")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Second run: no canned responses queued — the model must not be called.
	replayLog := &eventLog{}
	deps2 := testDeps(mem, &llm.MockProvider{}, replayLog)
	second, err := NewTopicAgent(deps2, TopicConfig{SmallMode: true}).Run(context.Background(), "u1", root, "")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Replayed {
		t.Error("second run should replay")
	}
	if len(second.Concepts) != len(first.Concepts) {
		t.Fatalf("concept sets differ: %d vs %d", len(second.Concepts), len(first.Concepts))
	}
	firstTitles := map[string]bool{}
	for _, c := range first.Concepts {
		firstTitles[c.Title] = true
	}
	for _, c := range second.Concepts {
		if !firstTitles[c.Title] {
			t.Errorf("unexpected concept %q in replay", c.Title)
		}
	}

	// Creation events re-emitted on replay, edges included, no new nodes.
	if replayLog.count("node_created:") != 2 {
		t.Errorf("replay node_created events = %d, want 2", replayLog.count("node_created:"))
	}
	if replayLog.count("edge_created:") != 1 {
		t.Errorf("replay edge_created events = %d, want 1", replayLog.count("edge_created:"))
	}
	children, _ := mem.ListChildren(context.Background(), root.ID)
	if len(children) != 2 {
		t.Errorf("replay created duplicates: %d children", len(children))
	}
}

func TestTopicAgentModelFailureEmitsAgentError(t *testing.T) {
	mem := store.NewMemory()
	log := &eventLog{}
	mock := &llm.MockProvider{}
	mock.AddChatResponse(llm.MockChatResponse{Err: &llm.ErrProviderUnavailable{}})

	root := makeRoot(t, mem, "Topology")
	_, err := NewTopicAgent(testDeps(mem, mock, log), TopicConfig{}).Run(context.Background(), "u1", root, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if log.count("agent_error:") != 1 {
		t.Errorf("agent_error events = %d, want 1", log.count("agent_error:"))
	}
}
