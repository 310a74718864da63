package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *llm.MockProvider, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mock := llm.NewMockProvider()
	ts := httptest.NewServer(New(s, mock).Handler())
	t.Cleanup(ts.Close)
	return ts, mock, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateTopic(t *testing.T) {
	ts, _, s := newTestServer(t)

	resp := postJSON(t, ts.URL+"/topics", map[string]string{
		"title":       "Linear Algebra",
		"description": "vectors and matrices",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
	}
	decodeJSON(t, resp, &out)
	if out.ID == "" || out.Type != "root" || out.Title != "Linear Algebra" {
		t.Fatalf("unexpected topic: %+v", out)
	}

	node, err := s.GraphRepo().GetNode(t.Context(), out.ID)
	if err != nil || node == nil {
		t.Fatalf("topic not persisted: %v", err)
	}
	if node.UserID != "local" {
		t.Errorf("UserID = %q, want default local", node.UserID)
	}
}

func TestCreateTopicRejectsEmptyTitle(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/topics", map[string]string{"title": ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGraphEndpoint(t *testing.T) {
	ts, _, s := newTestServer(t)
	ctx := t.Context()
	repo := s.GraphRepo()

	root := &store.Node{ID: "root-1", UserID: "local", Type: store.NodeRoot, Title: "Calculus"}
	a := &store.Node{ID: "c-a", UserID: "local", Type: store.NodeConcept, ParentID: "root-1", Title: "Limits"}
	b := &store.Node{ID: "c-b", UserID: "local", Type: store.NodeConcept, ParentID: "root-1", Title: "Derivatives"}
	for _, n := range []*store.Node{root, a, b} {
		if err := repo.CreateNode(ctx, n); err != nil {
			t.Fatalf("seed node: %v", err)
		}
	}
	if err := repo.CreateEdge(ctx, "c-a", "c-b"); err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	resp, err := http.Get(ts.URL + "/topics/root-1/graph")
	if err != nil {
		t.Fatalf("GET graph: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Root     struct{ ID string }
		Concepts []struct{ ID string }
		Edges    []struct{ Source, Target string }
	}
	decodeJSON(t, resp, &out)
	if out.Root.ID != "root-1" {
		t.Errorf("root = %q", out.Root.ID)
	}
	if len(out.Concepts) != 2 {
		t.Fatalf("concepts = %d, want 2", len(out.Concepts))
	}
	if len(out.Edges) != 1 || out.Edges[0].Source != "c-a" || out.Edges[0].Target != "c-b" {
		t.Errorf("edges = %+v", out.Edges)
	}
}

func TestGraphUnknownTopic(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/topics/nope/graph")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAnswerFlow(t *testing.T) {
	ts, _, s := newTestServer(t)
	ctx := t.Context()

	concept := &store.Node{ID: "c-1", UserID: "local", Type: store.NodeConcept, Title: "Limits"}
	if err := s.GraphRepo().CreateNode(ctx, concept); err != nil {
		t.Fatalf("seed concept: %v", err)
	}
	assessment, err := s.AssessmentRepo().GetOrCreate(ctx, "local", "c-1", "diagnostic")
	if err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	q := &store.Question{
		ID: "q-1", AssessmentID: assessment.ID, Position: 1,
		Prompt: "What is a limit?", Format: "open_ended",
	}
	if err := s.AssessmentRepo().AddQuestion(ctx, q); err != nil {
		t.Fatalf("seed question: %v", err)
	}

	// Questions endpoint returns the seeded question.
	resp, err := http.Get(ts.URL + "/concepts/c-1/questions")
	if err != nil {
		t.Fatalf("GET questions: %v", err)
	}
	var questions []struct {
		ID     string `json:"id"`
		Prompt string `json:"prompt"`
	}
	decodeJSON(t, resp, &questions)
	if len(questions) != 1 || questions[0].ID != "q-1" {
		t.Fatalf("questions = %+v", questions)
	}

	// Submitting an answer persists it.
	resp = postJSON(t, ts.URL+"/concepts/c-1/answers", map[string]string{
		"question_id": "q-1",
		"free_text":   "the value a function approaches",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out struct {
		AnswerID string `json:"answer_id"`
	}
	decodeJSON(t, resp, &out)
	if out.AnswerID == "" {
		t.Fatal("answer_id missing")
	}

	answers, err := s.AssessmentRepo().LatestAnswers(ctx, assessment.ID, "local")
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	if len(answers) != 1 || answers[0].FreeText != "the value a function approaches" {
		t.Fatalf("answers = %+v", answers)
	}
}

func TestAnswerRequiresQuestionID(t *testing.T) {
	ts, _, s := newTestServer(t)
	concept := &store.Node{ID: "c-1", UserID: "local", Type: store.NodeConcept, Title: "Limits"}
	if err := s.GraphRepo().CreateNode(t.Context(), concept); err != nil {
		t.Fatalf("seed concept: %v", err)
	}
	resp := postJSON(t, ts.URL+"/concepts/c-1/answers", map[string]string{"free_text": "x"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTutorEndpoint(t *testing.T) {
	ts, mock, s := newTestServer(t)
	sub := &store.Node{ID: "s-1", UserID: "local", Type: store.NodeSubconcept, Title: "One-sided limits"}
	if err := s.GraphRepo().CreateNode(t.Context(), sub); err != nil {
		t.Fatalf("seed subconcept: %v", err)
	}
	mock.AddChatResponse(llm.MockChatResponse{
		Blocks: []llm.ContentBlock{{Type: llm.BlockText, Text: "Think of approaching from the left. [STAY]"}},
	})

	resp := postJSON(t, ts.URL+"/subconcepts/s-1/tutor", map[string]any{
		"message": "I don't get one-sided limits",
		"history": []map[string]string{{"role": "assistant", "text": "Welcome back."}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Reply      string `json:"reply"`
		Complete   bool   `json:"complete"`
		Transition string `json:"transition"`
	}
	decodeJSON(t, resp, &out)
	if strings.Contains(out.Reply, "[STAY]") {
		t.Errorf("marker leaked into reply: %q", out.Reply)
	}
	if out.Complete || out.Transition != "stay" {
		t.Errorf("outcome = complete=%v transition=%q", out.Complete, out.Transition)
	}
}

func TestTutorRequiresMessage(t *testing.T) {
	ts, _, s := newTestServer(t)
	sub := &store.Node{ID: "s-1", UserID: "local", Type: store.NodeSubconcept, Title: "X"}
	if err := s.GraphRepo().CreateNode(t.Context(), sub); err != nil {
		t.Fatalf("seed subconcept: %v", err)
	}
	resp := postJSON(t, ts.URL+"/subconcepts/s-1/tutor", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
