// Package server exposes the agents over a thin HTTP surface. Agent runs
// stream their progress as server-sent events; everything else is plain
// JSON.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/abhisek/curio/internal/agents"
	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

// Server wires the agents to HTTP handlers.
type Server struct {
	store    *store.Store
	provider llm.Provider
}

// New creates a server over an open store and a configured provider.
func New(s *store.Store, provider llm.Provider) *Server {
	return &Server{store: s, provider: provider}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /topics", s.handleCreateTopic)
	mux.HandleFunc("GET /topics/{id}/graph", s.handleGraph)
	mux.HandleFunc("POST /topics/{id}/plan", s.handlePlan)
	mux.HandleFunc("GET /concepts/{id}/questions", s.handleQuestions)
	mux.HandleFunc("POST /concepts/{id}/answers", s.handleAnswer)
	mux.HandleFunc("POST /concepts/{id}/bootstrap", s.handleBootstrap)
	mux.HandleFunc("POST /concepts/{id}/refine", s.handleRefine)
	mux.HandleFunc("POST /subconcepts/{id}/tutor", s.handleTutor)
	return mux
}

// deps builds the agent dependency bundle for one request.
func (s *Server) deps(notify agents.Notifier) agents.Deps {
	return agents.Deps{
		Provider:    s.provider,
		Graph:       s.store.GraphRepo(),
		Assessments: s.store.AssessmentRepo(),
		Progress:    s.store.ProgressRepo(),
		Audit:       s.store.AuditRepo(),
		Notify:      notify,
	}
}

type nodeJSON struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	ParentID    string  `json:"parent_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Accuracy    float64 `json:"accuracy"`
}

func toNodeJSON(n *store.Node) nodeJSON {
	return nodeJSON{
		ID:          n.ID,
		Type:        string(n.Type),
		ParentID:    n.ParentID,
		Title:       n.Title,
		Description: n.Description,
		Accuracy:    n.Accuracy,
	}
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      string `json:"user_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Title == "" {
		httpError(w, http.StatusBadRequest, "title is required")
		return
	}
	node := &store.Node{
		ID:          uuid.NewString(),
		UserID:      userOrDefault(in.UserID),
		Type:        store.NodeRoot,
		Title:       in.Title,
		Description: in.Description,
	}
	if err := s.store.GraphRepo().CreateNode(r.Context(), node); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toNodeJSON(node))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root, ok := s.loadNode(w, r, store.NodeRoot)
	if !ok {
		return
	}

	type edgeJSON struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	out := struct {
		Root     nodeJSON   `json:"root"`
		Concepts []nodeJSON `json:"concepts"`
		Subs     []nodeJSON `json:"subconcepts"`
		Edges    []edgeJSON `json:"edges"`
	}{Root: toNodeJSON(root)}

	concepts, err := s.store.GraphRepo().ListChildren(ctx, root.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var allIDs []string
	for i := range concepts {
		out.Concepts = append(out.Concepts, toNodeJSON(&concepts[i]))
		allIDs = append(allIDs, concepts[i].ID)
		subs, err := s.store.GraphRepo().ListChildren(ctx, concepts[i].ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for j := range subs {
			out.Subs = append(out.Subs, toNodeJSON(&subs[j]))
			allIDs = append(allIDs, subs[j].ID)
		}
	}
	edges, err := s.store.GraphRepo().EdgesAmong(ctx, allIDs)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, edgeJSON{Source: e.SourceID, Target: e.TargetID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	concept, ok := s.loadNode(w, r, store.NodeConcept)
	if !ok {
		return
	}
	userID := userOrDefault(r.URL.Query().Get("user_id"))

	assessment, err := s.store.AssessmentRepo().GetOrCreate(r.Context(), userID, concept.ID, "diagnostic")
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	questions, err := s.store.AssessmentRepo().ListQuestions(r.Context(), assessment.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type questionJSON struct {
		ID         string   `json:"id"`
		Position   int      `json:"position"`
		Prompt     string   `json:"prompt"`
		Format     string   `json:"format"`
		Options    []string `json:"options,omitempty"`
		Difficulty int      `json:"difficulty"`
	}
	out := make([]questionJSON, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionJSON{
			ID: q.ID, Position: q.Position, Prompt: q.Prompt,
			Format: q.Format, Options: q.Options, Difficulty: q.Difficulty,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.loadNode(w, r, store.NodeConcept); !ok {
		return
	}
	var in struct {
		UserID         string `json:"user_id"`
		QuestionID     string `json:"question_id"`
		SelectedOption string `json:"selected_option"`
		FreeText       string `json:"free_text"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.QuestionID == "" {
		httpError(w, http.StatusBadRequest, "question_id is required")
		return
	}
	answer := &store.Answer{
		QuestionID:     in.QuestionID,
		UserID:         userOrDefault(in.UserID),
		SelectedOption: in.SelectedOption,
		FreeText:       in.FreeText,
	}
	if err := s.store.AssessmentRepo().SaveAnswer(r.Context(), answer); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"answer_id": answer.ID})
}

func (s *Server) handleTutor(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadNode(w, r, store.NodeSubconcept)
	if !ok {
		return
	}
	var in struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
		History []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"history"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Message == "" {
		httpError(w, http.StatusBadRequest, "message is required")
		return
	}

	history := make([]llm.ChatMessage, 0, len(in.History))
	for _, h := range in.History {
		role := llm.RoleUser
		if h.Role == "assistant" {
			role = llm.RoleAssistant
		}
		history = append(history, llm.TextMessage(role, h.Text))
	}

	tutor := agents.NewTutorAgent(s.deps(nil))
	turn, _, err := tutor.Turn(r.Context(), userOrDefault(in.UserID), sub, history, in.Message)
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reply":      turn.Reply,
		"complete":   turn.Outcome.Complete,
		"transition": turn.Outcome.Transition,
		"signaled":   turn.Signaled,
	})
}

// loadNode fetches the path's {id} node and checks its type.
func (s *Server) loadNode(w http.ResponseWriter, r *http.Request, want store.NodeType) (*store.Node, bool) {
	node, err := s.store.GraphRepo().GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if node == nil || node.Type != want {
		httpError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return node, true
}

func userOrDefault(userID string) string {
	if userID == "" {
		return "local"
	}
	return userID
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
