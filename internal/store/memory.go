package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory implementation of every repo interface. It backs
// package tests and keeps the mutation protocol exercisable without a
// database file.
type Memory struct {
	mu          sync.Mutex
	nodes       map[string]*Node
	edges       map[[2]string]bool
	edgeOrder   [][2]string
	assessments map[string]*Assessment
	questions   map[string][]Question // by assessment ID
	answers     map[string][]Answer   // by question ID
	progress    map[[2]string]*Progress
	Generations []GenerationLogData
	LLMEvents   []LLMRequestEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nodes:       make(map[string]*Node),
		edges:       make(map[[2]string]bool),
		assessments: make(map[string]*Assessment),
		questions:   make(map[string][]Question),
		answers:     make(map[string][]Answer),
		progress:    make(map[[2]string]*Progress),
	}
}

// GraphRepo returns the memory store as a GraphRepo.
func (m *Memory) GraphRepo() GraphRepo { return m }

// AssessmentRepo returns the memory store as an AssessmentRepo.
func (m *Memory) AssessmentRepo() AssessmentRepo { return m }

// ProgressRepo returns the memory store as a ProgressRepo.
func (m *Memory) ProgressRepo() ProgressRepo { return m }

// AuditRepo returns the memory store as an AuditRepo.
func (m *Memory) AuditRepo() AuditRepo { return m }

// EventRepo returns the memory store as an EventRepo.
func (m *Memory) EventRepo() EventRepo { return m }

func (m *Memory) CreateNode(_ context.Context, n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	cp := *n
	m.nodes[n.ID] = &cp
	return nil
}

func (m *Memory) GetNode(_ context.Context, id string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *Memory) ListChildren(_ context.Context, parentID string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for _, n := range m.nodes {
		if n.ParentID == parentID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateNodeAccuracy(_ context.Context, id string, accuracy float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[id]; ok {
		n.Accuracy = accuracy
		n.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	return nil
}

func (m *Memory) EdgeExists(_ context.Context, sourceID, targetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[[2]string{sourceID, targetID}], nil
}

func (m *Memory) CreateEdge(_ context.Context, sourceID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{sourceID, targetID}
	if m.edges[key] {
		return nil
	}
	m.edges[key] = true
	m.edgeOrder = append(m.edgeOrder, key)
	return nil
}

func (m *Memory) DeleteEdge(_ context.Context, sourceID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{sourceID, targetID}
	if !m.edges[key] {
		return nil
	}
	delete(m.edges, key)
	for i, k := range m.edgeOrder {
		if k == key {
			m.edgeOrder = append(m.edgeOrder[:i], m.edgeOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) EdgesTouching(_ context.Context, nodeID string) ([]Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Edge
	for _, k := range m.edgeOrder {
		if k[0] == nodeID || k[1] == nodeID {
			out = append(out, Edge{SourceID: k[0], TargetID: k[1]})
		}
	}
	return out, nil
}

func (m *Memory) EdgesAmong(_ context.Context, ids []string) ([]Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	var out []Edge
	for _, k := range m.edgeOrder {
		if in[k[0]] && in[k[1]] {
			out = append(out, Edge{SourceID: k[0], TargetID: k[1]})
		}
	}
	return out, nil
}

// EdgeCount returns the number of persisted edges.
func (m *Memory) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

func (m *Memory) GetOrCreate(_ context.Context, userID, nodeID, kind string) (*Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + nodeID + "|" + kind
	if a, ok := m.assessments[key]; ok {
		cp := *a
		return &cp, nil
	}
	a := &Assessment{
		ID:        uuid.NewString(),
		UserID:    userID,
		NodeID:    nodeID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	m.assessments[key] = a
	cp := *a
	return &cp, nil
}

func (m *Memory) AddQuestion(_ context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	m.questions[q.AssessmentID] = append(m.questions[q.AssessmentID], *q)
	return nil
}

func (m *Memory) ListQuestions(_ context.Context, assessmentID string) ([]Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Question, len(m.questions[assessmentID]))
	copy(out, m.questions[assessmentID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) SaveAnswer(_ context.Context, a *Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.answers[a.QuestionID] = append(m.answers[a.QuestionID], *a)
	return nil
}

func (m *Memory) LatestAnswers(ctx context.Context, assessmentID, userID string) ([]Answer, error) {
	questions, _ := m.ListQuestions(ctx, assessmentID)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Answer
	for _, q := range questions {
		var latest *Answer
		for i := range m.answers[q.ID] {
			a := &m.answers[q.ID][i]
			if a.UserID != userID {
				continue
			}
			if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
				latest = a
			}
		}
		if latest != nil {
			out = append(out, *latest)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAnswerGrade(_ context.Context, answerID string, isCorrect bool, score float64, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for qid := range m.answers {
		for i := range m.answers[qid] {
			if m.answers[qid][i].ID == answerID {
				c, s := isCorrect, score
				m.answers[qid][i].IsCorrect = &c
				m.answers[qid][i].Score = &s
				m.answers[qid][i].Feedback = feedback
				return nil
			}
		}
	}
	return nil
}

func (m *Memory) Ensure(ctx context.Context, userID, nodeID string) (*Progress, error) {
	p := m.getOrCreateProgress(userID, nodeID)
	cp := *p
	return &cp, nil
}

func (m *Memory) getOrCreateProgress(userID, nodeID string) *Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{userID, nodeID}
	if p, ok := m.progress[key]; ok {
		return p
	}
	now := time.Now().UTC()
	p := &Progress{UserID: userID, NodeID: nodeID, FirstEnteredAt: now, LastEnteredAt: now}
	m.progress[key] = p
	return p
}

func (m *Memory) RecordAttempt(_ context.Context, userID, nodeID string, accuracy float64) error {
	p := m.getOrCreateProgress(userID, nodeID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Accuracy = accuracy
	p.Attempts++
	p.LastEnteredAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkStructureGenerated(_ context.Context, userID, nodeID string) error {
	p := m.getOrCreateProgress(userID, nodeID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.StructureGenerated = true
	return nil
}

func (m *Memory) MarkCompleted(_ context.Context, userID, nodeID string) error {
	p := m.getOrCreateProgress(userID, nodeID)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p.CompletedAt = &now
	return nil
}

// Progress exposes the aggregate for assertions in tests.
func (m *Memory) ProgressFor(userID, nodeID string) *Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[[2]string{userID, nodeID}]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (m *Memory) AppendGeneration(_ context.Context, data GenerationLogData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Generations = append(m.Generations, data)
	return nil
}

func (m *Memory) AppendLLMRequest(_ context.Context, data LLMRequestEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLMEvents = append(m.LLMEvents, LLMRequestEvent{
		ID:                  int64(len(m.LLMEvents) + 1),
		Timestamp:           time.Now().UTC(),
		LLMRequestEventData: data,
	})
	return nil
}

func (m *Memory) GetLLMEvent(_ context.Context, id int) (*LLMRequestEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.LLMEvents {
		if m.LLMEvents[i].ID == int64(id) {
			cp := m.LLMEvents[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) LLMUsageByPurpose(_ context.Context) ([]PurposeUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := make(map[string]*PurposeUsage)
	var keys []string
	for _, e := range m.LLMEvents {
		u, ok := agg[e.Purpose]
		if !ok {
			u = &PurposeUsage{Purpose: e.Purpose}
			agg[e.Purpose] = u
			keys = append(keys, e.Purpose)
		}
		u.Calls++
		u.InputTokens += e.InputTokens
		u.OutputTokens += e.OutputTokens
		u.AvgLatencyMs += e.LatencyMs
	}
	sort.Strings(keys)
	out := make([]PurposeUsage, 0, len(keys))
	for _, k := range keys {
		u := agg[k]
		u.AvgLatencyMs /= int64(u.Calls)
		out = append(out, *u)
	}
	return out, nil
}

func (m *Memory) LLMUsageByModel(_ context.Context) ([]ModelUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := make(map[string]*ModelUsage)
	var keys []string
	for _, e := range m.LLMEvents {
		u, ok := agg[e.Model]
		if !ok {
			u = &ModelUsage{Model: e.Model}
			agg[e.Model] = u
			keys = append(keys, e.Model)
		}
		u.Calls++
		u.InputTokens += e.InputTokens
		u.OutputTokens += e.OutputTokens
	}
	sort.Strings(keys)
	out := make([]ModelUsage, 0, len(keys))
	for _, k := range keys {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (m *Memory) QueryLLMEvents(_ context.Context, opts QueryOpts) ([]LLMRequestEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LLMRequestEvent, len(m.LLMEvents))
	copy(out, m.LLMEvents)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}
