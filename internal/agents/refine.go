package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/curio/internal/agent"
	"github.com/abhisek/curio/internal/diagnostic"
	"github.com/abhisek/curio/internal/graph"
	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

const refineAgentName = "concept_refiner"

// RefineResult is the outcome of a refinement run.
type RefineResult struct {
	Summary     *diagnostic.Summary
	Subconcepts []store.Node
	// InsertedConcepts are remedial concepts spliced into the topic chain
	// around the refined concept, in insertion order.
	InsertedConcepts []store.Node
	Exhausted        bool
}

// RefineAgent reshapes a concept's subconcept graph after a diagnostic:
// grade first, then add, remove and rewire subconcepts, then validate.
// The observe-reason-act-verify ordering lives in the prompt, not in code;
// tools stay callable in any order and tolerate misuse.
type RefineAgent struct {
	deps Deps
}

// NewRefineAgent creates a refinement agent.
func NewRefineAgent(deps Deps) *RefineAgent {
	return &RefineAgent{deps: deps}
}

// Run refines one concept's subconcept graph based on the learner's
// diagnostic answers.
func (a *RefineAgent) Run(ctx context.Context, userID string, concept *store.Node) (*RefineResult, error) {
	ctx = llm.WithPurpose(ctx, "concept_refine")
	n := a.deps.notifier()
	n.AgentStart(refineAgentName, concept.Title)

	subs, err := a.deps.Graph.ListChildren(ctx, concept.ID)
	if err != nil {
		n.AgentError(refineAgentName, err.Error())
		return nil, fmt.Errorf("list subconcepts: %w", err)
	}

	reg := graph.NewRegistry()
	reg.Seed(subs)
	mut := graph.NewMutator(a.deps.Graph, reg, n, graph.DefaultMutatorConfig())
	grader := diagnostic.NewGrader(a.deps.Provider)

	// Concept-level working set: the refined concept and its siblings in
	// the topic chain, so remedial concepts can be spliced around it.
	siblings, err := a.deps.Graph.ListChildren(ctx, concept.ParentID)
	if err != nil {
		n.AgentError(refineAgentName, err.Error())
		return nil, fmt.Errorf("list sibling concepts: %w", err)
	}
	conceptReg := graph.NewRegistry()
	conceptReg.Seed(siblings)
	if conceptReg.ByID(concept.ID) == nil {
		conceptReg.Add(concept)
	}
	conceptMut := graph.NewMutator(a.deps.Graph, conceptReg, n, graph.DefaultMutatorConfig())

	var summary *diagnostic.Summary
	var lastSubID string
	var inserted []store.Node

	insertConcept := func(ctx context.Context, input json.RawMessage, splice func(context.Context, string, string, string, string) (*store.Node, error)) (string, error) {
		var in struct {
			Anchor      string `json:"anchor"`
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(input, &in)
		if strings.TrimSpace(in.Title) == "" {
			return failPayload("title is required")
		}
		anchor := conceptMut.Resolve(in.Anchor)
		if anchor == nil {
			return failPayload("unknown concept %q", in.Anchor)
		}
		node, err := splice(ctx, userID, anchor.ID, strings.TrimSpace(in.Title), in.Description)
		if err != nil {
			return "", err
		}
		inserted = append(inserted, *node)
		return okPayload(map[string]any{"node_id": node.ID, "title": node.Title}), nil
	}

	toolset := agent.NewToolset(
		agent.Tool{
			Name:        "grade_student_answers",
			Description: "Grade the learner's diagnostic answers for this concept. Call this before editing the graph.",
			InputSchema: agent.ObjectSchema(map[string]any{}),
			Execute: func(ctx context.Context, _ json.RawMessage) (string, error) {
				assessment, err := a.deps.Assessments.GetOrCreate(ctx, userID, concept.ID, "diagnostic")
				if err != nil {
					return "", err
				}
				questions, err := a.deps.Assessments.ListQuestions(ctx, assessment.ID)
				if err != nil {
					return "", err
				}
				answers, err := a.deps.Assessments.LatestAnswers(ctx, assessment.ID, userID)
				if err != nil {
					return "", err
				}

				verdicts, err := grader.Grade(ctx, concept.Title, questions, answers)
				if err != nil {
					return "", err
				}

				answerFor := make(map[string]string, len(answers))
				for _, ans := range answers {
					answerFor[ans.QuestionID] = ans.ID
				}
				for _, v := range verdicts {
					norm := diagnostic.NormalizeScore(v.Score, v.IsCorrect)
					if norm == nil {
						continue
					}
					if answerID, ok := answerFor[v.QuestionID]; ok {
						if err := a.deps.Assessments.UpdateAnswerGrade(ctx, answerID,
							diagnostic.DeriveCorrect(norm, v.IsCorrect), *norm, v.Feedback); err != nil {
							return "", err
						}
					}
				}

				summary = diagnostic.Summarize(questions, answers, verdicts)
				if summary.OverallScore != nil {
					_ = a.deps.Graph.UpdateNodeAccuracy(ctx, concept.ID, *summary.OverallScore)
					_ = a.deps.Progress.RecordAttempt(ctx, userID, concept.ID, *summary.OverallScore)
				}
				b, err := json.Marshal(summary)
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		},
		agent.Tool{
			Name:        "save_subconcept",
			Description: "Add a subconcept with dependencies, referencing existing subconcepts by title.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"depends_on":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"unlocks":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}, "title"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in struct {
					Title       string   `json:"title"`
					Description string   `json:"description"`
					DependsOn   []string `json:"depends_on"`
					Unlocks     []string `json:"unlocks"`
				}
				_ = json.Unmarshal(input, &in)
				if strings.TrimSpace(in.Title) == "" {
					return failPayload("title is required")
				}
				node, err := mut.InsertSubconceptWithDependencies(ctx, userID, concept.ID,
					strings.TrimSpace(in.Title), in.Description, in.DependsOn, in.Unlocks, lastSubID)
				if err != nil {
					return "", err
				}
				lastSubID = node.ID
				return okPayload(map[string]any{"node_id": node.ID, "title": node.Title}), nil
			},
		},
		agent.Tool{
			Name:        "remove_subconcept",
			Description: "Remove a subconcept the learner has already mastered, reconnecting its neighbors.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"title": map[string]any{"type": "string"},
			}, "title"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in struct {
					Title string `json:"title"`
				}
				_ = json.Unmarshal(input, &in)
				node := mut.Resolve(in.Title)
				if node == nil {
					return failPayload("unknown subconcept %q", in.Title)
				}
				if err := mut.RemoveNodeWithReconnect(ctx, node.ID); err != nil {
					return "", err
				}
				return okPayload(map[string]any{"removed": node.ID}), nil
			},
		},
		agent.Tool{
			Name:        "create_dependency",
			Description: "Add a dependency edge between two subconcepts, by title.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"from": map[string]any{"type": "string"},
				"to":   map[string]any{"type": "string"},
			}, "from", "to"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				return dependencyTool(ctx, mut, n, input)
			},
		},
		agent.Tool{
			Name:        "insert_concept_before",
			Description: "Insert a remedial concept into the topic chain just before an existing concept, referenced by title. Repeated insertions at the same anchor chain in order.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"anchor":      map[string]any{"type": "string"},
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
			}, "anchor", "title"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				return insertConcept(ctx, input, conceptMut.InsertConceptBefore)
			},
		},
		agent.Tool{
			Name:        "insert_concept_after",
			Description: "Insert a follow-up concept into the topic chain just after an existing concept, referenced by title. Repeated insertions at the same anchor chain in order.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"anchor":      map[string]any{"type": "string"},
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
			}, "anchor", "title"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				return insertConcept(ctx, input, conceptMut.InsertConceptAfter)
			},
		},
		agent.Tool{
			Name:        "validate_graph",
			Description: "Check the subconcept graph for orphans, broken edges, unreachable nodes and cycles. Read-only.",
			InputSchema: agent.ObjectSchema(map[string]any{}),
			Execute: func(ctx context.Context, _ json.RawMessage) (string, error) {
				rep, err := graph.Validate(ctx, a.deps.Graph, reg.IDs())
				if err != nil {
					return "", err
				}
				b, err := json.Marshal(map[string]any{
					"summary":     rep.Summary(),
					"orphans":     rep.Orphans,
					"broken":      rep.Broken,
					"unreachable": rep.Unreachable,
					"cycle":       rep.HasCycle,
				})
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		},
	)

	user := fmt.Sprintf("Concept: %s\nExisting subconcepts: %s\nConcepts in this topic: %s",
		concept.Title, titleList(subs), titleList(conceptReg.Nodes()))

	engine := agent.New(a.deps.Provider, a.deps.engineOpts()...)
	res, err := engine.Run(ctx, refineSystemPrompt,
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, user)},
		toolset, streamHooks(n, refineAgentName))
	if err != nil {
		n.AgentError(refineAgentName, err.Error())
		return nil, fmt.Errorf("refine agent: %w", err)
	}

	auditRun(ctx, a.deps.Audit, concept.ID, "concept_refine", res)
	n.AgentDone(refineAgentName, res.FinalText)
	return &RefineResult{
		Summary:          summary,
		Subconcepts:      reg.Nodes(),
		InsertedConcepts: inserted,
		Exhausted:        res.Exhausted,
	}, nil
}

func titleList(nodes []store.Node) string {
	if len(nodes) == 0 {
		return "(none)"
	}
	titles := make([]string, len(nodes))
	for i, n := range nodes {
		titles[i] = n.Title
	}
	return strings.Join(titles, ", ")
}
