package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/curio/internal/agent"
	"github.com/abhisek/curio/internal/graph"
	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

const bootstrapAgentName = "subconcept_bootstrap"

// BootstrapConfig tunes a bootstrap run.
type BootstrapConfig struct {
	// SmallMode produces fewer diagnostic questions.
	SmallMode bool
	// Excerpt is the source-material passage relevant to this concept,
	// included in the prompt when present.
	Excerpt string
}

// BootstrapResult is the outcome of one concept's bootstrap run.
type BootstrapResult struct {
	Subconcepts []store.Node
	Questions   int
	Replayed    bool
	Exhausted   bool
}

// SubconceptAgent builds a concept's diagnostic questions and its
// subconcept dependency graph.
type SubconceptAgent struct {
	deps Deps
	cfg  BootstrapConfig
}

// NewSubconceptAgent creates a bootstrap agent.
func NewSubconceptAgent(deps Deps, cfg BootstrapConfig) *SubconceptAgent {
	return &SubconceptAgent{deps: deps, cfg: cfg}
}

// Run bootstraps one concept. The prompt instructs the model to save
// questions, then subconcepts, then edges, but nothing enforces that
// order: every tool tolerates arriving early or late. Idempotent via the
// existing-subconcepts check. The progress record's structure flag is set
// only when at least one subconcept was actually saved.
func (a *SubconceptAgent) Run(ctx context.Context, userID string, concept *store.Node) (*BootstrapResult, error) {
	ctx = llm.WithPurpose(ctx, "subconcept_bootstrap")
	n := a.deps.notifier()
	n.AgentStart(bootstrapAgentName, concept.Title)

	existing, err := a.deps.Graph.ListChildren(ctx, concept.ID)
	if err != nil {
		n.AgentError(bootstrapAgentName, err.Error())
		return nil, fmt.Errorf("list subconcepts: %w", err)
	}
	if len(existing) > 0 {
		a.replay(ctx, n, existing)
		n.AgentDone(bootstrapAgentName, fmt.Sprintf("replayed %d existing subconcepts", len(existing)))
		return &BootstrapResult{Subconcepts: existing, Replayed: true}, nil
	}

	assessment, err := a.deps.Assessments.GetOrCreate(ctx, userID, concept.ID, "diagnostic")
	if err != nil {
		n.AgentError(bootstrapAgentName, err.Error())
		return nil, fmt.Errorf("diagnostic assessment: %w", err)
	}

	reg := graph.NewRegistry()
	mut := graph.NewMutator(a.deps.Graph, reg, n, graph.DefaultMutatorConfig())

	var questionCount int
	var lastSubID string

	toolset := agent.NewToolset(
		agent.Tool{
			Name:        "save_question",
			Description: "Persist one diagnostic question for the concept.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"prompt":         map[string]any{"type": "string"},
				"format":         map[string]any{"type": "string", "enum": []string{store.FormatMultipleChoice, store.FormatOpenEnded}},
				"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"correct_answer": map[string]any{"type": "string"},
				"difficulty":     map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
			}, "prompt", "format"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in struct {
					Prompt        string   `json:"prompt"`
					Format        string   `json:"format"`
					Options       []string `json:"options"`
					CorrectAnswer string   `json:"correct_answer"`
					Difficulty    int      `json:"difficulty"`
				}
				_ = json.Unmarshal(input, &in)
				if strings.TrimSpace(in.Prompt) == "" {
					return failPayload("prompt is required")
				}
				if in.Format != store.FormatMultipleChoice && in.Format != store.FormatOpenEnded {
					in.Format = store.FormatOpenEnded
				}
				if in.Format == store.FormatMultipleChoice && len(in.Options) < 2 {
					return failPayload("multiple_choice questions need at least 2 options")
				}
				if in.Difficulty < 1 || in.Difficulty > 5 {
					in.Difficulty = 3
				}
				q := &store.Question{
					AssessmentID:  assessment.ID,
					Position:      questionCount,
					Prompt:        in.Prompt,
					Format:        in.Format,
					Options:       in.Options,
					CorrectAnswer: in.CorrectAnswer,
					Difficulty:    in.Difficulty,
				}
				if err := a.deps.Assessments.AddQuestion(ctx, q); err != nil {
					return "", err
				}
				questionCount++
				return okPayload(map[string]any{"question_id": q.ID, "position": q.Position}), nil
			},
		},
		agent.Tool{
			Name:        "save_subconcept",
			Description: "Persist one subconcept with its dependencies. depends_on and unlocks reference other subconcepts by exact title.",
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
			Name:        "create_dependency",
			Description: "Add a dependency edge between two saved subconcepts, by title.",
			InputSchema: agent.ObjectSchema(map[string]any{
				"from": map[string]any{"type": "string"},
				"to":   map[string]any{"type": "string"},
			}, "from", "to"),
			Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
				return dependencyTool(ctx, mut, n, input)
			},
		},
	)

	questions := 5
	if a.cfg.SmallMode {
		questions = 2
	}
	system := fmt.Sprintf(subconceptSystemPrompt, questions)
	user := fmt.Sprintf("Concept: %s\nDescription: %s", concept.Title, concept.Description)
	if a.cfg.Excerpt != "" {
		user += fmt.Sprintf("\n\nRelevant source material:\n%s", a.cfg.Excerpt)
	}

	engine := agent.New(a.deps.Provider, a.deps.engineOpts()...)
	res, err := engine.Run(ctx, system,
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, user)},
		toolset, streamHooks(n, bootstrapAgentName))
	if err != nil {
		n.AgentError(bootstrapAgentName, err.Error())
		return nil, fmt.Errorf("subconcept agent: %w", err)
	}

	subs := reg.Nodes()
	if len(subs) > 0 {
		if err := a.deps.Progress.MarkStructureGenerated(ctx, userID, concept.ID); err != nil {
			n.AgentError(bootstrapAgentName, err.Error())
			return nil, fmt.Errorf("mark structure generated: %w", err)
		}
	}

	auditRun(ctx, a.deps.Audit, concept.ID, "subconcept_bootstrap", res)
	n.AgentDone(bootstrapAgentName, fmt.Sprintf("saved %d subconcepts, %d questions", len(subs), questionCount))
	return &BootstrapResult{Subconcepts: subs, Questions: questionCount, Exhausted: res.Exhausted}, nil
}

func (a *SubconceptAgent) replay(ctx context.Context, n Notifier, subs []store.Node) {
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
		n.NodeCreated(s.ID, s.Title)
	}
	edges, err := a.deps.Graph.EdgesAmong(ctx, ids)
	if err != nil {
		return
	}
	for _, e := range edges {
		n.EdgeCreated(e.SourceID, e.TargetID)
	}
}

// dependencyTool resolves two titles and links them. Unresolvable titles
// come back as descriptive error payloads, never as thrown errors.
func dependencyTool(ctx context.Context, mut *graph.Mutator, n Notifier, input json.RawMessage) (string, error) {
	var in struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	_ = json.Unmarshal(input, &in)
	src := mut.Resolve(in.From)
	if src == nil {
		return failPayload("unknown subconcept %q", in.From)
	}
	tgt := mut.Resolve(in.To)
	if tgt == nil {
		return failPayload("unknown subconcept %q", in.To)
	}
	created, err := mut.CreateEdgeIfMissing(ctx, src.ID, tgt.ID)
	if err != nil {
		return "", err
	}
	if created {
		n.EdgeCreated(src.ID, tgt.ID)
	}
	return okPayload(map[string]any{"created": created, "source": src.ID, "target": tgt.ID}), nil
}
