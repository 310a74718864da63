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

const topicAgentName = "topic_planner"

// TopicConfig tunes a topic planning run.
type TopicConfig struct {
	// SmallMode plans 1-2 concepts instead of the normal 6-10. Used for
	// narrow topics and quick demos.
	SmallMode bool
}

// TopicResult is the outcome of a topic planning run.
type TopicResult struct {
	Concepts []store.Node
	// Excerpts maps concept ID to the source-material passage most relevant
	// to it. Populated only when source material was provided and the
	// extraction sub-call succeeded.
	Excerpts map[string]string
	// Replayed is true when concepts already existed and creation events
	// were re-emitted instead of regenerating.
	Replayed  bool
	Exhausted bool
}

// TopicAgent breaks a root topic into an ordered chain of concepts.
type TopicAgent struct {
	deps Deps
	cfg  TopicConfig
}

// NewTopicAgent creates a topic agent.
func NewTopicAgent(deps Deps, cfg TopicConfig) *TopicAgent {
	return &TopicAgent{deps: deps, cfg: cfg}
}

// Run plans concepts for the root topic. Idempotent: when concepts already
// exist the run re-emits their creation events so a reconnecting client
// sees the same stream, and nothing is regenerated.
func (a *TopicAgent) Run(ctx context.Context, userID string, root *store.Node, sourceMaterial string) (*TopicResult, error) {
	ctx = llm.WithPurpose(ctx, "topic_plan")
	n := a.deps.notifier()
	n.AgentStart(topicAgentName, root.Title)

	existing, err := a.deps.Graph.ListChildren(ctx, root.ID)
	if err != nil {
		n.AgentError(topicAgentName, err.Error())
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	if len(existing) > 0 {
		a.replay(ctx, n, existing)
		n.AgentDone(topicAgentName, fmt.Sprintf("replayed %d existing concepts", len(existing)))
		return &TopicResult{Concepts: existing, Replayed: true}, nil
	}

	reg := graph.NewRegistry()
	mut := graph.NewMutator(a.deps.Graph, reg, n, graph.DefaultMutatorConfig())

	toolset := agent.NewToolset(agent.Tool{
		Name:        "save_concept",
		Description: "Persist one concept of the learning plan, in learning order.",
		InputSchema: agent.ObjectSchema(map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		}, "title"),
		Execute: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			_ = json.Unmarshal(input, &in)
			if strings.TrimSpace(in.Title) == "" {
				return failPayload("title is required")
			}
			node, err := mut.CreateNode(ctx, userID, store.NodeConcept, root.ID, strings.TrimSpace(in.Title), in.Description)
			if err != nil {
				return "", err
			}
			return okPayload(map[string]any{"node_id": node.ID, "title": node.Title}), nil
		},
	})

	lo, hi := 6, 10
	if a.cfg.SmallMode {
		lo, hi = 1, 2
	}
	system := fmt.Sprintf(topicSystemPrompt, lo, hi)

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", root.Title)
	if root.Description != "" {
		fmt.Fprintf(&b, "Context: %s\n", root.Description)
	}
	if sourceMaterial != "" {
		fmt.Fprintf(&b, "\nSource material:\n%s\n", sourceMaterial)
	}

	engine := agent.New(a.deps.Provider, a.deps.engineOpts()...)
	res, err := engine.Run(ctx, system,
		[]llm.ChatMessage{llm.TextMessage(llm.RoleUser, b.String())},
		toolset, streamHooks(n, topicAgentName))
	if err != nil {
		n.AgentError(topicAgentName, err.Error())
		return nil, fmt.Errorf("topic agent: %w", err)
	}

	concepts := reg.Nodes()
	for i := 1; i < len(concepts); i++ {
		created, err := mut.CreateEdgeIfMissing(ctx, concepts[i-1].ID, concepts[i].ID)
		if err != nil {
			n.AgentError(topicAgentName, err.Error())
			return nil, fmt.Errorf("chain concepts: %w", err)
		}
		if created {
			n.EdgeCreated(concepts[i-1].ID, concepts[i].ID)
		}
	}

	var excerpts map[string]string
	if sourceMaterial != "" && len(concepts) > 0 {
		excerpts = a.extractExcerpts(ctx, concepts, sourceMaterial)
	}

	auditRun(ctx, a.deps.Audit, root.ID, "topic_plan", res)
	n.AgentDone(topicAgentName, fmt.Sprintf("planned %d concepts", len(concepts)))
	return &TopicResult{Concepts: concepts, Excerpts: excerpts, Exhausted: res.Exhausted}, nil
}

var excerptSchema = &llm.Schema{
	Name:        "extract-excerpts",
	Description: "Per-concept source-material excerpts",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"excerpts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"concept": map[string]any{"type": "string"},
						"excerpt": map[string]any{"type": "string"},
					},
					"required": []string{"concept", "excerpt"},
				},
			},
		},
		"required": []string{"excerpts"},
	},
}

// extractExcerpts pulls the most relevant source-material passage for each
// planned concept in one batched structured call. Best effort: on any
// failure the run proceeds without excerpts.
func (a *TopicAgent) extractExcerpts(ctx context.Context, concepts []store.Node, sourceMaterial string) map[string]string {
	var b strings.Builder
	b.WriteString("Concepts:\n")
	for _, c := range concepts {
		fmt.Fprintf(&b, "- %s\n", c.Title)
	}
	fmt.Fprintf(&b, "\nSource material:\n%s\n", sourceMaterial)

	resp, err := a.deps.Provider.Generate(llm.WithPurpose(ctx, "extract_excerpts"), llm.Request{
		System:    excerptSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:    excerptSchema,
		MaxTokens: 2048,
	})
	if err != nil {
		return nil
	}

	var out struct {
		Excerpts []struct {
			Concept string `json:"concept"`
			Excerpt string `json:"excerpt"`
		} `json:"excerpts"`
	}
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil
	}

	byTitle := make(map[string]string, len(out.Excerpts))
	for _, e := range out.Excerpts {
		if strings.TrimSpace(e.Excerpt) == "" {
			continue
		}
		byTitle[graph.NormalizeTitle(e.Concept)] = e.Excerpt
	}
	excerpts := make(map[string]string, len(concepts))
	for _, c := range concepts {
		if x, ok := byTitle[graph.NormalizeTitle(c.Title)]; ok {
			excerpts[c.ID] = x
		}
	}
	return excerpts
}

// replay re-emits creation events for an already-built concept chain.
func (a *TopicAgent) replay(ctx context.Context, n Notifier, concepts []store.Node) {
	ids := make([]string, len(concepts))
	for i, c := range concepts {
		ids[i] = c.ID
		n.NodeCreated(c.ID, c.Title)
	}
	edges, err := a.deps.Graph.EdgesAmong(ctx, ids)
	if err != nil {
		return
	}
	for _, e := range edges {
		n.EdgeCreated(e.SourceID, e.TargetID)
	}
}
