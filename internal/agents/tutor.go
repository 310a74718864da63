package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abhisek/curio/internal/agent"
	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

const tutorAgentName = "tutor"

// TutorTurn is the outcome of one dialogue turn.
type TutorTurn struct {
	Reply   string
	Outcome TurnOutcome
	// Signaled is true when the outcome came from the structured
	// signal_turn_outcome call rather than the marker fallback.
	Signaled  bool
	Exhausted bool
}

// TutorAgent runs per-turn teaching dialogue on one subconcept. Teaching
// state lives in the conversation itself; the turn outcome is signaled via
// a structured tool call, with inline-marker parsing kept as a fallback
// for models that revert to embedding sentinels in prose.
type TutorAgent struct {
	deps Deps
}

// NewTutorAgent creates a tutor.
func NewTutorAgent(deps Deps) *TutorAgent {
	return &TutorAgent{deps: deps}
}

// Turn runs one dialogue turn. history is the prior conversation (text
// turns only); the returned slice appends this turn's user message and the
// tutor's cleaned reply, ready to be passed back in.
func (a *TutorAgent) Turn(ctx context.Context, userID string, sub *store.Node, history []llm.ChatMessage, userMessage string) (*TutorTurn, []llm.ChatMessage, error) {
	ctx = llm.WithPurpose(ctx, "tutor_turn")
	n := a.deps.notifier()

	var signaled bool
	var outcome TurnOutcome

	toolset := agent.NewToolset(agent.Tool{
		Name:        "signal_turn_outcome",
		Description: "Report the state of this teaching turn. Call exactly once per turn.",
		InputSchema: agent.ObjectSchema(map[string]any{
			"complete":   map[string]any{"type": "boolean"},
			"transition": map[string]any{"type": "string", "enum": []string{TransitionAdvance, TransitionStay}},
		}, "transition"),
		Execute: func(_ context.Context, input json.RawMessage) (string, error) {
			var in struct {
				Complete   bool   `json:"complete"`
				Transition string `json:"transition"`
			}
			_ = json.Unmarshal(input, &in)
			if in.Transition != TransitionAdvance && in.Transition != TransitionStay {
				in.Transition = TransitionStay
			}
			signaled = true
			outcome = TurnOutcome{Complete: in.Complete, Transition: in.Transition}
			return okPayload(map[string]any{"recorded": true}), nil
		},
	})

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.TextMessage(llm.RoleUser, userMessage))

	system := fmt.Sprintf("%s\n\nSubconcept: %s\n%s", tutorSystemPrompt, sub.Title, sub.Description)

	engine := agent.New(a.deps.Provider, a.deps.engineOpts()...)
	res, err := engine.Run(ctx, system, messages, toolset, streamHooks(n, tutorAgentName))
	if err != nil {
		n.AgentError(tutorAgentName, err.Error())
		return nil, history, fmt.Errorf("tutor turn: %w", err)
	}

	reply := res.FinalText
	if !signaled {
		// Marker fallback: the model embedded state in its prose.
		reply, outcome = ExtractMarkers(reply)
	} else {
		reply, _ = ExtractMarkers(reply)
	}

	if outcome.Complete {
		if err := a.deps.Progress.MarkCompleted(ctx, userID, sub.ID); err != nil {
			n.AgentError(tutorAgentName, err.Error())
			return nil, history, fmt.Errorf("mark completed: %w", err)
		}
	}

	turn := &TutorTurn{
		Reply:     reply,
		Outcome:   outcome,
		Signaled:  signaled,
		Exhausted: res.Exhausted,
	}
	newHistory := append(messages, llm.TextMessage(llm.RoleAssistant, reply))
	return turn, newHistory, nil
}
