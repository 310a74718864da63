// Package agents holds the four specialized agents built on the loop
// engine: topic planning, subconcept bootstrap, concept refinement and
// tutoring. They share one dependency bundle and differ in toolset,
// system prompt and what they do with accumulated side effects.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abhisek/curio/internal/agent"
	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

// Notifier is the slice of the stream bridge the agents use.
// *stream.Bridge satisfies it.
type Notifier interface {
	AgentStart(agent, message string)
	AgentReasoning(agent, text string)
	ToolCall(agent, tool string, input map[string]any)
	ToolResult(agent, tool, result string)
	AgentDone(agent, message string)
	AgentError(agent, message string)

	NodeCreated(nodeID, title string)
	EdgeCreated(sourceID, targetID string)
	NodeRemoved(nodeID string)
	EdgeRemoved(sourceID, targetID string)
}

type nopNotifier struct{}

func (nopNotifier) AgentStart(string, string)               {}
func (nopNotifier) AgentReasoning(string, string)           {}
func (nopNotifier) ToolCall(string, string, map[string]any) {}
func (nopNotifier) ToolResult(string, string, string)       {}
func (nopNotifier) AgentDone(string, string)                {}
func (nopNotifier) AgentError(string, string)               {}
func (nopNotifier) NodeCreated(string, string)              {}
func (nopNotifier) EdgeCreated(string, string)              {}
func (nopNotifier) NodeRemoved(string)                      {}
func (nopNotifier) EdgeRemoved(string, string)              {}

// Deps is the dependency bundle shared by every agent.
type Deps struct {
	Provider    llm.Provider
	Graph       store.GraphRepo
	Assessments store.AssessmentRepo
	Progress    store.ProgressRepo
	Audit       store.AuditRepo
	Notify      Notifier

	// MaxIterations overrides the engine budget when > 0.
	MaxIterations int
}

func (d *Deps) notifier() Notifier {
	if d.Notify == nil {
		return nopNotifier{}
	}
	return d.Notify
}

func (d *Deps) engineOpts() []agent.Option {
	var opts []agent.Option
	if d.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(d.MaxIterations))
	}
	return opts
}

// streamHooks binds engine hooks to the notifier for one named agent run.
func streamHooks(n Notifier, agentName string) agent.Hooks {
	return agent.Hooks{
		OnThinking: func(text string) {
			n.AgentReasoning(agentName, text)
		},
		OnToolCall: func(name string, input json.RawMessage) {
			var m map[string]any
			_ = json.Unmarshal(input, &m)
			n.ToolCall(agentName, name, m)
		},
		OnToolResult: func(name, result string, isError bool) {
			n.ToolResult(agentName, name, result)
		},
	}
}

// auditRun writes the one-per-run generation log entry summarizing tool
// call names and counts.
func auditRun(ctx context.Context, audit store.AuditRepo, nodeID, trigger string, res *agent.RunResult) {
	if audit == nil || res == nil {
		return
	}
	counts := make(map[string]any)
	for _, tc := range res.ToolCalls {
		if v, ok := counts[tc.Name].(int); ok {
			counts[tc.Name] = v + 1
		} else {
			counts[tc.Name] = 1
		}
	}
	counts["iterations"] = res.Iterations
	counts["exhausted"] = res.Exhausted
	_ = audit.AppendGeneration(ctx, store.GenerationLogData{
		NodeID:        nodeID,
		Trigger:       trigger,
		PromptSummary: llm.PurposeFrom(ctx),
		Metadata:      counts,
	})
}

// okPayload serializes a small success payload for a tool result.
func okPayload(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return `{"ok":true}`
	}
	return string(b)
}

// failPayload builds a descriptive domain-error payload. Structural
// violations are reported this way, never thrown.
func failPayload(format string, args ...any) (string, error) {
	return okPayload(map[string]any{"error": fmt.Sprintf(format, args...)}), nil
}
