package agents

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/abhisek/curio/internal/llm"
	"github.com/abhisek/curio/internal/store"
)

// eventLog records notifier calls for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) count(prefix string) int {
	n := 0
	for _, e := range l.all() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (l *eventLog) AgentStart(agent, msg string)      { l.add("agent_start:%s", agent) }
func (l *eventLog) AgentReasoning(agent, text string) { l.add("agent_reasoning:%s", agent) }
func (l *eventLog) ToolCall(agent, tool string, _ map[string]any) {
	l.add("tool_call:%s", tool)
}
func (l *eventLog) ToolResult(agent, tool, result string) { l.add("tool_result:%s", tool) }
func (l *eventLog) AgentDone(agent, msg string)           { l.add("agent_done:%s", agent) }
func (l *eventLog) AgentError(agent, msg string)          { l.add("agent_error:%s:%s", agent, msg) }
func (l *eventLog) NodeCreated(id, title string)          { l.add("node_created:%s", title) }
func (l *eventLog) EdgeCreated(src, tgt string)           { l.add("edge_created:%s->%s", src, tgt) }
func (l *eventLog) NodeRemoved(id string)                 { l.add("node_removed:%s", id) }
func (l *eventLog) EdgeRemoved(src, tgt string)           { l.add("edge_removed:%s->%s", src, tgt) }

func testDeps(mem *store.Memory, mock *llm.MockProvider, log *eventLog) Deps {
	return Deps{
		Provider:    mock,
		Graph:       mem,
		Assessments: mem,
		Progress:    mem,
		Audit:       mem,
		Notify:      log,
	}
}

func chatText(s string) llm.MockChatResponse {
	return llm.MockChatResponse{Blocks: []llm.ContentBlock{{Type: llm.BlockText, Text: s}}}
}

func toolCall(id, name string, input map[string]any) llm.ContentBlock {
	raw, _ := json.Marshal(input)
	return llm.ContentBlock{Type: llm.BlockToolUse, ID: id, Name: name, Input: raw}
}
