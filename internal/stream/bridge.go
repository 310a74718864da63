// Package stream turns agent activity into an ordered event feed suitable
// for server-sent events. Producers append events from any goroutine; a
// single flusher drains the buffer on a fixed interval so consumers see
// events in emission order without per-event syscall overhead.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted over the bridge.
const (
	EventAgentStart     = "agent_start"
	EventAgentReasoning = "agent_reasoning"
	EventToolCall       = "tool_call"
	EventToolResult     = "tool_result"
	EventNodeCreated    = "node_created"
	EventEdgeCreated    = "edge_created"
	EventNodeRemoved    = "node_removed"
	EventEdgeRemoved    = "edge_removed"
	EventAgentDone      = "agent_done"
	EventAgentError     = "agent_error"
)

// maxPreviewLen caps tool result previews so a verbose tool cannot bloat
// the stream.
const maxPreviewLen = 200

// Event is one item on the feed.
type Event struct {
	Type      string         `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	SourceID  string         `json:"source_id,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// JSON renders the event for the wire. Encoding failures degrade to an
// empty object rather than breaking the stream.
func (e Event) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Truncate shortens s to maxPreviewLen runes, appending an ellipsis when
// anything was cut.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxPreviewLen {
		return s
	}
	return string(r[:maxPreviewLen]) + "…"
}

// Bridge buffers events and flushes them, in order, to a sink on a fixed
// interval. Close performs a final flush so no buffered event is lost.
type Bridge struct {
	mu     sync.Mutex
	buf    []Event
	closed bool

	sink     func([]Event)
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewBridge starts a bridge flushing to sink every interval. The sink is
// always called from the flusher goroutine (or from Close), never
// concurrently with itself.
func NewBridge(sink func([]Event), interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	b := &Bridge{
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) run() {
	defer close(b.done)
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.flush()
		case <-b.stop:
			return
		}
	}
}

func (b *Bridge) flush() {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()
	b.sink(batch)
}

// Publish appends an event to the buffer. Events published after Close are
// dropped.
func (b *Bridge) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf = append(b.buf, e)
}

// Close stops the flusher and drains any remaining events to the sink.
// Safe to call once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
	b.flush()
}

// AgentStart announces that an agent began work.
func (b *Bridge) AgentStart(agent, message string) {
	b.Publish(Event{Type: EventAgentStart, Agent: agent, Message: message})
}

// AgentReasoning carries a text block the model produced before tool calls.
func (b *Bridge) AgentReasoning(agent, text string) {
	b.Publish(Event{Type: EventAgentReasoning, Agent: agent, Message: text})
}

// ToolCall announces a tool invocation.
func (b *Bridge) ToolCall(agent, tool string, input map[string]any) {
	b.Publish(Event{Type: EventToolCall, Agent: agent, Tool: tool, Data: input})
}

// ToolResult carries a truncated preview of a tool's output.
func (b *Bridge) ToolResult(agent, tool, result string) {
	b.Publish(Event{Type: EventToolResult, Agent: agent, Tool: tool, Message: Truncate(result)})
}

// NodeCreated announces a new graph node.
func (b *Bridge) NodeCreated(nodeID, title string) {
	b.Publish(Event{Type: EventNodeCreated, NodeID: nodeID, Message: title})
}

// EdgeCreated announces a new dependency edge.
func (b *Bridge) EdgeCreated(sourceID, targetID string) {
	b.Publish(Event{Type: EventEdgeCreated, SourceID: sourceID, TargetID: targetID})
}

// NodeRemoved announces a node removal.
func (b *Bridge) NodeRemoved(nodeID string) {
	b.Publish(Event{Type: EventNodeRemoved, NodeID: nodeID})
}

// EdgeRemoved announces an edge removal.
func (b *Bridge) EdgeRemoved(sourceID, targetID string) {
	b.Publish(Event{Type: EventEdgeRemoved, SourceID: sourceID, TargetID: targetID})
}

// AgentDone announces successful completion of an agent.
func (b *Bridge) AgentDone(agent, message string) {
	b.Publish(Event{Type: EventAgentDone, Agent: agent, Message: message})
}

// AgentError announces an agent failure.
func (b *Bridge) AgentError(agent, message string) {
	b.Publish(Event{Type: EventAgentError, Agent: agent, Message: message})
}
