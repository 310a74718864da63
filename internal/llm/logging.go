package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abhisek/curio/internal/store"
)

// LoggingProvider is a decorator that records every LLM request as an event.
type LoggingProvider struct {
	inner     Provider
	eventRepo store.EventRepo
}

// WithLogging wraps a Provider with event logging.
func WithLogging(p Provider, repo store.EventRepo) Provider {
	return &LoggingProvider{inner: p, eventRepo: repo}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	purpose := PurposeFrom(ctx)

	resp, err := l.inner.Generate(ctx, req)

	data := store.LLMRequestEventData{
		Provider:    l.inner.ModelID(),
		Model:       l.inner.ModelID(),
		Purpose:     purpose,
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeRequest(req),
	}

	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.Model = resp.Model
		data.ResponseBody = string(resp.Content)
	}

	if err != nil {
		data.ErrorMessage = err.Error()
	}

	l.append(ctx, data)
	return resp, err
}

func (l *LoggingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	purpose := PurposeFrom(ctx)

	resp, err := l.inner.Chat(ctx, req)

	data := store.LLMRequestEventData{
		Provider:    l.inner.ModelID(),
		Model:       l.inner.ModelID(),
		Purpose:     purpose,
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeChatRequest(req),
	}

	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.Model = resp.Model
		data.ResponseBody = serializeBlocks(resp.Blocks)
	}

	if err != nil {
		data.ErrorMessage = err.Error()
	}

	l.append(ctx, data)
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// append logs the event but never fails the request if logging fails.
func (l *LoggingProvider) append(ctx context.Context, data store.LLMRequestEventData) {
	if err := l.eventRepo.AppendLLMRequest(ctx, data); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to log LLM request event: %v\n", err)
	}
}

// serializeRequest builds a readable representation of the LLM request.
func serializeRequest(req Request) string {
	var b strings.Builder

	if req.System != "" {
		b.WriteString("[system]\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}

	for _, m := range req.Messages {
		b.WriteString(fmt.Sprintf("[%s]\n", m.Role))
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}

	if req.Schema != nil {
		schemaDef, err := json.Marshal(req.Schema.Definition)
		if err == nil {
			b.WriteString(fmt.Sprintf("[schema: %s]\n", req.Schema.Name))
			b.WriteString(string(schemaDef))
			b.WriteString("\n")
		}
	}

	return b.String()
}

// serializeChatRequest builds a readable representation of a chat turn.
// Only the last few messages are kept: agent histories grow each iteration
// and the full transcript is already reconstructable from prior events.
func serializeChatRequest(req ChatRequest) string {
	var b strings.Builder

	if req.System != "" {
		b.WriteString("[system]\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}

	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			names[i] = t.Name
		}
		b.WriteString("[tools] ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n\n")
	}

	msgs := req.Messages
	const keep = 4
	if len(msgs) > keep {
		b.WriteString(fmt.Sprintf("[... %d earlier messages]\n\n", len(msgs)-keep))
		msgs = msgs[len(msgs)-keep:]
	}
	for _, m := range msgs {
		b.WriteString(fmt.Sprintf("[%s]\n", m.Role))
		b.WriteString(serializeBlocks(m.Blocks))
		b.WriteString("\n")
	}

	return b.String()
}

func serializeBlocks(blocks []ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		switch blk.Type {
		case BlockText:
			b.WriteString(blk.Text)
			b.WriteString("\n")
		case BlockToolUse:
			b.WriteString(fmt.Sprintf("<tool_use %s %s>%s\n", blk.ID, blk.Name, blk.Input))
		case BlockToolResult:
			b.WriteString(fmt.Sprintf("<tool_result %s>%s\n", blk.ToolUseID, blk.Content))
		}
	}
	return b.String()
}
