package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is a canned Generate response for the MockProvider.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockChatResponse is a canned Chat response for the MockProvider.
type MockChatResponse struct {
	Blocks     []ContentBlock
	StopReason string
	Err        error
}

// MockProvider is a deterministic Provider for testing.
// It returns canned responses in FIFO order and records all requests.
type MockProvider struct {
	mu            sync.Mutex
	responses     []MockResponse
	chatResponses []MockChatResponse
	Calls         []Request
	ChatCalls     []ChatRequest
}

// NewMockProvider creates a MockProvider with the given canned Generate
// responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

// Generate returns the next canned response or ErrProviderUnavailable if
// the queue is empty.
func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if len(m.responses) == 0 {
		return nil, &ErrProviderUnavailable{Err: nil}
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]

	if resp.Err != nil {
		return nil, resp.Err
	}

	return &Response{
		Content:    resp.Content,
		Usage:      resp.Usage,
		Model:      "mock",
		StopReason: "end",
	}, nil
}

// Chat returns the next canned chat response or ErrProviderUnavailable if
// the queue is empty.
func (m *MockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChatCalls = append(m.ChatCalls, req)

	if len(m.chatResponses) == 0 {
		return nil, &ErrProviderUnavailable{Err: nil}
	}

	resp := m.chatResponses[0]
	m.chatResponses = m.chatResponses[1:]

	if resp.Err != nil {
		return nil, resp.Err
	}

	stop := resp.StopReason
	if stop == "" {
		stop = StopEnd
		for _, b := range resp.Blocks {
			if b.Type == BlockToolUse {
				stop = StopToolUse
			}
		}
	}

	return &ChatResponse{
		Blocks:     resp.Blocks,
		StopReason: stop,
		Model:      "mock",
	}, nil
}

// ModelID returns "mock".
func (m *MockProvider) ModelID() string {
	return "mock"
}

// AddResponse appends a canned Generate response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// AddChatResponse appends a canned Chat response to the queue.
func (m *MockProvider) AddChatResponse(resp MockChatResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatResponses = append(m.chatResponses, resp)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ChatCallCount returns the number of Chat calls made.
func (m *MockProvider) ChatCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls)
}
