package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/samsaffron/enrich/internal/llm"
)

// MockResponse is one scripted model reply.
type MockResponse struct {
	Text     string
	ToolCall *llm.ToolCall
	Err      error
}

// ToolReply builds a response that calls tool name with v encoded as arguments.
func ToolReply(name string, v any) MockResponse {
	data, err := json.Marshal(v)
	if err != nil {
		return MockResponse{Err: err}
	}
	return MockResponse{ToolCall: &llm.ToolCall{ID: "call_" + name, Name: name, Arguments: data}}
}

// TextReply builds a plain text response.
func TextReply(text string) MockResponse {
	return MockResponse{Text: text}
}

// MockProvider is a scripted llm.Provider. Handler takes precedence; otherwise
// Responses are consumed in order and the last one repeats.
// Safe for concurrent use.
type MockProvider struct {
	Handler   func(req llm.Request) MockResponse
	Responses []MockResponse

	mu       sync.Mutex
	next     int
	requests []llm.Request
}

// NewMockProvider creates a provider replying with responses in order.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{Responses: responses}
}

// NewToolMockProvider answers every forced tool call with the value registered
// for that tool name.
func NewToolMockProvider(replies map[string]any) *MockProvider {
	return &MockProvider{Handler: func(req llm.Request) MockResponse {
		name := req.ToolChoice.Name
		v, ok := replies[name]
		if !ok {
			return MockResponse{Err: fmt.Errorf("no scripted reply for tool %q", name)}
		}
		if resp, ok := v.(MockResponse); ok {
			return resp
		}
		return ToolReply(name, v)
	}}
}

func (m *MockProvider) Name() string {
	return "mock"
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many requests were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var resp MockResponse
	switch {
	case m.Handler != nil:
		m.mu.Unlock()
		resp = m.Handler(req)
		m.mu.Lock()
	case len(m.Responses) > 0:
		idx := m.next
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		resp = m.Responses[idx]
		m.next++
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider has no responses")
	}
	m.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []llm.Event
	if resp.Text != "" {
		events = append(events, llm.Event{Type: llm.EventTextDelta, Text: resp.Text})
	}
	if resp.ToolCall != nil {
		call := *resp.ToolCall
		events = append(events, llm.Event{Type: llm.EventToolCall, Tool: &call})
	}
	events = append(events,
		llm.Event{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
		llm.Event{Type: llm.EventDone})
	return &sliceStream{events: events}, nil
}

type sliceStream struct {
	events []llm.Event
	pos    int
}

func (s *sliceStream) Recv() (llm.Event, error) {
	if s.pos >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error {
	return nil
}
