package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samsaffron/enrich/internal/research"
)

type fakeRunner struct {
	mu     sync.Mutex
	states []research.State
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, st research.State) (research.State, error) {
	f.mu.Lock()
	f.states = append(f.states, st)
	f.mu.Unlock()
	if f.err != nil {
		return st, f.err
	}
	st.LoopCount = 1
	st.SynthesizedInfo = &research.SynthesizedInfo{
		Summary:       "Acme raised a Series B.",
		References:    []string{"https://acme.example/news"},
		Justification: "Press release.",
	}
	st.Messages = append(st.Messages, research.Message{Node: "search", Content: "Found 1 URLs"})
	return st, nil
}

func connectMCP(t *testing.T, runner researchRunner, onDone func(research.State, time.Time, error)) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := newMCPServer(runner, time.Minute, onDone)
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestMCPResearchTool(t *testing.T) {
	runner := &fakeRunner{}
	var done []string
	session := connectMCP(t, runner, func(st research.State, _ time.Time, err error) {
		done = append(done, st.Topic)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "research" {
		t.Fatalf("tools=%+v, want only research", tools.Tools)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "research",
		Arguments: map[string]any{"topic": "  Acme funding  ", "company": "Acme"},
	})
	if err != nil {
		t.Fatalf("call research: %v", err)
	}
	if res.IsError {
		t.Fatalf("research returned error content: %+v", res.Content)
	}

	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var got ResearchOutput
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode structured content: %v", err)
	}
	want := ResearchOutput{
		Topic:          "Acme funding",
		Summary:        "Acme raised a Series B.",
		Justification:  "Press release.",
		References:     []string{"https://acme.example/news"},
		IsSatisfactory: true,
		LoopCount:      1,
		Messages:       []string{"[search] Found 1 URLs"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	if len(runner.states) != 1 || runner.states[0].Company != "Acme" {
		t.Fatalf("runner states=%+v", runner.states)
	}
	if diff := cmp.Diff([]string{"Acme funding"}, done); diff != "" {
		t.Fatalf("onDone topics (-want +got):\n%s", diff)
	}
}

func TestMCPResearchToolErrors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		err     error
		wantMsg string
	}{
		{name: "empty topic", topic: "   ", wantMsg: "topic is required"},
		{name: "runner failure", topic: "Acme", err: errors.New("search: quota exceeded"), wantMsg: "quota exceeded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := connectMCP(t, &fakeRunner{err: tc.err}, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := session.CallTool(ctx, &mcp.CallToolParams{
				Name:      "research",
				Arguments: map[string]any{"topic": tc.topic},
			})
			if err != nil {
				t.Fatalf("call research: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected an error result")
			}
			var text strings.Builder
			for _, c := range res.Content {
				if txt, ok := c.(*mcp.TextContent); ok {
					text.WriteString(txt.Text)
				}
			}
			if !strings.Contains(text.String(), tc.wantMsg) {
				t.Fatalf("content=%q, want %q", text.String(), tc.wantMsg)
			}
		})
	}
}

func TestResearchOutputWithoutSynthesis(t *testing.T) {
	st := research.NewState("nothing")
	got := researchOutput(st)
	if got.References == nil || len(got.References) != 0 {
		t.Fatalf("References=%v, want empty non-nil", got.References)
	}
	if got.Summary != "" || !got.IsSatisfactory {
		t.Fatalf("got %+v", got)
	}
}
