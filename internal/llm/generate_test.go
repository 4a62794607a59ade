package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

// fakeProvider replays fixed events for every request.
type fakeProvider struct {
	events []Event
	err    error
	reqs   []Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	events := f.events
	return newEventStream(ctx, func(ctx context.Context, out chan<- Event) error {
		for _, ev := range events {
			if ev.Type == EventError {
				return ev.Err
			}
			out <- ev
		}
		return nil
	}), nil
}

type verdict struct {
	IsSatisfactory bool   `json:"is_satisfactory"`
	Reason         string `json:"reason"`
}

var verdictTool = ToolSpec{
	Name: "record_verdict",
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"is_satisfactory": map[string]interface{}{"type": "boolean"},
			"reason":          map[string]interface{}{"type": "string"},
		},
	},
}

func TestGenerateDecodesToolCall(t *testing.T) {
	p := &fakeProvider{events: []Event{
		{Type: EventToolCall, Tool: &ToolCall{ID: "1", Name: "record_verdict", Arguments: json.RawMessage(`{"is_satisfactory":false,"reason":"missing ceo"}`)}},
		{Type: EventUsage, Use: &Usage{InputTokens: 3, OutputTokens: 2}},
		{Type: EventDone},
	}}

	var got verdict
	if err := Generate(context.Background(), p, Request{Messages: []Message{UserText("check")}}, verdictTool, &got); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.IsSatisfactory || got.Reason != "missing ceo" {
		t.Fatalf("got %+v", got)
	}
	if len(p.reqs) != 1 {
		t.Fatalf("requests=%d, want 1", len(p.reqs))
	}
	req := p.reqs[0]
	if req.ToolChoice.Mode != ToolChoiceName || req.ToolChoice.Name != "record_verdict" {
		t.Fatalf("tool choice=%+v, want forced record_verdict", req.ToolChoice)
	}
	if len(req.Tools) != 1 {
		t.Fatalf("tools=%d, want 1", len(req.Tools))
	}
}

func TestGenerateFallsBackToTextJSON(t *testing.T) {
	p := &fakeProvider{events: []Event{
		{Type: EventTextDelta, Text: "Here you go:\n```json\n{\"is_satisfactory\": true,"},
		{Type: EventTextDelta, Text: " \"reason\": \"all {fields} set\"}\n```"},
	}}
	var got verdict
	if err := Generate(context.Background(), p, Request{}, verdictTool, &got); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !got.IsSatisfactory || got.Reason != "all {fields} set" {
		t.Fatalf("got %+v", got)
	}
}

func TestGenerateNoStructuredOutput(t *testing.T) {
	p := &fakeProvider{events: []Event{{Type: EventTextDelta, Text: "I cannot help with that."}}}
	var got verdict
	err := Generate(context.Background(), p, Request{}, verdictTool, &got)
	if !errors.Is(err, ErrNoStructuredOutput) {
		t.Fatalf("err=%v, want ErrNoStructuredOutput", err)
	}
}

func TestCollectPropagatesStreamError(t *testing.T) {
	boom := errors.New("boom")
	p := &fakeProvider{events: []Event{
		{Type: EventTextDelta, Text: "partial"},
		{Type: EventError, Err: boom},
	}}
	if _, err := Collect(context.Background(), p, Request{}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
}

func TestComplete(t *testing.T) {
	p := &fakeProvider{events: []Event{
		{Type: EventTextDelta, Text: "  There are "},
		{Type: EventTextDelta, Text: "42 customers.\n"},
	}}
	got, err := Complete(context.Background(), p, Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "There are 42 customers." {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{name: "brace in string", in: `note {"s":"}{"}`, want: `{"s":"}{"}`},
		{name: "escaped quote", in: `{"s":"say \"hi\" }"}`, want: `{"s":"say \"hi\" }"}`},
		{name: "skips invalid", in: `{not json} then {"ok":true}`, want: `{"ok":true}`},
		{name: "none", in: "no object here", want: ""},
		{name: "unbalanced", in: `{"a":1`, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSONObject(tc.in); got != tc.want {
				t.Fatalf("ExtractJSONObject(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEventStreamCloseStopsProducer(t *testing.T) {
	done := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, out chan<- Event) error {
		defer close(done)
		for {
			select {
			case out <- Event{Type: EventTextDelta, Text: "x"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-done
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("Recv after close err=%v, want io.EOF", err)
	}
}
