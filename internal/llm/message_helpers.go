package llm

import (
	"context"
	"io"
	"strings"
)

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func collectRoleText(messages []Message, role Role) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != role {
			continue
		}
		if text := collectTextParts(msg.Parts); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// eventStream adapts a producer goroutine to the Stream interface.
type eventStream struct {
	cancel context.CancelFunc
	events chan Event
}

// newEventStream runs produce in a goroutine. A returned error is delivered
// as an EventError before the stream ends.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		cancel: cancel,
		events: make(chan Event, 16),
	}
	go func() {
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	if event.Type == EventError && event.Err != nil {
		return event, event.Err
	}
	return event, nil
}

// Close cancels the producer and drains anything it still sends.
func (s *eventStream) Close() error {
	s.cancel()
	for range s.events {
	}
	return nil
}
