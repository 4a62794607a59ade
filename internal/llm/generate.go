package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoStructuredOutput is returned when the model produced neither the
// requested tool call nor a parseable JSON object.
var ErrNoStructuredOutput = errors.New("model returned no structured output")

// Result is the collected outcome of one streamed request.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Collect reads a request's stream to completion.
func Collect(ctx context.Context, p Provider, req Request) (Result, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer stream.Close()

	var res Result
	var text strings.Builder
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		switch event.Type {
		case EventTextDelta:
			text.WriteString(event.Text)
		case EventToolCall:
			if event.Tool != nil {
				res.ToolCalls = append(res.ToolCalls, *event.Tool)
			}
		case EventUsage:
			if event.Use != nil {
				res.Usage.InputTokens += event.Use.InputTokens
				res.Usage.OutputTokens += event.Use.OutputTokens
			}
		}
	}
	res.Text = text.String()
	return res, nil
}

// Complete returns the model's text answer.
func Complete(ctx context.Context, p Provider, req Request) (string, error) {
	res, err := Collect(ctx, p, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// Generate asks for structured output by forcing a call to tool and decodes
// the call's arguments into out. A model that answers in plain text instead
// is accepted when the text contains a JSON object.
func Generate(ctx context.Context, p Provider, req Request, tool ToolSpec, out any) error {
	req.Tools = []ToolSpec{tool}
	req.ToolChoice = ToolChoice{Mode: ToolChoiceName, Name: tool.Name}

	res, err := Collect(ctx, p, req)
	if err != nil {
		return err
	}

	for _, call := range res.ToolCalls {
		if call.Name != tool.Name {
			continue
		}
		if err := json.Unmarshal(call.Arguments, out); err != nil {
			return fmt.Errorf("decode %s arguments: %w", tool.Name, err)
		}
		return nil
	}

	if obj := ExtractJSONObject(res.Text); obj != "" {
		if err := json.Unmarshal([]byte(obj), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", tool.Name, ErrNoStructuredOutput)
}

// ExtractJSONObject returns the first balanced {...} object in s, skipping
// braces inside JSON strings. Markdown code fences around it are fine.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
	scan:
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					break scan
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}
