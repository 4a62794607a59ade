package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/runs"
)

func finishedState() research.State {
	st := research.NewState("Acme funding")
	st.Company = "Acme"
	st.LoopCount = 2
	st.SynthesizedInfo = &research.SynthesizedInfo{
		Summary:       "Acme raised $20M.",
		References:    []string{"https://a.example", "https://b.example"},
		Justification: "Two independent sources.",
		Data:          map[string]any{"general_info": map[string]any{"legal_name": "Acme Corp"}},
	}
	st.Validation = &research.Validation{IsSatisfactory: true, Reasons: []string{"Sources agree"}}
	return st
}

func TestSynthesisMarkdown(t *testing.T) {
	md := synthesisMarkdown(finishedState())
	for _, want := range []string{
		"# Acme funding",
		"## Summary\n\nAcme raised $20M.",
		"## Justification\n\nTwo independent sources.",
		"\"legal_name\": \"Acme Corp\"",
		"- https://a.example\n- https://b.example",
		"## Validation (satisfactory)",
		"- Sources agree",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}

	empty := synthesisMarkdown(research.NewState("nothing"))
	if !strings.Contains(empty, "No information was synthesized") {
		t.Fatalf("empty markdown=%q", empty)
	}
}

func TestRenderMarkdownPlain(t *testing.T) {
	var buf bytes.Buffer
	if err := renderMarkdown(&buf, "# Title", true); err != nil {
		t.Fatalf("renderMarkdown: %v", err)
	}
	if got := buf.String(); got != "# Title\n" {
		t.Fatalf("plain output=%q", got)
	}
}

func TestRunFromState(t *testing.T) {
	started := time.Now().Add(-time.Minute)

	run := runFromState(finishedState(), started, nil)
	if run.Topic != "Acme funding" || run.Company != "Acme" || run.LoopCount != 2 {
		t.Fatalf("run=%+v", run)
	}
	if !run.Satisfied || run.Summary != "Acme raised $20M." || run.Error != "" {
		t.Fatalf("run=%+v", run)
	}
	if !strings.Contains(run.Synthesis, "legal_name") {
		t.Fatalf("Synthesis=%q", run.Synthesis)
	}

	failed := runFromState(research.NewState("x"), started, errors.New("search: boom"))
	if failed.Satisfied || failed.Error != "search: boom" {
		t.Fatalf("failed run=%+v", failed)
	}
}

func TestRunMarkdownRoundTrip(t *testing.T) {
	run := runFromState(finishedState(), time.Now().Add(-90*time.Second), nil)
	run.ID = "3f2a9c10-0000-0000-0000-000000000000"

	md := runMarkdown(run)
	for _, want := range []string{"# Acme funding", "Acme raised $20M.", "Run `3f2a9c10-", "2 loop(s)"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	if !strings.Contains(buf.String(), "No runs found.") {
		t.Fatalf("empty output=%q", buf.String())
	}

	buf.Reset()
	finished := time.Date(2026, 1, 2, 3, 4, 0, 0, time.Local)
	printRuns(&buf, []runs.Run{
		{ID: "aaaaaaaa-1", Topic: "ok topic", Satisfied: true, FinishedAt: finished},
		{ID: "bbbbbbbb-2", Topic: "bad topic", Error: "boom", FinishedAt: finished},
		{ID: "cccccccc-3", Topic: "meh topic", FinishedAt: finished},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%q", lines)
	}
	for i, want := range []string{"aaaaaaaa  2026-01-02 03:04  ok", "failed", "unsatisfied"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d=%q, want %q", i, lines[i], want)
		}
	}
}
