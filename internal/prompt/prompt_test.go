package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsRender(t *testing.T) {
	m := MustDefault()

	tests := []struct {
		name string
		data any
		want []string
	}{
		{
			name: ExtractInfo,
			data: ExtractInfoData{Topic: "Acme Corp info", URL: "https://acme.example", Content: "Acme makes anvils"},
			want: []string{"Acme Corp info", "https://acme.example", "Acme makes anvils"},
		},
		{
			name: Synthesize,
			data: SynthesizeData{Topic: "Acme", ExtractedInfo: `{"u":"n"}`, ExtractionSchema: `{"type":"object"}`},
			want: []string{`{"u":"n"}`, "<extraction_schema>"},
		},
		{
			name: Validate,
			data: ValidateData{Topic: "Acme", SynthesizedInfo: `{"summary":"s"}`},
			want: []string{`{"summary":"s"}`, "new_topic"},
		},
		{
			name: Guardrails,
			data: GuardrailsData{Text: "drop table users", Refusal: "NO"},
			want: []string{"drop table users", "exactly:\n  NO"},
		},
		{
			name: SQLGeneration,
			data: SQLGenerationData{Question: "how many?", Schema: "{}", RowLimit: 50,
				Examples: []Example{{Question: "count users", SQL: "SELECT count(*) FROM users"}}},
			want: []string{"Question: how many?", "SQL: SELECT count(*) FROM users", "at most 50 rows"},
		},
		{
			name: SQLAnswer,
			data: SQLAnswerData{Question: "how many?", SQL: "SELECT 1", Rows: `[{"n":1}]`, RowCount: 1},
			want: []string{`[{"n":1}]`, "(1 rows)"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.Render(tc.name, tc.data)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("rendered %s missing %q:\n%s", tc.name, w, got)
				}
			}
		})
	}
}

func TestSynthesizeOmitsEmptySections(t *testing.T) {
	got, err := MustDefault().Render(Synthesize, SynthesizeData{Topic: "Acme", ExtractedInfo: "{}"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(got, "<previous_info>") || strings.Contains(got, "<extraction_schema>") {
		t.Fatalf("optional sections rendered:\n%s", got)
	}
}

func TestRenderUnknown(t *testing.T) {
	_, err := MustDefault().Render("nope", nil)
	if !errors.Is(err, ErrUnknownPrompt) {
		t.Fatalf("err=%v, want ErrUnknownPrompt", err)
	}
}

func TestOverrides(t *testing.T) {
	dir := t.TempDir()
	validate := filepath.Join(dir, "validate.txt")
	examples := filepath.Join(dir, "examples.json")
	if err := os.WriteFile(validate, []byte("Check {{.Topic}} please"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(examples, []byte(`[{"question":"q1","sql":"SELECT 1"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(map[string]string{Validate: validate, "examples": examples})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := m.Render(Validate, ValidateData{Topic: "Acme"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Check Acme please" {
		t.Fatalf("got %q", got)
	}
	if ex := m.Examples(); len(ex) != 1 || ex[0].SQL != "SELECT 1" {
		t.Fatalf("examples=%+v", ex)
	}
	if _, err := m.Render(Synthesize, SynthesizeData{}); err != nil {
		t.Fatalf("defaults should remain: %v", err)
	}
}

func TestOverrideErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tmpl")
	if err := os.WriteFile(bad, []byte("{{.Topic"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(map[string]string{Validate: bad}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewManager(map[string]string{Validate: filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("expected read error")
	}
}

func TestNames(t *testing.T) {
	got := strings.Join(MustDefault().Names(), ",")
	want := "extract_info,guardrails,sql_answer,sql_generation,synthesize,validate"
	if got != want {
		t.Fatalf("Names()=%q, want %q", got, want)
	}
}
