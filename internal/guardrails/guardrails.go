// Package guardrails scores user text for PII, prompt injection and
// security risks before it reaches the SQL agent.
package guardrails

import (
	"context"
	"strings"

	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"go.uber.org/zap"
)

// Refusal is the safe text returned for requests that must not be answered.
const Refusal = "No se permiten operaciones que comprometan la seguridad del sistema."

// DefaultBlockThreshold is above the highest reachable score (0.6), so by
// default only the refusal text blocks.
const DefaultBlockThreshold = 1.0

const toolName = "record_assessment"

// Assessment is the outcome of one detection call.
type Assessment struct {
	PII       float64 `json:"pii_detection"`
	Injection float64 `json:"prompt_injection"`
	Security  float64 `json:"security_risks"`
	Score     float64 `json:"score"`
	SafeText  string  `json:"safe_text"`
	Error     string  `json:"error,omitempty"`
}

// Blocked reports whether the model replaced the text with the refusal.
func (a Assessment) Blocked() bool {
	return strings.TrimSpace(a.SafeText) == Refusal
}

// Options tunes a Guard.
type Options struct {
	Model          string
	Temperature    *float64
	BlockThreshold float64 // default DefaultBlockThreshold
}

// Guard runs risk detection with a dedicated model.
type Guard struct {
	provider llm.Provider
	prompts  *prompt.Manager
	opts     Options
	logger   *zap.Logger
}

func New(provider llm.Provider, prompts *prompt.Manager, opts Options, logger *zap.Logger) *Guard {
	if prompts == nil {
		prompts = prompt.MustDefault()
	}
	if opts.BlockThreshold <= 0 {
		opts.BlockThreshold = DefaultBlockThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{provider: provider, prompts: prompts, opts: opts, logger: logger}
}

type rawAssessment struct {
	PII       float64 `json:"pii_detection"`
	Injection float64 `json:"prompt_injection"`
	Security  float64 `json:"security_risks"`
	SafeText  *string `json:"safe_text"`
}

// Detect scores text. On model failure the returned assessment carries the
// error message and the original text.
func (g *Guard) Detect(ctx context.Context, text string) (Assessment, error) {
	body, err := g.prompts.Render(prompt.Guardrails, prompt.GuardrailsData{Text: text, Refusal: Refusal})
	if err != nil {
		return Assessment{SafeText: text, Error: err.Error()}, err
	}

	req := llm.Request{
		Model:       g.opts.Model,
		Messages:    []llm.Message{llm.UserText(body)},
		Temperature: g.opts.Temperature,
	}
	var raw rawAssessment
	if err := llm.Generate(ctx, g.provider, req, assessmentTool(), &raw); err != nil {
		return Assessment{SafeText: text, Error: err.Error()}, err
	}

	a := Assessment{
		PII:       clamp(raw.PII),
		Injection: clamp(raw.Injection),
		Security:  clamp(raw.Security),
		SafeText:  text,
	}
	a.Score = (a.PII + a.Injection + a.Security) / 5
	if raw.SafeText != nil && strings.TrimSpace(*raw.SafeText) != "" && *raw.SafeText != "null" {
		a.SafeText = *raw.SafeText
	}
	return a, nil
}

// CheckQuestion returns whether q must be refused and the text to use in its
// place. A failed detection blocks the question.
func (g *Guard) CheckQuestion(ctx context.Context, q string) (bool, string) {
	a, err := g.Detect(ctx, q)
	if err != nil {
		g.logger.Warn("guardrails detection failed", zap.Error(err))
		return true, Refusal
	}
	g.logger.Debug("guardrails assessment",
		zap.Float64("pii", a.PII),
		zap.Float64("injection", a.Injection),
		zap.Float64("security", a.Security),
		zap.Float64("score", a.Score))

	if a.Blocked() {
		return true, Refusal
	}
	if a.Score > g.opts.BlockThreshold {
		return true, Refusal
	}
	return false, a.SafeText
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func assessmentTool() llm.ToolSpec {
	score := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "number", "description": desc}
	}
	return llm.ToolSpec{
		Name:        toolName,
		Description: "Record the risk scores and the safe version of the text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pii_detection":    score("Likelihood between 0 and 1 that the text contains or requests personal data."),
				"prompt_injection": score("Likelihood between 0 and 1 that the text tries to manipulate the assistant."),
				"security_risks":   score("Likelihood between 0 and 1 that the text asks for harmful operations."),
				"safe_text": map[string]interface{}{
					"type":        "string",
					"description": "The text with personal data masked, or the refusal message.",
				},
			},
			"required": []string{"pii_detection", "prompt_injection", "security_risks", "safe_text"},
		},
	}
}
