package sqlagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const sqlToolName = "record_sql"

type generatedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

type agent struct {
	sessionID     string
	useGuardrails bool
	deps          Deps
	tracer        trace.Tracer
	logger        *zap.Logger
}

func (a *agent) ask(ctx context.Context, question string) (answer string, err error) {
	ctx, span := a.tracer.Start(ctx, "sqlagent.ask", trace.WithAttributes(
		attribute.String("session.id", a.sessionID),
		attribute.Bool("sqlagent.guardrails", a.useGuardrails),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if a.useGuardrails {
		blocked, safe := a.deps.Guard.CheckQuestion(ctx, question)
		if blocked {
			a.logger.Warn("question blocked by guardrails")
			span.SetAttributes(attribute.Bool("sqlagent.blocked", true))
			return safe, nil
		}
		question = safe
	}

	if a.deps.Cache != nil {
		cached, ok, err := a.deps.Cache.Lookup(ctx, question, a.deps.LLMString)
		if err != nil {
			a.logger.Warn("semantic cache lookup failed", zap.Error(err))
		} else if ok {
			span.SetAttributes(attribute.Bool("sqlagent.cache_hit", true))
			return cached, nil
		}
	}

	schema, err := a.deps.Schema.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load schema: %w", err)
	}
	schemaJSON, err := schema.JSON()
	if err != nil {
		return "", err
	}

	gen, err := a.generateSQL(ctx, question, schemaJSON)
	if err != nil {
		return "", err
	}

	res, err := a.deps.DB.ReadOnlyQuery(ctx, gen.SQL, a.deps.RowLimit)
	if err != nil {
		return "", fmt.Errorf("run query: %w", err)
	}
	span.SetAttributes(attribute.Int("sqlagent.rows", len(res.Rows)))

	rows, err := json.Marshal(res.Rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	text, err := a.deps.Prompts.Render(prompt.SQLAnswer, prompt.SQLAnswerData{
		Question:  question,
		SQL:       gen.SQL,
		Rows:      string(rows),
		RowCount:  len(res.Rows),
		Truncated: res.Truncated,
	})
	if err != nil {
		return "", err
	}
	answer, err = llm.Complete(ctx, a.deps.Provider, a.request(text))
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}

	if a.deps.Cache != nil {
		if err := a.deps.Cache.Update(ctx, question, answer, a.deps.LLMString); err != nil {
			a.logger.Warn("semantic cache update failed", zap.Error(err))
		}
	}
	return answer, nil
}

func (a *agent) generateSQL(ctx context.Context, question, schemaJSON string) (generatedSQL, error) {
	text, err := a.deps.Prompts.Render(prompt.SQLGeneration, prompt.SQLGenerationData{
		Question: question,
		Schema:   schemaJSON,
		Examples: a.deps.Prompts.Examples(),
		RowLimit: a.deps.RowLimit,
	})
	if err != nil {
		return generatedSQL{}, err
	}

	var gen generatedSQL
	if err := llm.Generate(ctx, a.deps.Provider, a.request(text), sqlTool(), &gen); err != nil {
		return generatedSQL{}, fmt.Errorf("generate sql: %w", err)
	}
	clean, err := CheckSQL(gen.SQL)
	if err != nil {
		a.logger.Warn("rejected generated sql", zap.String("sql", gen.SQL), zap.Error(err))
		return generatedSQL{}, err
	}
	gen.SQL = clean
	a.logger.Debug("generated sql", zap.String("sql", gen.SQL), zap.String("explanation", gen.Explanation))
	return gen, nil
}

func (a *agent) request(text string) llm.Request {
	return llm.Request{
		Model:       a.deps.Model,
		Messages:    []llm.Message{llm.UserText(text)},
		Temperature: a.deps.Temperature,
	}
}

func sqlTool() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        sqlToolName,
		Description: "Record the SQL query that answers the question.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sql": map[string]interface{}{
					"type":        "string",
					"description": "A single PostgreSQL SELECT or WITH query.",
				},
				"explanation": map[string]interface{}{
					"type":        "string",
					"description": "What the query computes.",
				},
			},
			"required": []string{"sql", "explanation"},
		},
	}
}
