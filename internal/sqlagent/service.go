// Package sqlagent answers natural-language questions from a Postgres
// database, optionally behind guardrails and a semantic cache.
package sqlagent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"github.com/samsaffron/enrich/internal/semcache"
	"github.com/samsaffron/enrich/internal/sqldb"
	"github.com/samsaffron/enrich/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("agent not initialized")
	ErrEmptyQuestion  = errors.New("question must not be empty")
	ErrNoGuardrails   = errors.New("guardrails requested but not configured")
	ErrUnsafeSQL      = errors.New("generated SQL is not a single read-only query")
	ErrNoSQL          = errors.New("model did not produce a SQL query")
)

// InitializedMessage is returned by a successful Initialize.
const InitializedMessage = "Agent initialized successfully"

// Guard decides whether a question may be answered.
type Guard interface {
	CheckQuestion(ctx context.Context, q string) (bool, string)
}

// Cache stores answers by question similarity.
type Cache interface {
	Lookup(ctx context.Context, question, llmString string) (string, bool, error)
	Update(ctx context.Context, question, answer, llmString string) error
	Stats() semcache.Stats
}

// SchemaSource provides the database schema.
type SchemaSource interface {
	Get(ctx context.Context) (sqldb.Schema, error)
}

// QueryRunner executes generated SQL.
type QueryRunner interface {
	ReadOnlyQuery(ctx context.Context, sql string, limit int) (sqldb.Result, error)
}

// Deps are the services an agent is built from. Guard and Cache are optional.
type Deps struct {
	Provider    llm.Provider
	Prompts     *prompt.Manager
	Guard       Guard
	Cache       Cache
	Schema      SchemaSource
	DB          QueryRunner
	RowLimit    int
	Model       string
	Temperature *float64
	// LLMString scopes cache entries to a model configuration.
	LLMString string
	Logger    *zap.Logger
}

// InitOptions configure the agent created by Initialize.
// A nil UseGuardrails enables guardrails whenever a Guard is configured.
type InitOptions struct {
	SessionID     string `json:"session_id,omitempty"`
	UseGuardrails *bool  `json:"use_guardrails,omitempty"`
}

// InitResult reports the session of a new agent.
type InitResult struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Service owns the single active agent.
type Service struct {
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	agent *agent
}

func NewService(deps Deps) *Service {
	if deps.Prompts == nil {
		deps.Prompts = prompt.MustDefault()
	}
	if deps.RowLimit <= 0 {
		deps.RowLimit = 200
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.LLMString == "" && deps.Provider != nil {
		deps.LLMString = deps.Provider.Name()
	}
	return &Service{
		deps:   deps,
		logger: deps.Logger,
		tracer: telemetry.Tracer("github.com/samsaffron/enrich/internal/sqlagent"),
	}
}

// Initialize replaces the active agent. A missing session id gets a new UUID.
func (s *Service) Initialize(ctx context.Context, opts InitOptions) (InitResult, error) {
	useGuardrails := s.deps.Guard != nil
	if opts.UseGuardrails != nil {
		useGuardrails = *opts.UseGuardrails
	}
	if useGuardrails && s.deps.Guard == nil {
		return InitResult{}, ErrNoGuardrails
	}
	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a := &agent{
		sessionID:     sessionID,
		useGuardrails: useGuardrails,
		deps:          s.deps,
		tracer:        s.tracer,
		logger:        s.logger.With(zap.String("session_id", sessionID)),
	}

	s.mu.Lock()
	s.agent = a
	s.mu.Unlock()

	a.logger.Info("sql agent initialized", zap.Bool("guardrails", useGuardrails))
	return InitResult{SessionID: sessionID, Message: InitializedMessage}, nil
}

// Ask answers question with the active agent.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	s.mu.RLock()
	a := s.agent
	s.mu.RUnlock()
	if a == nil {
		return "", ErrNotInitialized
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	return a.ask(ctx, question)
}

// CacheStats reports semantic cache counters; zero when caching is off.
func (s *Service) CacheStats() semcache.Stats {
	if s.deps.Cache == nil {
		return semcache.Stats{}
	}
	return s.deps.Cache.Stats()
}

// SessionID returns the active session, or "" before Initialize.
func (s *Service) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agent == nil {
		return ""
	}
	return s.agent.sessionID
}
