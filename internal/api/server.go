// Package api serves the SQL agent over HTTP behind bearer-token auth.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samsaffron/enrich/internal/auth"
	"github.com/samsaffron/enrich/internal/semcache"
	"github.com/samsaffron/enrich/internal/sqlagent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Agent is the question-answering service exposed under the agent prefix.
type Agent interface {
	Initialize(ctx context.Context, opts sqlagent.InitOptions) (sqlagent.InitResult, error)
	Ask(ctx context.Context, question string) (string, error)
	CacheStats() semcache.Stats
}

// Authenticator checks a username and password.
type Authenticator interface {
	Authenticate(username, password string) error
}

// TokenIssuer issues and verifies bearer tokens.
type TokenIssuer interface {
	Issue(subject string) (string, error)
	Verify(token string) (auth.Claims, error)
}

// Config holds the server settings.
type Config struct {
	Addr        string
	Prefix      string   // agent route prefix, default "agent_name"
	CORSOrigins []string // default "*"
}

// Server routes HTTP requests to the agent.
type Server struct {
	cfg    Config
	agent  Agent
	users  Authenticator
	tokens TokenIssuer
	logger *zap.Logger
	server *http.Server
}

func NewServer(cfg Config, agent Agent, users Authenticator, tokens TokenIssuer, logger *zap.Logger) *Server {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = "agent_name"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, agent: agent, users: users, tokens: tokens, logger: logger}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	base := "/" + s.cfg.Prefix

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/text2sql/token", s.cors(s.handleToken))
	mux.HandleFunc(base, s.cors(s.handleRoot))
	mux.HandleFunc(base+"/", s.cors(s.handleRoot))
	mux.HandleFunc(base+"/initialize", s.cors(s.bearer(s.handleInitialize)))
	mux.HandleFunc(base+"/ask", s.cors(s.bearer(s.handleAsk)))
	mux.HandleFunc(base+"/cache/stats", s.cors(s.bearer(s.handleCacheStats)))

	return otelhttp.NewHandler(s.logRequests(mux), "enrich-api")
}

// Start listens in the background and reports immediate bind failures.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("api server listening", zap.String("addr", s.cfg.Addr), zap.String("prefix", "/"+s.cfg.Prefix))
		return nil
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
