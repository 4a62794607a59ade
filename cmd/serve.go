package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samsaffron/enrich/internal/api"
	"github.com/samsaffron/enrich/internal/auth"
	"github.com/samsaffron/enrich/internal/config"
	"github.com/samsaffron/enrich/internal/embedding"
	"github.com/samsaffron/enrich/internal/guardrails"
	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"github.com/samsaffron/enrich/internal/semcache"
	"github.com/samsaffron/enrich/internal/signal"
	"github.com/samsaffron/enrich/internal/sqlagent"
	"github.com/samsaffron/enrich/internal/sqldb"
	"github.com/samsaffron/enrich/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveAddr     string
	serveProvider string
	serveNoCache  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the text-to-SQL agent over HTTP",
	Long: `Start the HTTP API for the guarded text-to-SQL agent.

Clients obtain a bearer token from POST /text2sql/token and then call
/<prefix>/initialize, /<prefix>/ask and /<prefix>/cache/stats.

The server reads its connections and secrets from the environment:
  PGHOST PGDATABASE PGUSER PGPASSWORD   Postgres
  REDIS_HOST REDIS_PORT                 semantic cache
  SECRET_KEY JWT_EXPIRATION JWT_ISSUER  token signing (HS256)
  API_USERS                             user:password,user:$2a$... list
  AGENT_PREFIX CORS_ORIGINS             routing
  AGENT_CONFIG_PATH                     config.yaml for the agent
  GUARDRAILS_CONFIG_PATH                config.yaml whose guardrails section is used

Examples:
  enrich serve
  enrich serve --addr 127.0.0.1:9000 -p anthropic`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "Address to listen on")
	serveCmd.Flags().BoolVar(&serveNoCache, "no-cache", false, "Disable the semantic cache")
	AddProviderFlag(serveCmd, &serveProvider)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := config.LoadServerEnv()
	if err != nil {
		return err
	}
	if env.AgentConfigPath != "" && configPath == "" {
		configPath = env.AgentConfigPath
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, serveProvider); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "enrich-api")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	users, err := auth.ParseUsers(env.Users)
	if err != nil {
		return err
	}
	if users.Len() == 0 {
		logger.Warn("API_USERS is empty; no one can obtain a token")
	}
	issuer, err := auth.NewIssuer(env.SecretKey, env.JWTIssuer, env.JWTExpiration)
	if err != nil {
		return err
	}

	db, err := sqldb.Open(ctx, env.PostgresDSN(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	service, closeCache, err := newSQLService(ctx, cfg, env, db)
	if err != nil {
		return err
	}
	defer closeCache()

	server := api.NewServer(api.Config{
		Addr:        serveAddr,
		Prefix:      env.AgentPrefix,
		CORSOrigins: env.CORSOrigins,
	}, service, users, issuer, logger)
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving /%s on %s\n", env.AgentPrefix, serveAddr)

	<-ctx.Done()
	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// newSQLService wires the SQL agent. The returned func closes the cache
// connection and is safe to call when the cache is disabled.
func newSQLService(ctx context.Context, cfg *config.Config, env config.ServerEnv, db *sqldb.DB) (*sqlagent.Service, func(), error) {
	noop := func() {}

	provider, err := llm.NewProvider(cfg, logger)
	if err != nil {
		return nil, noop, err
	}
	prompts, err := prompt.NewManager(cfg.PromptPaths)
	if err != nil {
		return nil, noop, err
	}

	guard, err := newGuard(cfg, env)
	if err != nil {
		return nil, noop, err
	}

	deps := sqlagent.Deps{
		Provider:    provider,
		Prompts:     prompts,
		Guard:       guard,
		Schema:      sqldb.NewSchemaCache(db, cfg.SQL.SchemaFile, cfg.SQL.SchemaRefresh, logger),
		DB:          db,
		RowLimit:    cfg.SQL.RowLimit,
		Model:       cfg.LLMName,
		Temperature: temperature(cfg.LLMTemperature),
		LLMString:   fmt.Sprintf("%s:%s:%g", cfg.LLMProvider, cfg.LLMName, cfg.LLMTemperature),
		Logger:      logger,
	}

	closeFn := noop
	if cfg.Cache.Enabled && !serveNoCache {
		cache, closeRedis, err := newSemanticCache(ctx, cfg, env)
		if err != nil {
			logger.Warn("semantic cache disabled", zap.Error(err))
		} else {
			deps.Cache = cache
			closeFn = closeRedis
		}
	}
	return sqlagent.NewService(deps), closeFn, nil
}

// newGuard builds the guardrails checker. GUARDRAILS_CONFIG_PATH, when set,
// supplies the guardrails section instead of the agent config.
func newGuard(cfg *config.Config, env config.ServerEnv) (*guardrails.Guard, error) {
	gcfg := cfg.Guardrails
	if env.GuardrailsConfigPath != "" {
		other, err := config.Load(env.GuardrailsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load guardrails config: %w", err)
		}
		gcfg = other.Guardrails
	}

	providerName := gcfg.LLMProvider
	if providerName == "" {
		providerName = cfg.LLMProvider
	}
	model := gcfg.LLMName
	if model == "" {
		model = llm.DefaultModel(providerName)
	}
	provider, err := llm.NewProviderByName(cfg, providerName, model, logger)
	if err != nil {
		return nil, fmt.Errorf("guardrails provider: %w", err)
	}

	var overrides map[string]string
	if gcfg.PromptPath != "" {
		overrides = map[string]string{prompt.Guardrails: gcfg.PromptPath}
	}
	prompts, err := prompt.NewManager(overrides)
	if err != nil {
		return nil, err
	}
	return guardrails.New(provider, prompts, guardrails.Options{
		Model:          model,
		Temperature:    temperature(gcfg.LLMTemperature),
		BlockThreshold: gcfg.BlockThreshold,
	}, logger), nil
}

func newSemanticCache(ctx context.Context, cfg *config.Config, env config.ServerEnv) (*semcache.Cache, func(), error) {
	embedder, err := embedding.NewEmbeddingProvider(cfg)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr()})
	cache := semcache.New(rdb, embedder, cfg.Cache.Threshold, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", env.RedisAddr(), err)
	}
	return cache, func() { _ = rdb.Close() }, nil
}
