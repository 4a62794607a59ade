package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv is the API server's process environment.
type ServerEnv struct {
	PGHost     string `env:"PGHOST" envDefault:"localhost"`
	PGDatabase string `env:"PGDATABASE"`
	PGUser     string `env:"PGUSER"`
	PGPassword string `env:"PGPASSWORD"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`

	SecretKey     string        `env:"SECRET_KEY"`
	JWTAlgorithm  string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"30m"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"enrich"`
	Users         []string      `env:"API_USERS" envSeparator:","`

	AgentPrefix string   `env:"AGENT_PREFIX" envDefault:"agent_name"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	AgentConfigPath      string `env:"AGENT_CONFIG_PATH"`
	GuardrailsConfigPath string `env:"GUARDRAILS_CONFIG_PATH"`
}

// ParseEnv parses environment variables into the provided struct.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerEnv reads and validates the server environment.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := ParseEnv(&cfg); err != nil {
		return ServerEnv{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ServerEnv{}, err
	}
	return cfg, nil
}

func (e ServerEnv) Validate() error {
	if strings.TrimSpace(e.SecretKey) == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if !strings.EqualFold(e.JWTAlgorithm, "HS256") {
		return fmt.Errorf("JWT_ALGORITHM %q is not supported (only HS256)", e.JWTAlgorithm)
	}
	if e.JWTExpiration <= 0 {
		return fmt.Errorf("JWT_EXPIRATION must be > 0")
	}
	if strings.Trim(e.AgentPrefix, "/") == "" {
		return fmt.Errorf("AGENT_PREFIX must not be empty")
	}
	return nil
}

// PostgresDSN builds a postgres:// URL from the PG* variables.
func (e ServerEnv) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgresql",
		Host:   e.PGHost,
		Path:   "/" + e.PGDatabase,
	}
	if e.PGUser != "" {
		if e.PGPassword != "" {
			u.User = url.UserPassword(e.PGUser, e.PGPassword)
		} else {
			u.User = url.User(e.PGUser)
		}
	}
	return u.String()
}

// RedisAddr returns host:port for the cache.
func (e ServerEnv) RedisAddr() string {
	return net.JoinHostPort(e.RedisHost, fmt.Sprint(e.RedisPort))
}
