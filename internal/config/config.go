package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider        string            `mapstructure:"llm_provider" yaml:"llm_provider"`
	LLMName            string            `mapstructure:"llm_name" yaml:"llm_name"`
	LLMTemperature     float64           `mapstructure:"llm_temperature" yaml:"llm_temperature"`
	EmbeddingProvider  string            `mapstructure:"embedding_provider" yaml:"embedding_provider"`
	EmbeddingModel     string            `mapstructure:"embedding_model" yaml:"embedding_model"`
	PromptPaths        map[string]string `mapstructure:"prompt_paths" yaml:"prompt_paths,omitempty"`
	MaxSearchResults   int               `mapstructure:"max_search_results" yaml:"max_search_results"`
	MaxLoops           int               `mapstructure:"max_loops" yaml:"max_loops"`
	ExtractConcurrency int               `mapstructure:"extract_concurrency" yaml:"extract_concurrency"`

	OpenAI     ProviderConfig   `mapstructure:"openai" yaml:"openai"`
	Anthropic  ProviderConfig   `mapstructure:"anthropic" yaml:"anthropic"`
	Gemini     ProviderConfig   `mapstructure:"gemini" yaml:"gemini"`
	Ollama     ProviderConfig   `mapstructure:"ollama" yaml:"ollama"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Scrape     ScrapeConfig     `mapstructure:"scrape" yaml:"scrape"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails" yaml:"guardrails"`
	SQL        SQLConfig        `mapstructure:"sql" yaml:"sql"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Runs       RunsConfig       `mapstructure:"runs" yaml:"runs"`
}

// ProviderConfig holds credentials for one model vendor.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type SearchConfig struct {
	Provider string       `mapstructure:"provider" yaml:"provider"` // tavily or duckduckgo
	Topic    string       `mapstructure:"topic" yaml:"topic"`       // news or general
	Depth    string       `mapstructure:"depth" yaml:"depth"`       // basic or advanced
	Tavily   TavilyConfig `mapstructure:"tavily" yaml:"tavily"`
}

type TavilyConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type ScrapeConfig struct {
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxChars           int           `mapstructure:"max_chars" yaml:"max_chars"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// GuardrailsConfig overrides the model used for risk scoring.
// Empty provider/model inherit the top-level llm settings.
type GuardrailsConfig struct {
	LLMProvider    string  `mapstructure:"llm_provider" yaml:"llm_provider,omitempty"`
	LLMName        string  `mapstructure:"llm_name" yaml:"llm_name,omitempty"`
	LLMTemperature float64 `mapstructure:"llm_temperature" yaml:"llm_temperature"`
	PromptPath     string  `mapstructure:"prompt_path" yaml:"prompt_path,omitempty"`
	BlockThreshold float64 `mapstructure:"block_threshold" yaml:"block_threshold"`
}

type SQLConfig struct {
	SchemaFile    string        `mapstructure:"schema_file" yaml:"schema_file"`
	SchemaRefresh time.Duration `mapstructure:"schema_refresh" yaml:"schema_refresh"`
	RowLimit      int           `mapstructure:"row_limit" yaml:"row_limit"`
}

type CacheConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

type RunsConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"` // Optional DB path override (supports :memory:)
}

// Load reads config.yaml from the config dir or the working directory.
// A non-empty path reads that file instead and must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configPath, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configPath)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_name", "gpt-4o-mini")
	v.SetDefault("llm_temperature", 0.0)
	v.SetDefault("embedding_provider", "openai")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("max_search_results", 5)
	v.SetDefault("max_loops", 1)
	v.SetDefault("extract_concurrency", 5)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.topic", "news")
	v.SetDefault("search.depth", "basic")
	v.SetDefault("scrape.timeout", 30*time.Second)
	v.SetDefault("scrape.max_chars", 20000)
	v.SetDefault("scrape.insecure_skip_verify", true)
	v.SetDefault("guardrails.llm_name", "gpt-4o")
	v.SetDefault("guardrails.block_threshold", 1.0)
	v.SetDefault("sql.schema_file", "db_schema.json")
	v.SetDefault("sql.schema_refresh", 24*time.Hour)
	v.SetDefault("sql.row_limit", 200)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.threshold", 0.03)
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	if c.MaxLoops < 1 {
		return fmt.Errorf("max_loops must be >= 1 (got %d)", c.MaxLoops)
	}
	if c.MaxSearchResults < 1 {
		return fmt.Errorf("max_search_results must be >= 1 (got %d)", c.MaxSearchResults)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be within [0, 2] (got %g)", c.LLMTemperature)
	}
	if c.Cache.Threshold < 0 || c.Cache.Threshold > 2 {
		return fmt.Errorf("cache.threshold must be a cosine distance within [0, 2] (got %g)", c.Cache.Threshold)
	}
	return nil
}

// ApplyOverrides applies provider and model overrides to the config.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.LLMProvider = provider
	}
	if model != "" {
		c.LLMName = model
	}
}

// YAML renders the effective config with secrets masked.
func (c *Config) YAML() (string, error) {
	masked := *c
	masked.OpenAI.APIKey = maskSecret(c.OpenAI.APIKey)
	masked.Anthropic.APIKey = maskSecret(c.Anthropic.APIKey)
	masked.Gemini.APIKey = maskSecret(c.Gemini.APIKey)
	masked.Search.Tavily.APIKey = maskSecret(c.Search.Tavily.APIKey)
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func resolveCredentials(cfg *Config) {
	cfg.OpenAI.APIKey = resolveKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	cfg.Anthropic.APIKey = resolveKey(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	cfg.Gemini.APIKey = resolveKey(cfg.Gemini.APIKey, "GEMINI_API_KEY")
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	cfg.Ollama.BaseURL = expandEnv(cfg.Ollama.BaseURL)
	cfg.Search.Tavily.APIKey = resolveKey(cfg.Search.Tavily.APIKey, "TAVILY_API_KEY")
	cfg.Search.Tavily.BaseURL = expandEnv(cfg.Search.Tavily.BaseURL)
	for name, p := range cfg.PromptPaths {
		cfg.PromptPaths[name] = expandEnv(p)
	}
}

// resolveKey uses the config value (with env expansion) or falls back to envVar.
func resolveKey(value, envVar string) string {
	value = expandEnv(value)
	if value == "" {
		value = os.Getenv(envVar)
	}
	return value
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for enrich.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "enrich"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "enrich"), nil
}

// GetDataDir returns the XDG data directory for enrich.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "enrich"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "enrich"), nil
}

// GetConfigPath returns the default config.yaml location.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
