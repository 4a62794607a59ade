package llm

import (
	"fmt"
	"strings"

	"github.com/samsaffron/enrich/internal/config"
	"go.uber.org/zap"
)

// builtInProviders lists the accepted llm_provider values.
var builtInProviders = []string{"openai", "anthropic", "gemini", "google", "ollama"}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-5",
	"gemini":    "gemini-2.5-flash",
	"google":    "gemini-2.5-flash",
	"ollama":    "llama3.1",
}

// ProviderNames returns the accepted provider names.
func ProviderNames() []string {
	return append([]string(nil), builtInProviders...)
}

// DefaultModel returns the model used when only a provider is named.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(provider)]
}

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
// Returns (provider, model, error). Model will be empty if not specified.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.ToLower(strings.TrimSpace(parts[0]))
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	for _, name := range builtInProviders {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s (valid: %s)", provider, strings.Join(builtInProviders, ", "))
}

// NewProvider creates the provider named by llm_provider/llm_name.
// Providers are wrapped with automatic retry for rate limits (429) and transient errors.
func NewProvider(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	return NewProviderByName(cfg, cfg.LLMProvider, cfg.LLMName, logger)
}

// NewProviderByName creates a provider with explicit name and model,
// taking credentials from cfg. Used for per-component overrides.
func NewProviderByName(cfg *config.Config, name, model string, logger *zap.Logger) (Provider, error) {
	provider, err := createProvider(cfg, strings.ToLower(strings.TrimSpace(name)), model)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, DefaultRetryConfig(), logger), nil
}

func createProvider(cfg *config.Config, name, model string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.APIKey, model)
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, model)
	case "gemini", "google":
		return NewGeminiProvider(cfg.Gemini.APIKey, model)
	case "ollama":
		return NewOpenAICompatProvider(cfg.Ollama.BaseURL, cfg.Ollama.APIKey, model, "Ollama"), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q (valid: %s)", name, strings.Join(builtInProviders, ", "))
	}
}
