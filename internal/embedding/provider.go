package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samsaffron/enrich/internal/config"
)

// ErrNoEmbedding is returned when a provider answers without vectors.
var ErrNoEmbedding = errors.New("provider returned no embeddings")

// EmbeddingResult contains the embeddings and metadata from an API call
type EmbeddingResult struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings []Embedding `json:"embeddings"`
	Usage      *UsageInfo  `json:"usage,omitempty"`
}

// Embedding holds a single text's embedding vector
type Embedding struct {
	Text   string    `json:"text"`
	Index  int       `json:"index"`
	Vector []float64 `json:"vector"`
}

type UsageInfo struct {
	PromptTokens int64 `json:"prompt_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// EmbedRequest contains parameters for generating embeddings
type EmbedRequest struct {
	Texts      []string
	Model      string // empty = provider default
	Dimensions int    // 0 = model default
	TaskType   string // Gemini task type hint
}

// EmbeddingProvider turns texts into vectors.
type EmbeddingProvider interface {
	Name() string
	DefaultModel() string
	Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error)
}

// NewEmbeddingProvider creates the provider named by embedding_provider,
// using embedding_model when set.
func NewEmbeddingProvider(cfg *config.Config) (EmbeddingProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	model := strings.TrimSpace(cfg.EmbeddingModel)

	switch provider {
	case "", "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not configured. Set environment variable or add to openai.api_key in config")
		}
		p := NewOpenAIProvider(cfg.OpenAI.APIKey)
		if model != "" {
			p.model = model
		}
		return p, nil

	case "gemini", "google":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not configured. Set environment variable or add to gemini.api_key in config")
		}
		p := NewGeminiProvider(cfg.Gemini.APIKey)
		if model != "" {
			p.model = model
		}
		return p, nil

	case "ollama":
		p := NewOllamaProvider(cfg.Ollama.BaseURL)
		if model != "" {
			p.model = model
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid: openai, gemini, ollama)", provider)
	}
}

// EmbedText embeds a single text and returns its vector.
func EmbedText(ctx context.Context, p EmbeddingProvider, text string) ([]float64, error) {
	res, err := p.Embed(ctx, EmbedRequest{Texts: []string{text}})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Vector) == 0 {
		return nil, ErrNoEmbedding
	}
	return res.Embeddings[0].Vector, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// CosineDistance is 1 - CosineSimilarity; 0 means identical direction.
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}
