package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel = "gemini-embedding-001"
	geminiEmbedTimeout = 2 * time.Minute
	geminiTaskType     = "SEMANTIC_SIMILARITY"
)

// GeminiProvider implements EmbeddingProvider using Google's Gemini API.
// The genai client is built on first use and reused afterwards.
type GeminiProvider struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: geminiDefaultModel}
}

func (p *GeminiProvider) Name() string {
	return "Gemini"
}

func (p *GeminiProvider) DefaultModel() string {
	return geminiDefaultModel
}

func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiEmbedTimeout)
	defer cancel()

	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, err
	}

	model := chooseModel(req.Model, p.model)
	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := client.Models.EmbedContent(ctx, model, contents, geminiEmbedConfig(req))
	if err != nil {
		return nil, fmt.Errorf("Gemini embedding API error: %w", err)
	}
	return newResult(model, req.Texts, geminiVectors(resp)), nil
}

// geminiEmbedConfig defaults the task type to semantic similarity, the
// comparison the cache runs on these vectors.
func geminiEmbedConfig(req EmbedRequest) *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: geminiTaskType}
	if req.TaskType != "" {
		cfg.TaskType = req.TaskType
	}
	if req.Dimensions > 0 {
		dim := int32(req.Dimensions)
		cfg.OutputDimensionality = &dim
	}
	return cfg
}

func geminiVectors(resp *genai.EmbedContentResponse) [][]float64 {
	if resp == nil {
		return nil
	}
	out := make([][]float64, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			out = append(out, nil)
			continue
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out = append(out, vec)
	}
	return out
}
