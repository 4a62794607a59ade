package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	openaiDefaultModel = "text-embedding-3-small"
	openaiEmbedTimeout = 2 * time.Minute
)

// OpenAIProvider implements EmbeddingProvider using OpenAI's embeddings API
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  openaiDefaultModel,
	}
}

func (p *OpenAIProvider) Name() string {
	return "OpenAI"
}

func (p *OpenAIProvider) DefaultModel() string {
	return openaiDefaultModel
}

func (p *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error) {
	params := openai.EmbeddingNewParams{
		Model: chooseModel(req.Model, p.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: req.Texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if req.Dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(req.Dimensions))
	}

	ctx, cancel := context.WithTimeout(ctx, openaiEmbedTimeout)
	defer cancel()

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding API error: %w", err)
	}

	result := &EmbeddingResult{
		Model:      resp.Model,
		Embeddings: make([]Embedding, len(resp.Data)),
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.TotalTokens > 0 {
		result.Usage = &UsageInfo{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	for i, emb := range resp.Data {
		result.Embeddings[i] = Embedding{Index: int(emb.Index), Vector: emb.Embedding}
		if int(emb.Index) < len(req.Texts) {
			result.Embeddings[i].Text = req.Texts[emb.Index]
		}
	}
	setDimensions(result)
	return result, nil
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// newResult pairs vectors with their input texts by position.
func newResult(model string, texts []string, vectors [][]float64) *EmbeddingResult {
	result := &EmbeddingResult{
		Model:      model,
		Embeddings: make([]Embedding, len(vectors)),
	}
	for i, vec := range vectors {
		result.Embeddings[i] = Embedding{Index: i, Vector: vec}
		if i < len(texts) {
			result.Embeddings[i].Text = texts[i]
		}
	}
	setDimensions(result)
	return result
}

func setDimensions(result *EmbeddingResult) {
	if len(result.Embeddings) > 0 {
		result.Dimensions = len(result.Embeddings[0].Vector)
	}
}
