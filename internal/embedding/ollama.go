package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ollamaDefaultModel = "nomic-embed-text"
	ollamaEmbedTimeout = 2 * time.Minute
)

// OllamaProvider implements EmbeddingProvider using Ollama's native /api/embed.
type OllamaProvider struct {
	client  *resty.Client
	baseURL string
	model   string
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &OllamaProvider{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(ollamaEmbedTimeout),
		baseURL: baseURL,
		model:   ollamaDefaultModel,
	}
}

func (p *OllamaProvider) Name() string {
	return "Ollama"
}

func (p *OllamaProvider) DefaultModel() string {
	return ollamaDefaultModel
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

func (p *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error) {
	var out ollamaEmbedResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: chooseModel(req.Model, p.model), Input: req.Texts}).
		SetResult(&out).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("Ollama request failed (is Ollama running at %s?): %w", p.baseURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	return newResult(out.Model, req.Texts, out.Embeddings), nil
}
