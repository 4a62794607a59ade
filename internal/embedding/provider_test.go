package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openai/openai-go/option"
	"github.com/samsaffron/enrich/internal/config"
	"google.golang.org/genai"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "opposite vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{-1, 0, 0},
			expected: -1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{0, 1, 0},
			expected: 0.0,
		},
		{
			name:     "similar vectors",
			a:        []float64{1, 1, 0},
			b:        []float64{1, 0, 0},
			expected: 1.0 / math.Sqrt(2),
		},
		{
			name:     "zero vector",
			a:        []float64{0, 0, 0},
			b:        []float64{1, 0, 0},
			expected: 0.0,
		},
		{
			name:     "empty vectors",
			a:        []float64{},
			b:        []float64{},
			expected: 0.0,
		},
		{
			name:     "mismatched lengths",
			a:        []float64{1, 2},
			b:        []float64{1, 2, 3},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	if got := CosineDistance([]float64{0.3, 0.4}, []float64{0.6, 0.8}); math.Abs(got) > 1e-12 {
		t.Fatalf("distance of parallel vectors=%v, want 0", got)
	}
	if got := CosineDistance([]float64{1, 0}, []float64{0, 1}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("distance of orthogonal vectors=%v, want 1", got)
	}
}

func TestNewEmbeddingProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantName string
		wantErr  bool
	}{
		{name: "openai default", cfg: config.Config{OpenAI: config.ProviderConfig{APIKey: "sk"}}, wantName: "OpenAI"},
		{name: "openai missing key", cfg: config.Config{EmbeddingProvider: "openai"}, wantErr: true},
		{name: "gemini", cfg: config.Config{EmbeddingProvider: "gemini", Gemini: config.ProviderConfig{APIKey: "g"}}, wantName: "Gemini"},
		{name: "ollama", cfg: config.Config{EmbeddingProvider: "ollama"}, wantName: "Ollama"},
		{name: "unknown", cfg: config.Config{EmbeddingProvider: "jina"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewEmbeddingProvider(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEmbeddingProvider: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Fatalf("Name()=%q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNewEmbeddingProviderModelOverride(t *testing.T) {
	p, err := NewEmbeddingProvider(&config.Config{EmbeddingProvider: "ollama", EmbeddingModel: "mxbai-embed-large"})
	if err != nil {
		t.Fatalf("NewEmbeddingProvider: %v", err)
	}
	if got := p.(*OllamaProvider).model; got != "mxbai-embed-large" {
		t.Fatalf("model=%q, want mxbai-embed-large", got)
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path=%q, want /api/embed", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != ollamaDefaultModel || len(req.Input) != 2 {
			t.Errorf("request=%+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3],[0.4,0.5,0.6]]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL + "/")
	res, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Dimensions != 3 || len(res.Embeddings) != 2 {
		t.Fatalf("result=%+v", res)
	}
	if res.Embeddings[1].Text != "b" || res.Embeddings[1].Vector[0] != 0.4 {
		t.Fatalf("second embedding=%+v", res.Embeddings[1])
	}
}

func TestOllamaEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewOllamaProvider(srv.URL).Embed(context.Background(), EmbedRequest{Texts: []string{"a"}}); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path=%q, want /embeddings", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	vec, err := EmbedText(context.Background(), p, "how many customers?")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(vec) != 2 || vec[0] != 1 {
		t.Fatalf("vector=%v, want [1 0]", vec)
	}
}

type emptyProvider struct{}

func (emptyProvider) Name() string         { return "empty" }
func (emptyProvider) DefaultModel() string { return "" }
func (emptyProvider) Embed(context.Context, EmbedRequest) (*EmbeddingResult, error) {
	return &EmbeddingResult{}, nil
}

func TestEmbedTextNoVectors(t *testing.T) {
	if _, err := EmbedText(context.Background(), emptyProvider{}, "x"); !errors.Is(err, ErrNoEmbedding) {
		t.Fatalf("err=%v, want ErrNoEmbedding", err)
	}
}

func TestGeminiEmbedConfig(t *testing.T) {
	tests := []struct {
		name     string
		req      EmbedRequest
		wantTask string
		wantDim  int32
	}{
		{name: "defaults", req: EmbedRequest{}, wantTask: "SEMANTIC_SIMILARITY"},
		{name: "task override", req: EmbedRequest{TaskType: "RETRIEVAL_QUERY"}, wantTask: "RETRIEVAL_QUERY"},
		{name: "dimensions", req: EmbedRequest{Dimensions: 768}, wantTask: "SEMANTIC_SIMILARITY", wantDim: 768},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := geminiEmbedConfig(tc.req)
			if cfg.TaskType != tc.wantTask {
				t.Fatalf("TaskType=%q, want %q", cfg.TaskType, tc.wantTask)
			}
			var dim int32
			if cfg.OutputDimensionality != nil {
				dim = *cfg.OutputDimensionality
			}
			if dim != tc.wantDim {
				t.Fatalf("OutputDimensionality=%d, want %d", dim, tc.wantDim)
			}
		})
	}
}

func TestGeminiVectorsResult(t *testing.T) {
	resp := &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{
		{Values: []float32{0.5, -1}},
		{Values: []float32{2, 0}},
	}}
	got := newResult("gemini-embedding-001", []string{"a", "b"}, geminiVectors(resp))
	want := &EmbeddingResult{
		Model:      "gemini-embedding-001",
		Dimensions: 2,
		Embeddings: []Embedding{
			{Text: "a", Index: 0, Vector: []float64{0.5, -1}},
			{Text: "b", Index: 1, Vector: []float64{2, 0}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if v := geminiVectors(nil); v != nil {
		t.Fatalf("geminiVectors(nil)=%v", v)
	}
}
