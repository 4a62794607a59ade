// Package search queries web search services for candidate pages.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/samsaffron/enrich/internal/config"
	"go.uber.org/zap"
)

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher runs a web search.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// New picks the configured search backend. Tavily is used when a key is
// available; otherwise DuckDuckGo's HTML endpoint.
func New(cfg config.SearchConfig, logger *zap.Logger) (Searcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "tavily":
		if cfg.Tavily.APIKey == "" {
			logger.Warn("TAVILY_API_KEY not set, falling back to duckduckgo")
			return NewDuckDuckGo(nil), nil
		}
		return NewTavily(TavilyOptions{
			APIKey:  cfg.Tavily.APIKey,
			BaseURL: cfg.Tavily.BaseURL,
			Topic:   cfg.Topic,
			Depth:   cfg.Depth,
		}, logger), nil
	case "duckduckgo", "ddg":
		return NewDuckDuckGo(nil), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s (valid: tavily, duckduckgo)", cfg.Provider)
	}
}

// IsPDF reports whether url points at a PDF document.
func IsPDF(url string) bool {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "/pdf/")
}

// FilterDocuments drops PDFs, empty URLs and repeated URLs, keeping order.
func FilterDocuments(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		url := strings.TrimSpace(r.URL)
		if url == "" || IsPDF(url) || seen[url] {
			continue
		}
		seen[url] = true
		r.URL = url
		out = append(out, r)
	}
	return out
}
