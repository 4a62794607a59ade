package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const tavilyAPIURL = "https://api.tavily.com"

// TavilyOptions configures the Tavily client.
type TavilyOptions struct {
	APIKey  string
	BaseURL string // empty = api.tavily.com
	Topic   string // news or general
	Depth   string // basic or advanced
	Timeout time.Duration
	Retries int // 0 = 2 retries, negative disables
}

// Tavily searches through the Tavily API.
type Tavily struct {
	client *resty.Client
	opts   TavilyOptions
	logger *zap.Logger
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	Topic             string `json:"topic"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	IncludeImages     bool   `json:"include_images"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func NewTavily(opts TavilyOptions, logger *zap.Logger) *Tavily {
	if opts.BaseURL == "" {
		opts.BaseURL = tavilyAPIURL
	}
	if opts.Topic == "" {
		opts.Topic = "news"
	}
	if opts.Depth == "" {
		opts.Depth = "basic"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch {
	case opts.Retries == 0:
		opts.Retries = 2
	case opts.Retries < 0:
		opts.Retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Tavily{client: client, opts: opts, logger: logger}
}

func (t *Tavily) Name() string {
	return "tavily"
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body := tavilyRequest{
		APIKey:      t.opts.APIKey,
		Query:       query,
		SearchDepth: t.opts.Depth,
		Topic:       t.opts.Topic,
		MaxResults:  maxResults,
	}

	t.logger.Debug("tavily search", zap.String("query", query), zap.Int("max_results", maxResults))

	var out tavilyResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tavily API returned %d: %s", resp.StatusCode(), resp.String())
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	t.logger.Debug("tavily search complete", zap.Int("results", len(results)))
	return results, nil
}
