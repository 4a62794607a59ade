package cmd

import (
	"fmt"

	"github.com/samsaffron/enrich/internal/config"
	"github.com/samsaffron/enrich/internal/llm"
	"github.com/samsaffron/enrich/internal/prompt"
	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/runs"
	"github.com/samsaffron/enrich/internal/scrape"
	"github.com/samsaffron/enrich/internal/search"
	"github.com/samsaffron/enrich/internal/sheet"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyProviderOverrides applies a --provider flag value. Naming only a
// different provider switches to that provider's default model.
func applyProviderOverrides(cfg *config.Config, providerFlag string) error {
	if providerFlag == "" {
		return nil
	}
	provider, model, err := llm.ParseProviderModel(providerFlag)
	if err != nil {
		return err
	}
	if model == "" && provider != cfg.LLMProvider {
		model = llm.DefaultModel(provider)
	}
	cfg.ApplyOverrides(provider, model)
	return nil
}

func temperature(v float64) *float64 {
	return &v
}

// newResearchAgent wires the research graph from config.
func newResearchAgent(cfg *config.Config, onMessage func(research.Message)) (*research.Agent, error) {
	provider, err := llm.NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	searcher, err := search.New(cfg.Search, logger)
	if err != nil {
		return nil, err
	}
	prompts, err := prompt.NewManager(cfg.PromptPaths)
	if err != nil {
		return nil, err
	}
	fetcher := scrape.NewFetcher(scrape.Options{
		Timeout:            cfg.Scrape.Timeout,
		MaxChars:           cfg.Scrape.MaxChars,
		InsecureSkipVerify: cfg.Scrape.InsecureSkipVerify,
	})
	opts := research.Options{
		MaxLoops:         cfg.MaxLoops,
		MaxSearchResults: cfg.MaxSearchResults,
		Concurrency:      cfg.ExtractConcurrency,
		Model:            cfg.LLMName,
		Temperature:      temperature(cfg.LLMTemperature),
		OnMessage:        onMessage,
	}
	return research.NewAgent(searcher, fetcher, provider, prompts, sheet.NewSaver(logger), opts, logger), nil
}

func openRunStore(cfg *config.Config) (*runs.Store, error) {
	store, err := runs.NewStore(runs.Config{Path: cfg.Runs.Path})
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}
