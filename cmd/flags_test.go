package cmd

import (
	"testing"

	"github.com/samsaffron/enrich/internal/config"
)

func TestApplyProviderOverrides(t *testing.T) {
	tests := []struct {
		name         string
		flag         string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{name: "no flag", flag: "", wantProvider: "openai", wantModel: "gpt-4o-mini"},
		{name: "provider with model", flag: "anthropic:claude-opus-4", wantProvider: "anthropic", wantModel: "claude-opus-4"},
		{name: "other provider default model", flag: "gemini", wantProvider: "gemini", wantModel: "gemini-2.5-flash"},
		{name: "same provider keeps model", flag: "openai", wantProvider: "openai", wantModel: "gpt-4o-mini"},
		{name: "unknown provider", flag: "bedrock", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{LLMProvider: "openai", LLMName: "gpt-4o-mini"}
			err := applyProviderOverrides(cfg, tc.flag)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.LLMProvider != tc.wantProvider || cfg.LLMName != tc.wantModel {
				t.Fatalf("got %s:%s, want %s:%s", cfg.LLMProvider, cfg.LLMName, tc.wantProvider, tc.wantModel)
			}
		})
	}
}

func TestProviderFlagCompletion(t *testing.T) {
	got, _ := ProviderFlagCompletion(nil, nil, "anth")
	if len(got) != 2 || got[0] != "anthropic" || got[1] != "anthropic:claude-sonnet-4-5" {
		t.Fatalf("completions=%v", got)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("newLogger(debug): %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
