package llm

import (
	"context"
	"math"
	"testing"

	"manuscript-ai-api/internal/config"
)

func testConfig() *config.LLMConfig {
	return &config.LLMConfig{
		DefaultProvider: "main",
		Providers: map[string]config.ProviderConfig{
			"main":  {Model: "gpt-4o-mini", APIKey: "k", PromptPricePer1K: 0.5, CompletionPricePer1K: 1.5},
			"cheap": {Model: "small", APIKey: "k"},
		},
		StageProviders: map[string]string{"fact_check": "cheap"},
	}
}

func TestEstimateUSD_UsesProviderPrices(t *testing.T) {
	f := NewEinoFactory(testConfig())
	got := f.EstimateUSD("main", 2000, 1000)
	if math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("EstimateUSD = %v, want 2.5", got)
	}
	if got := f.EstimateUSD("", 1000, 0); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("default provider = %v", got)
	}
	if got := f.EstimateUSD("missing", 1000, 1000); got != 0 {
		t.Fatalf("unknown provider = %v", got)
	}
}

func TestProviderFor_StageOverride(t *testing.T) {
	f := NewEinoFactory(testConfig())
	if got := f.ProviderFor("fact_check"); got != "cheap" {
		t.Fatalf("fact_check = %q", got)
	}
	if got := f.ProviderFor("draft"); got != "" {
		t.Fatalf("draft = %q", got)
	}
}

func TestGet_UnknownProvider(t *testing.T) {
	f := NewEinoFactory(testConfig())
	if _, err := f.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error")
	}
}
