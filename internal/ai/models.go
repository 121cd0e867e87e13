package ai

import (
	"sort"
	"strings"
)

// ModelInfo is catalog metadata used for cost logging and prompt budgets.
// Prices are illustrative.
type ModelInfo struct {
	Name          string  `yaml:"name"`
	Provider      string  `yaml:"provider"`
	ContextTokens int     `yaml:"context_tokens"`
	InputPerK     float64 `yaml:"input_per_k"`  // USD per 1K input tokens
	OutputPerK    float64 `yaml:"output_per_k"` // USD per 1K output tokens
}

var models = map[string]ModelInfo{
	"google/gemini-flash-1.5":          {Name: "google/gemini-flash-1.5", Provider: ProviderOpenRouter, ContextTokens: 1000000, InputPerK: 0.000075, OutputPerK: 0.0003},
	"google/gemini-pro-1.5":            {Name: "google/gemini-pro-1.5", Provider: ProviderOpenRouter, ContextTokens: 2000000, InputPerK: 0.00125, OutputPerK: 0.005},
	"openai/gpt-4o-mini":               {Name: "openai/gpt-4o-mini", Provider: ProviderOpenRouter, ContextTokens: 128000, InputPerK: 0.00015, OutputPerK: 0.0006},
	"anthropic/claude-3-haiku":         {Name: "anthropic/claude-3-haiku", Provider: ProviderOpenRouter, ContextTokens: 200000, InputPerK: 0.00025, OutputPerK: 0.00125},
	"meta-llama/llama-3.1-8b-instruct": {Name: "meta-llama/llama-3.1-8b-instruct", Provider: ProviderOpenRouter, ContextTokens: 128000, InputPerK: 0.00005, OutputPerK: 0.00005},
	"llama3.1:8b":                      {Name: "llama3.1:8b", Provider: ProviderOllama, ContextTokens: 128000},
	"qwen2.5:7b":                       {Name: "qwen2.5:7b", Provider: ProviderOllama, ContextTokens: 32000},
}

var defaultModels = map[string]string{
	ProviderOpenRouter: "google/gemini-flash-1.5",
	ProviderOllama:     "llama3.1:8b",
}

// LookupModel returns catalog metadata for name.
func LookupModel(name string) (ModelInfo, bool) {
	mi, ok := models[name]
	return mi, ok
}

// DefaultModel is the model used when ai_model does not fit the provider.
func DefaultModel(provider string) string { return defaultModels[provider] }

// ResolveModel keeps configured when it belongs to provider (or is unknown to
// the catalog) and otherwise falls back to the provider default.
func ResolveModel(provider, configured string) string {
	if configured == "" {
		return DefaultModel(provider)
	}
	if mi, ok := models[configured]; ok && mi.Provider != provider {
		return DefaultModel(provider)
	}
	if provider == ProviderOllama && strings.Contains(configured, "/") {
		return DefaultModel(provider)
	}
	return configured
}

// Catalog lists the known models of provider, or every model when provider
// is empty.
func Catalog(provider string) []ModelInfo {
	var out []ModelInfo
	for _, mi := range models {
		if provider == "" || mi.Provider == provider {
			out = append(out, mi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EstimateCostUSD prices a call; ok is false for models outside the catalog.
func EstimateCostUSD(model string, promptTokens, completionTokens int) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	return float64(promptTokens)/1000*mi.InputPerK + float64(completionTokens)/1000*mi.OutputPerK, true
}
