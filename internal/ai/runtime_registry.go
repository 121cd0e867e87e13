package ai

import (
	"fmt"
	"sort"
	"time"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

// RuntimeFactory builds a Runtime; it reports optional.ErrUnavailable when
// the provider is not usable with the given settings.
type RuntimeFactory func(RuntimeConfig) (Runtime, error)

// RuntimeConfig carries the knobs shared by runtimes.
type RuntimeConfig struct {
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	APIKey      string
	Host        string
}

// RuntimeConfigFrom maps the global configuration.
func RuntimeConfigFrom(c *config.Global) RuntimeConfig {
	return RuntimeConfig{
		HTTPTimeout: c.AITimeout(),
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		APIKey:      c.APIKey,
		Host:        c.OllamaHost,
	}
}

var registry = map[string]RuntimeFactory{}

// RegisterRuntime registers a provider name with its factory.
func RegisterRuntime(name string, f RuntimeFactory) { registry[name] = f }

// Providers lists the registered provider names.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewRuntime creates the runtime for provider.
func NewRuntime(provider string, cfg RuntimeConfig) (Runtime, error) {
	f, ok := registry[provider]
	if !ok {
		return nil, fmt.Errorf("unknown ai provider %q", provider)
	}
	return f(cfg)
}

func init() {
	RegisterRuntime(ProviderOpenRouter, func(c RuntimeConfig) (Runtime, error) {
		if c.APIKey == "" {
			return nil, optional.ErrUnavailable
		}
		return NewClient(c.APIKey, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay), nil
	})
	RegisterRuntime(ProviderOllama, func(c RuntimeConfig) (Runtime, error) {
		return NewOllamaClient(c.Host, c.HTTPTimeout, c.RetryMax, c.BaseDelay), nil
	})
	RegisterRuntime(ProviderNone, func(RuntimeConfig) (Runtime, error) {
		return nil, optional.ErrUnavailable
	})
}
