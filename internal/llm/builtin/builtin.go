// Package builtin wires the bundled provider constructors into an llm factory.
package builtin

import (
	"context"
	"os"

	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/llm/gemini"
	"github.com/efebarandurmaz/docrag/internal/llm/ollama"
	"github.com/efebarandurmaz/docrag/internal/llm/openai"
)

// RegisterDefaultProviders registers ollama, openai, gemini and every
// OpenAI-compatible preset into factory.
func RegisterDefaultProviders(factory *llm.ProviderFactory) {
	factory.Register("ollama", func(c llm.ProviderConfig) (llm.Provider, error) {
		return ollama.New(c.BaseURL, c.Model, c.EmbedModel)
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New("openai", apiKey(c.APIKey, "OPENAI_API_KEY"), c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("gemini", func(c llm.ProviderConfig) (llm.Provider, error) {
		return gemini.New(context.Background(), apiKey(c.APIKey, "GEMINI_API_KEY"), c.Model, c.BaseURL, c.EmbedModel)
	})
	for _, name := range llm.OpenAICompatible {
		name := name
		factory.Register(name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = llm.KnownProviders[name]
			}
			return openai.New(name, c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
}

// NewFactory returns a factory with every bundled provider registered.
func NewFactory() *llm.ProviderFactory {
	f := llm.NewFactory()
	RegisterDefaultProviders(f)
	return f
}

func apiKey(configured, env string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(env)
}
