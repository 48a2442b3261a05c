package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProviderConfig holds everything needed to create any provider.
type ProviderConfig struct {
	Provider   string // "ollama", "openai", "gemini", or an OpenAI-compatible preset
	APIKey     string
	Model      string // generation model
	EmbedModel string // embedding model
	BaseURL    string // override for self-hosted endpoints

	Timeout           time.Duration // per-request timeout
	MaxRetries        int
	RetryDelay        time.Duration // initial backoff delay
	RequestsPerMinute int           // 0 disables rate limiting
}

// DefaultProviderConfig is the local-endpoint setup the CLI starts from.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:   "ollama",
		Model:      "llama3.2",
		EmbedModel: "nomic-embed-text",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config. Returns nil (no error) when the
// provider is empty or "none", which callers treat as "no model available".
// The result is wrapped with retry, then rate limiting when configured.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %s)", cfg.Provider, strings.Join(f.Names(), ", "))
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", cfg.Provider, err)
	}

	if cfg.Timeout > 0 || cfg.MaxRetries > 0 {
		provider = WrapWithRetry(provider, cfg)
	}
	if cfg.RequestsPerMinute > 0 {
		provider = WithRateLimit(provider, &RateLimitConfig{RequestsPerMinute: cfg.RequestsPerMinute})
	}
	return provider, nil
}

// Names lists registered providers, sorted.
func (f *ProviderFactory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders maps provider presets to their default endpoints.
//
//	ollama    → http://localhost:11434
//	openai    → https://api.openai.com/v1
//	gemini    → Gemini API (endpoint chosen by the SDK)
//	groq      → https://api.groq.com/openai/v1
//	together  → https://api.together.xyz/v1
//	deepseek  → https://api.deepseek.com/v1
//	lmstudio  → http://localhost:1234/v1
//	vllm      → http://localhost:8000/v1
var KnownProviders = map[string]string{
	"ollama":   "http://localhost:11434",
	"openai":   "https://api.openai.com/v1",
	"gemini":   "",
	"groq":     "https://api.groq.com/openai/v1",
	"together": "https://api.together.xyz/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"lmstudio": "http://localhost:1234/v1",
	"vllm":     "http://localhost:8000/v1",
}

// OpenAICompatible lists presets served through the OpenAI wire protocol.
var OpenAICompatible = []string{"groq", "together", "deepseek", "lmstudio", "vllm", "custom"}
