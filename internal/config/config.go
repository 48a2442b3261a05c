// Package config loads docrag settings from an optional YAML file, .env
// files and DOCRAG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/efebarandurmaz/docrag/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Query     QueryConfig     `mapstructure:"query"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type IndexConfig struct {
	Backend string       `mapstructure:"backend"` // local, qdrant or chroma
	Dir     string       `mapstructure:"dir"`
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
	Chroma  ChromaConfig `mapstructure:"chroma"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type ChromaConfig struct {
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	BatchSize int    `mapstructure:"batch_size"`
	Workers   int    `mapstructure:"workers"`
	// Dimension pins the expected vector size; 0 adopts the index's.
	Dimension int    `mapstructure:"dimension"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type IngestConfig struct {
	// Workers bounds how many documents are loaded and embedded at once.
	Workers int `mapstructure:"workers"`
}

type OCRConfig struct {
	Engine       string `mapstructure:"engine"`
	Lang         string `mapstructure:"lang"`
	DPI          int    `mapstructure:"dpi"`
	TesseractCmd string `mapstructure:"tesseract_cmd"`
	TessdataDir  string `mapstructure:"tessdata_dir"`
	EasyOCRCmd   string `mapstructure:"easyocr_cmd"`
	GPU          bool   `mapstructure:"gpu"`
	Workers      int    `mapstructure:"workers"`
	Pages        string `mapstructure:"pages"` // auto, all or missing
}

type QueryConfig struct {
	NumChunks int     `mapstructure:"num_chunks"`
	// Threshold drops hits below this similarity; 0 disables it.
	Threshold float64 `mapstructure:"threshold"`
}

type PDFConfig struct {
	LicenseKey string `mapstructure:"license_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

var (
	backends    = []string{"local", "qdrant", "chroma"}
	ocrEngines  = []string{"classical", "neural", "tesseract", "easyocr"}
	pagePolices = []string{"auto", "all", "missing"}
)

// setDefaults registers every key so environment overrides reach Unmarshal
// even when no config file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("index.backend", "local")
	v.SetDefault("index.dir", "db")
	v.SetDefault("index.qdrant.host", "localhost")
	v.SetDefault("index.qdrant.port", 6334)
	v.SetDefault("index.qdrant.collection", "docrag")
	v.SetDefault("index.chroma.url", "http://localhost:8000")
	v.SetDefault("index.chroma.collection", "docrag")

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.workers", 4)
	v.SetDefault("embedding.dimension", 0)

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "llama3.2")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("chunk.size", 1000)
	v.SetDefault("chunk.overlap", 200)

	v.SetDefault("ingest.workers", 1)

	v.SetDefault("ocr.engine", "classical")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.tesseract_cmd", "tesseract")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.easyocr_cmd", "easyocr")
	v.SetDefault("ocr.gpu", true)
	v.SetDefault("ocr.workers", 0)
	v.SetDefault("ocr.pages", "auto")

	v.SetDefault("query.num_chunks", 4)
	v.SetDefault("query.threshold", 0.0)

	v.SetDefault("pdf.license_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "docrag")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration from path (optional), .env files and the
// environment. With an empty path, ./docrag.yaml is used when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOCRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("docrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration for soft issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	for _, p := range []struct{ section, provider, key, env string }{
		{"llm", c.LLM.Provider, c.LLM.APIKey, "OPENAI_API_KEY"},
		{"embedding", c.Embedding.Provider, c.Embedding.APIKey, "OPENAI_API_KEY"},
	} {
		env := p.env
		if p.provider == "gemini" {
			env = "GEMINI_API_KEY"
		}
		if needsAPIKey(p.provider) && p.key == "" && os.Getenv(env) == "" {
			warnings = append(warnings, fmt.Sprintf("%s provider '%s' is configured but api_key is empty", p.section, p.provider))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}
	if c.OCR.DPI > 0 && c.OCR.DPI < 150 {
		warnings = append(warnings, fmt.Sprintf("OCR dpi %d is low; recognition quality drops below 150", c.OCR.DPI))
	}
	if c.Query.Threshold < 0 || c.Query.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("query threshold %.2f is outside [0, 1]", c.Query.Threshold))
	}
	if c.Embedding.Provider != c.LLM.Provider && c.Embedding.BaseURL == "" && c.LLM.BaseURL != "" {
		warnings = append(warnings, "llm.base_url is set but embedding.base_url is not; embeddings use the provider default")
	}
	return warnings
}

// Check returns an error for settings the pipelines cannot run with.
func (c *Config) Check() error {
	var errs []error
	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", c.Chunk.Overlap))
	}
	if c.OCR.DPI <= 0 {
		errs = append(errs, fmt.Errorf("ocr.dpi must be positive, got %d", c.OCR.DPI))
	}
	if !oneOf(c.Index.Backend, backends) {
		errs = append(errs, fmt.Errorf("index.backend must be one of %s, got %q", strings.Join(backends, ", "), c.Index.Backend))
	}
	if !oneOf(strings.ToLower(c.OCR.Engine), ocrEngines) {
		errs = append(errs, fmt.Errorf("ocr.engine must be one of %s, got %q", strings.Join(ocrEngines, ", "), c.OCR.Engine))
	}
	if !oneOf(c.OCR.Pages, pagePolices) {
		errs = append(errs, fmt.Errorf("ocr.pages must be one of %s, got %q", strings.Join(pagePolices, ", "), c.OCR.Pages))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Query.NumChunks < 1 {
		errs = append(errs, fmt.Errorf("query.num_chunks must be at least 1, got %d", c.Query.NumChunks))
	}
	if c.Embedding.Provider == "" || c.Embedding.Provider == "none" {
		errs = append(errs, errors.New("embedding.provider must be set"))
	}
	return errors.Join(errs...)
}

// EmbeddingProvider returns the provider settings for embedding calls.
func (c *Config) EmbeddingProvider() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:          c.Embedding.Provider,
		APIKey:            c.Embedding.APIKey,
		Model:             c.LLM.Model,
		EmbedModel:        c.Embedding.Model,
		BaseURL:           c.Embedding.BaseURL,
		Timeout:           c.LLM.Timeout,
		MaxRetries:        c.LLM.MaxRetries,
		RetryDelay:        c.LLM.RetryDelay,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}

// GenerationProvider returns the provider settings for answer generation.
func (c *Config) GenerationProvider() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:          c.LLM.Provider,
		APIKey:            c.LLM.APIKey,
		Model:             c.LLM.Model,
		EmbedModel:        c.Embedding.Model,
		BaseURL:           c.LLM.BaseURL,
		Timeout:           c.LLM.Timeout,
		MaxRetries:        c.LLM.MaxRetries,
		RetryDelay:        c.LLM.RetryDelay,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}

func needsAPIKey(provider string) bool {
	switch provider {
	case "", "none", "ollama", "lmstudio", "vllm", "custom":
		return false
	}
	return true
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
