// Package gemini implements llm.Provider with the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/efebarandurmaz/docrag/internal/llm"
)

const (
	DefaultModel      = "gemini-2.5-flash"
	DefaultEmbedModel = "text-embedding-004"
)

// models is the subset of *genai.Models used here.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client implements llm.Provider for the Gemini API.
type Client struct {
	model      string
	embedModel string
	api        models
}

// New creates a Gemini provider. baseURL is optional.
func New(ctx context.Context, apiKey, model, baseURL, embedModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required (set DOCRAG_LLM_API_KEY or GEMINI_API_KEY)")
	}
	if model == "" {
		model = DefaultModel
	}
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Client{model: model, embedModel: embedModel, api: client.Models}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	var contents []*genai.Content
	for _, m := range prompt.Messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	cfg := &genai.GenerateContentConfig{}
	if prompt.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.SystemPrompt}}}
	}
	if opts != nil {
		if opts.MaxTokens != nil {
			cfg.MaxOutputTokens = int32(*opts.MaxTokens)
		}
		if opts.Temperature != nil {
			t := float32(*opts.Temperature)
			cfg.Temperature = &t
		}
		if opts.TopP != nil {
			p := float32(*opts.TopP)
			cfg.TopP = &p
		}
		cfg.StopSequences = opts.StopSeqs
	}

	resp, err := c.api.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	out := &llm.Response{Content: resp.Text(), Model: c.model}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	resp, err := c.api.EmbedContent(ctx, c.embedModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Ping embeds a single token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}
