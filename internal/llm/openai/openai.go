// Package openai implements llm.Provider on top of go-openai. It serves
// OpenAI itself and every OpenAI-compatible endpoint (vLLM, LM Studio, Groq).
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/efebarandurmaz/docrag/internal/llm"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	defaultMaxTokens  = 1024
)

// Client implements llm.Provider for OpenAI-compatible APIs.
type Client struct {
	name       string
	model      string
	embedModel string
	baseURL    string
	api        *goopenai.Client
}

// New creates an OpenAI-compatible provider. name is reported by Name so
// presets such as "vllm" keep their identity in logs.
func New(name, apiKey, model, baseURL, embedModel string) *Client {
	if name == "" {
		name = "openai"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if embedModel == "" {
		embedModel = defaultEmbedModel
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		name:       name,
		model:      model,
		embedModel: embedModel,
		baseURL:    baseURL,
		api:        goopenai.NewClientWithConfig(cfg),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	var msgs []goopenai.ChatCompletionMessage
	if prompt.SystemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: prompt.SystemPrompt})
	}
	for _, m := range prompt.Messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	req := goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: defaultMaxTokens,
	}
	if opts != nil {
		if opts.MaxTokens != nil {
			req.MaxTokens = *opts.MaxTokens
		}
		if opts.Temperature != nil {
			req.Temperature = float32(*opts.Temperature)
		}
		if opts.TopP != nil {
			req.TopP = float32(*opts.TopP)
		}
		req.Stop = opts.StopSeqs
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty completion", c.name)
	}
	return &llm.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(resp.Choices[0].FinishReason),
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(c.embedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", c.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: got %d vectors for %d texts", c.name, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s embed: index %d out of range", c.name, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = v
	}
	return out, nil
}

// Ping lists models, which every compatible server exposes without side effects.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode < 500 {
		// Reachable, even if the listing itself is refused.
		return nil
	}
	return err
}
