// Package ollama implements llm.Provider for a local Ollama server through
// langchaingo. It is the default backend for both embedding and answers.
package ollama

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"

	"github.com/efebarandurmaz/docrag/internal/llm"
)

const (
	DefaultServerURL  = "http://localhost:11434"
	DefaultModel      = "llama3.2"
	DefaultEmbedModel = "nomic-embed-text"
)

// generator and embedder are the slices of *lcollama.LLM this package uses.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type embedder interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

// Client talks to one Ollama server with separate generation and embedding models.
type Client struct {
	serverURL string
	gen       generator
	emb       embedder
}

// New connects generation and embedding models on serverURL.
func New(serverURL, model, embedModel string) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if model == "" {
		model = DefaultModel
	}
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}

	gen, err := lcollama.New(lcollama.WithModel(model), lcollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("ollama generation model %s: %w", model, err)
	}
	emb, err := lcollama.New(lcollama.WithModel(embedModel), lcollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("ollama embedding model %s: %w", embedModel, err)
	}
	return &Client{serverURL: serverURL, gen: gen, emb: emb}, nil
}

func (c *Client) Name() string { return "ollama" }

// ServerURL reports the endpoint in use.
func (c *Client) ServerURL() string { return c.serverURL }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	var msgs []llms.MessageContent
	if prompt.SystemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, prompt.SystemPrompt))
	}
	for _, m := range prompt.Messages {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if opts != nil {
		if opts.MaxTokens != nil {
			callOpts = append(callOpts, llms.WithMaxTokens(*opts.MaxTokens))
		}
		if opts.Temperature != nil {
			callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
		}
		if opts.TopP != nil {
			callOpts = append(callOpts, llms.WithTopP(*opts.TopP))
		}
		if len(opts.StopSeqs) > 0 {
			callOpts = append(callOpts, llms.WithStopWords(opts.StopSeqs))
		}
	}

	resp, err := c.gen.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ollama: empty completion")
	}
	choice := resp.Choices[0]
	out := &llm.Response{Content: choice.Content, StopReason: choice.StopReason}
	if n, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		out.InputTokens = n
	}
	if n, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		out.OutputTokens = n
	}
	return out, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.emb.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Ping embeds a single token, which fails fast when the server is down
// or the embedding model has not been pulled.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}

func messageType(r llm.Role) llms.ChatMessageType {
	switch r {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
