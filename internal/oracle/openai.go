package oracle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIBackend calls an OpenAI-compatible chat completion endpoint.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIOptions configure an OpenAIBackend.
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string // optional, for compatible gateways
	Model     string
	MaxTokens int
}

// NewOpenAIBackend creates a backend. An empty API key is an error.
func NewOpenAIBackend(opts OpenAIOptions) (*OpenAIBackend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai backend: API key not set")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: 0,
	}
	if b.maxTokens > 0 {
		req.MaxCompletionTokens = b.maxTokens
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// BackendOptions select and configure a backend by name.
type BackendOptions struct {
	Kind       string // none, claude, openai
	ClaudePath string
	Model      string
	BaseURL    string
	APIKeyEnv  string
	MaxTokens  int
}

// NewBackend builds the backend named by opts.Kind. Kind "none" (or empty)
// returns a nil backend, which makes every consultation fail fast.
func NewBackend(opts BackendOptions) (Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case "", "none":
		return nil, nil
	case "claude":
		b := NewClaudeBackend()
		if opts.ClaudePath != "" {
			b.ClaudePath = opts.ClaudePath
		}
		b.Model = opts.Model
		return b, nil
	case "openai":
		env := opts.APIKeyEnv
		if env == "" {
			env = "OPENAI_API_KEY"
		}
		b, err := NewOpenAIBackend(OpenAIOptions{
			APIKey:    os.Getenv(env),
			BaseURL:   opts.BaseURL,
			Model:     opts.Model,
			MaxTokens: opts.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set %s)", err, env)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown oracle backend %q", opts.Kind)
	}
}
