package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"pdfchat/internal/llm"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama3-8b-8192"
)

// Config configures an OpenAI-compatible chat model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// ChatModel talks to any OpenAI-compatible chat completions endpoint.
type ChatModel struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewChatModel creates a chat model. The API key is required.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required in config")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &ChatModel{
		api:         goopenai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (m *ChatModel) Name() string { return "openai" }

// Complete sends the request as a single non-streaming chat completion.
func (m *ChatModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	turns := req.Turns()
	messages := make([]goopenai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		messages[i] = goopenai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}
	resp, err := m.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	})
	if err != nil {
		return "", m.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", m.wrap(llm.ErrEmptyResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", m.wrap(llm.ErrEmptyResponse)
	}
	return content, nil
}

func (m *ChatModel) wrap(err error) error {
	return &llm.Error{Provider: m.Name(), Model: m.model, Err: err}
}

var _ llm.ChatModel = (*ChatModel)(nil)
