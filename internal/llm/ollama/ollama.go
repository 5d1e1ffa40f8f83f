package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"

	"pdfchat/internal/llm"
)

// Config configures a local Ollama chat model. An empty Host falls back to OLLAMA_HOST.
type Config struct {
	Host        string
	Model       string
	Temperature float32
	MaxTokens   int
}

// ChatModel answers through Ollama's /api/chat endpoint.
type ChatModel struct {
	client  *api.Client
	model   string
	options map[string]interface{}
}

// NewChatModel creates an Ollama chat model.
func NewChatModel(cfg Config) (*ChatModel, error) {
	hostURL := envconfig.Host()
	if cfg.Host != "" {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("ollama host %q: %w", cfg.Host, err)
		}
		hostURL = u
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	options := map[string]interface{}{"temperature": cfg.Temperature}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	return &ChatModel{
		client:  api.NewClient(hostURL, http.DefaultClient),
		model:   cfg.Model,
		options: options,
	}, nil
}

func (m *ChatModel) Name() string { return "ollama" }

func (m *ChatModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	turns := req.Turns()
	messages := make([]api.Message, len(turns))
	for i, t := range turns {
		messages[i] = api.Message{Role: t.Role, Content: t.Content}
	}
	stream := false
	chatReq := api.ChatRequest{
		Model:    m.model,
		Messages: messages,
		Stream:   &stream,
		Options:  m.options,
	}

	var b strings.Builder
	err := m.client.Chat(ctx, &chatReq, func(resp api.ChatResponse) error {
		_, err := b.WriteString(resp.Message.Content)
		return err
	})
	if err != nil {
		return "", &llm.Error{Provider: m.Name(), Model: m.model, Err: err}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", &llm.Error{Provider: m.Name(), Model: m.model, Err: llm.ErrEmptyResponse}
	}
	return content, nil
}

var _ llm.ChatModel = (*ChatModel)(nil)
