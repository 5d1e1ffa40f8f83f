package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"

	"pdfchat/internal/embedding"
)

// Embedder generates embeddings with a local Ollama server.
type Embedder struct {
	client    *api.Client
	model     string
	timeout   time.Duration
	dimension atomic.Int64
}

// Config configures the Ollama embedder. An empty Host falls back to OLLAMA_HOST.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// NewEmbedder creates an Ollama embedder.
func NewEmbedder(cfg Config) (*Embedder, error) {
	hostURL := envconfig.Host()
	if cfg.Host != "" {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("ollama host %q: %w", cfg.Host, err)
		}
		hostURL = u
	}
	if cfg.Model == "" {
		cfg.Model = "all-minilm"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Embedder{
		client:  api.NewClient(hostURL, http.DefaultClient),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func (e *Embedder) Name() string { return "ollama" }

func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in a single embed request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		if len(v) == 0 {
			return nil, errors.New("ollama returned an empty embedding")
		}
		out[i] = make([]float64, len(v))
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}
	e.dimension.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}

var (
	_ embedding.Embedder      = (*Embedder)(nil)
	_ embedding.BatchEmbedder = (*Embedder)(nil)
)
