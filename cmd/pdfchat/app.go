package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pdfchat/internal/chunker"
	"pdfchat/internal/config"
	"pdfchat/internal/domain"
	"pdfchat/internal/embedding"
	embollama "pdfchat/internal/embedding/ollama"
	embopenai "pdfchat/internal/embedding/openai"
	"pdfchat/internal/embedding/tfidf"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/llm"
	llmollama "pdfchat/internal/llm/ollama"
	llmopenai "pdfchat/internal/llm/openai"
	"pdfchat/internal/rag"
	"pdfchat/internal/service"
	"pdfchat/internal/summarizer"
	"pdfchat/internal/vectorstore"
	"pdfchat/internal/vectorstore/memory"
	"pdfchat/internal/vectorstore/pgvector"
	"pdfchat/internal/vectorstore/qdrant"
)

// app is the assembled component graph.
type app struct {
	svc     *service.Service
	backend vectorstore.Backend
}

func (a *app) Close() error {
	return errors.Join(a.svc.Close(), a.backend.Close())
}

// buildApp wires every component from cfg. apiKey has already been resolved.
func buildApp(ctx context.Context, cfg *config.AppConfig, apiKey string, logger *slog.Logger, observer rag.StageObserver) (*app, error) {
	model, err := newChatModel(cfg, apiKey)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ch, err := newChunker(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	ix := index.New(emb, backend,
		index.WithConcurrency(cfg.Embedder.Concurrency),
		index.WithLogger(logger),
	)
	orch := rag.NewOrchestrator(store,
		&rag.Rewriter{Model: model},
		&rag.Retriever{Index: ix, TopK: cfg.Retriever.TopK},
		&rag.Answerer{Model: model},
		rag.WithObserver(observer),
		rag.WithLogger(logger),
	)
	opts := []service.Option{
		service.WithDefaultSession(cfg.Session.DefaultID),
		service.WithLogger(logger),
	}
	if cfg.Summarizer.Type == "frequency" {
		opts = append(opts, service.WithSummarizer(summarizer.NewFrequency(), cfg.Summarizer.MaxSentences))
	}
	return &app{svc: service.New(ch, ix, store, orch, opts...), backend: backend}, nil
}

func newChatModel(cfg *config.AppConfig, apiKey string) (llm.ChatModel, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return llmollama.NewChatModel(llmollama.Config{
			Host:        cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
	default:
		return llmopenai.NewChatModel(llmopenai.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      apiKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		})
	}
}

func newEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "openai":
		oc := cfg.Embedder.OpenAI
		key := os.Getenv(oc.APIKeyEnv)
		if key == "" {
			return nil, &config.ConfigError{Field: "embedder.openai.api_key_env", Reason: oc.APIKeyEnv + " is not set"}
		}
		return embopenai.NewClient(embopenai.Config{
			BaseURL:   oc.BaseURL,
			APIKey:    key,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize: oc.BatchSize,
		})
	case "ollama":
		oc := cfg.Embedder.Ollama
		return embollama.NewEmbedder(embollama.Config{
			Host:    oc.Host,
			Model:   oc.Model,
			Timeout: time.Duration(oc.TimeoutSecs) * time.Second,
		})
	default:
		return tfidf.NewEmbedder(), nil
	}
}

func newChunker(cfg *config.AppConfig) (domain.Chunker, error) {
	if cfg.Chunker.Type == "sentence" {
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences), nil
	}
	return chunker.NewWindowChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
}

func newBackend(ctx context.Context, cfg *config.AppConfig) (vectorstore.Backend, error) {
	switch cfg.VectorStore.Type {
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		return qdrant.NewBackend(qdrant.Config{
			Host:       qc.Host,
			Port:       qc.Port,
			APIKey:     os.Getenv(qc.APIKeyEnv),
			UseTLS:     qc.UseTLS,
			Collection: qc.Collection,
		})
	case "pgvector":
		pc := cfg.VectorStore.PGVector
		dsn := os.Getenv(pc.DSNEnv)
		if dsn == "" {
			return nil, &config.ConfigError{Field: "vector_store.pgvector.dsn_env", Reason: pc.DSNEnv + " is not set"}
		}
		return pgvector.NewBackend(ctx, pgvector.Config{DSN: dsn, Table: pc.Table})
	default:
		return memory.NewBackend(), nil
	}
}

func newStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (history.Store, error) {
	if cfg.History.Type == "redis" {
		rc := cfg.History.Redis
		store, err := history.NewRedisStore(ctx, history.RedisConfig{
			Addr:      rc.Addr,
			Password:  os.Getenv(rc.PasswordEnv),
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
			TTL:       cfg.History.IdleTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		return store, nil
	}
	return history.NewMemoryStore(cfg.History.MaxSessions, cfg.History.IdleTTL(), logger), nil
}
