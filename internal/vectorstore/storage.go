// Package vectorstore defines where chunk embeddings live and how they are searched.
package vectorstore

import (
	"context"

	"pdfchat/internal/domain"
)

// Storage persists the vectors of one index generation and supports similarity search.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error)
	// Drop discards everything stored in this generation.
	Drop(ctx context.Context) error
}

// Backend opens isolated, empty storages, one per index generation.
type Backend interface {
	Open(ctx context.Context, generation string) (Storage, error)
	Close() error
}
