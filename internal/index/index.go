// Package index builds and queries the vector index of the currently loaded document.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pdfchat/internal/domain"
	"pdfchat/internal/embedding"
	"pdfchat/internal/vectorstore"
)

// BuildStats describes the generation produced by a successful Build.
type BuildStats struct {
	Generation string
	Chunks     int
	Dimension  int
	Embedder   string
	Duration   time.Duration
	BuiltAt    time.Time
}

type generation struct {
	embedder embedding.Embedder
	storage  vectorstore.Storage
	stats    BuildStats
}

// Index holds one document at a time. Build replaces the whole index; a failed
// build keeps the previous generation. Build excludes queries for its whole
// duration, so readers never see a partially filled generation.
type Index struct {
	embedder    embedding.Embedder
	backend     vectorstore.Backend
	concurrency int
	logger      *slog.Logger

	mu      sync.RWMutex
	current *generation
}

// Option configures an Index.
type Option func(*Index)

// WithConcurrency bounds parallel embedding calls for embedders without batch support.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New creates an empty index.
func New(emb embedding.Embedder, backend vectorstore.Backend, opts ...Option) *Index {
	ix := &Index{
		embedder:    emb,
		backend:     backend,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build embeds every chunk and atomically replaces the current index.
func (ix *Index) Build(ctx context.Context, chunks []domain.Chunk) (BuildStats, error) {
	if len(chunks) == 0 {
		return BuildStats{}, errors.New("index build: no chunks")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	emb := ix.embedder
	if p, ok := emb.(embedding.Preparer); ok {
		prepared, err := p.Prepare(texts)
		if err != nil {
			return BuildStats{}, fmt.Errorf("index build: prepare embedder: %w", err)
		}
		emb = prepared
	}

	vectors, err := ix.embedAll(ctx, emb, texts)
	if err != nil {
		return BuildStats{}, fmt.Errorf("index build: %w", err)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return BuildStats{}, fmt.Errorf("index build: chunk %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	gen := uuid.NewString()
	storage, err := ix.backend.Open(ctx, gen)
	if err != nil {
		return BuildStats{}, fmt.Errorf("index build: open storage: %w", err)
	}
	if err := fill(ctx, storage, dim, chunks, vectors); err != nil {
		if dropErr := storage.Drop(context.WithoutCancel(ctx)); dropErr != nil {
			ix.logger.Warn("failed to drop incomplete index generation", "generation", gen, "error", dropErr)
		}
		return BuildStats{}, fmt.Errorf("index build: %w", err)
	}

	stats := BuildStats{
		Generation: gen,
		Chunks:     len(chunks),
		Dimension:  dim,
		Embedder:   emb.Name(),
		Duration:   time.Since(start),
		BuiltAt:    time.Now(),
	}
	previous := ix.current
	ix.current = &generation{embedder: emb, storage: storage, stats: stats}
	if previous != nil {
		if err := previous.storage.Drop(context.WithoutCancel(ctx)); err != nil {
			ix.logger.Warn("failed to drop previous index generation", "generation", previous.stats.Generation, "error", err)
		}
	}
	ix.logger.Info("index built",
		"generation", gen, "chunks", stats.Chunks, "dimension", dim,
		"embedder", stats.Embedder, "duration", stats.Duration)
	return stats, nil
}

func fill(ctx context.Context, storage vectorstore.Storage, dim int, chunks []domain.Chunk, vectors [][]float64) error {
	if err := storage.Init(ctx, dim); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := storage.Upsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}
	return nil
}

func (ix *Index) embedAll(ctx context.Context, emb embedding.Embedder, texts []string) ([][]float64, error) {
	if b, ok := emb.(embedding.BatchEmbedder); ok {
		vectors, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(texts))
		}
		return vectors, nil
	}

	vectors := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i := range texts {
		g.Go(func() error {
			v, err := emb.Embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Query returns the k chunks most similar to text, best first; equal scores
// keep document order. It fails with domain.ErrEmptyIndex before the first build.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.current == nil {
		return nil, domain.ErrEmptyIndex
	}
	if k <= 0 {
		return nil, fmt.Errorf("query: k must be positive, got %d", k)
	}
	vec, err := ix.current.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query: embed: %w", err)
	}
	results, err := ix.current.storage.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Index < results[j].Chunk.Index
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Ready reports whether a build has succeeded.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.current != nil
}

// Stats returns the statistics of the current generation.
func (ix *Index) Stats() (BuildStats, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.current == nil {
		return BuildStats{}, false
	}
	return ix.current.stats, true
}

// Reset drops the current generation; queries fail with ErrEmptyIndex afterwards.
func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.current == nil {
		return nil
	}
	err := ix.current.storage.Drop(ctx)
	ix.current = nil
	return err
}
