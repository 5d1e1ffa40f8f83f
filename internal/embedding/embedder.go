// Package embedding defines the text-to-vector capability used by the index.
package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	// Dimension is 0 until the first vector has been produced.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Preparer is implemented by embedders whose vector space depends on the corpus.
// Prepare returns a ready embedder fitted to corpus and leaves the receiver unchanged,
// so an index being rebuilt never disturbs queries against the previous one.
type Preparer interface {
	Prepare(corpus []string) (Embedder, error)
}

// BatchEmbedder embeds several texts in one remote call. Output order matches input.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}
