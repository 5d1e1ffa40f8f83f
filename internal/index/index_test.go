package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pdfchat/internal/domain"
	"pdfchat/internal/embedding/tfidf"
	"pdfchat/internal/vectorstore"
	"pdfchat/internal/vectorstore/memory"
)

func textChunks(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{ID: t, Text: t, Page: 1, Index: i}
	}
	return out
}

// stubEmbedder maps texts to fixed vectors and can be told to fail.
type stubEmbedder struct {
	vectors map[string][]float64
	fail    atomic.Bool
	delay   time.Duration
}

func (s *stubEmbedder) Name() string   { return "stub" }
func (s *stubEmbedder) Dimension() int { return 2 }
func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail.Load() {
		return nil, errors.New("embedding service unavailable")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0}, nil
}

// recordingBackend counts generations and drops.
type recordingBackend struct {
	mu      sync.Mutex
	opened  []*memory.Storage
	dropped int
	failAt  int // fail Init on this open count (1-based), 0 never
}

type droppingStorage struct {
	*memory.Storage
	backend *recordingBackend
	failing bool
}

func (d *droppingStorage) Init(ctx context.Context, dim int) error {
	if d.failing {
		return errors.New("disk full")
	}
	return d.Storage.Init(ctx, dim)
}

func (d *droppingStorage) Drop(ctx context.Context) error {
	d.backend.mu.Lock()
	d.backend.dropped++
	d.backend.mu.Unlock()
	return d.Storage.Drop(ctx)
}

func (b *recordingBackend) Open(ctx context.Context, gen string) (vectorstore.Storage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := memory.NewStorage()
	b.opened = append(b.opened, s)
	return &droppingStorage{Storage: s, backend: b, failing: b.failAt == len(b.opened)}, nil
}

func (b *recordingBackend) Close() error { return nil }

func TestQueryBeforeBuild(t *testing.T) {
	ix := New(tfidf.NewEmbedder(), memory.NewBackend())
	_, err := ix.Query(context.Background(), "anything", 1)
	if !errors.Is(err, domain.ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
	if ix.Ready() {
		t.Error("index must not be ready before build")
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	ix := New(tfidf.NewEmbedder(), memory.NewBackend())
	if _, err := ix.Build(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSelfRetrieval(t *testing.T) {
	ctx := context.Background()
	texts := []string{
		"The sky is blue.",
		"Grass grows green in spring.",
		"Snow is white and cold.",
		"Oceans are deep and salty.",
	}
	ix := New(tfidf.NewEmbedder(), memory.NewBackend())
	stats, err := ix.Build(ctx, textChunks(texts...))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chunks != 4 || stats.Embedder != "tfidf" || stats.Generation == "" {
		t.Errorf("unexpected stats %+v", stats)
	}
	for i, text := range texts {
		res, err := ix.Query(ctx, text, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 1 || res[0].Chunk.Index != i {
			t.Errorf("query %q returned %+v", text, res)
			continue
		}
		if res[0].Score < 0.999 {
			t.Errorf("query %q: expected top score ~1, got %f", text, res[0].Score)
		}
	}
}

func TestQueryTiesBrokenByChunkOrder(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"a": {1, 0}, "b": {1, 0}, "c": {0, 1}, "q": {1, 0},
	}}
	ix := New(emb, memory.NewBackend())
	if _, err := ix.Build(context.Background(), textChunks("a", "b", "c")); err != nil {
		t.Fatal(err)
	}
	res, err := ix.Query(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Chunk.Text != "a" || res[1].Chunk.Text != "b" {
		t.Errorf("unexpected order %+v", res)
	}
}

func TestQueryValidatesK(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{"a": {1, 0}}}
	ix := New(emb, memory.NewBackend())
	_, _ = ix.Build(context.Background(), textChunks("a"))
	if _, err := ix.Query(context.Background(), "a", 0); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestFailedBuildKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{"old": {1, 0}, "new": {0, 1}}}
	ix := New(emb, memory.NewBackend())
	first, err := ix.Build(ctx, textChunks("old"))
	if err != nil {
		t.Fatal(err)
	}

	emb.fail.Store(true)
	if _, err := ix.Build(ctx, textChunks("new")); err == nil {
		t.Fatal("expected build failure")
	}
	emb.fail.Store(false)

	stats, ok := ix.Stats()
	if !ok || stats.Generation != first.Generation {
		t.Fatalf("expected generation %s to survive, got %+v", first.Generation, stats)
	}
	res, err := ix.Query(ctx, "old", 1)
	if err != nil || res[0].Chunk.Text != "old" {
		t.Errorf("expected old document to be served, got %+v, %v", res, err)
	}
}

func TestFailedStorageInitDropsGeneration(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{"a": {1, 0}}}
	backend := &recordingBackend{failAt: 2}
	ix := New(emb, backend)
	if _, err := ix.Build(ctx, textChunks("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Build(ctx, textChunks("a")); err == nil {
		t.Fatal("expected init failure")
	}
	if backend.dropped != 1 {
		t.Errorf("expected the incomplete generation to be dropped once, got %d", backend.dropped)
	}
	if _, err := ix.Query(ctx, "a", 1); err != nil {
		t.Errorf("previous generation should still answer: %v", err)
	}
}

func TestRebuildDropsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{"a": {1, 0}, "b": {0, 1}}}
	backend := &recordingBackend{}
	ix := New(emb, backend)
	_, _ = ix.Build(ctx, textChunks("a"))
	_, _ = ix.Build(ctx, textChunks("b"))
	if backend.dropped != 1 {
		t.Errorf("expected 1 dropped generation, got %d", backend.dropped)
	}
	if backend.opened[0].Len() != 0 {
		t.Error("previous generation still holds vectors")
	}
	res, _ := ix.Query(ctx, "b", 5)
	if len(res) != 1 || res[0].Chunk.Text != "b" {
		t.Errorf("expected only the new document, got %+v", res)
	}
}

func TestQueryWaitsForBuild(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{"a": {1, 0}, "b": {0, 1}}}
	ix := New(emb, memory.NewBackend(), WithConcurrency(1))
	if _, err := ix.Build(ctx, textChunks("a")); err != nil {
		t.Fatal(err)
	}

	emb.delay = 20 * time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ix.Build(ctx, textChunks("b", "b", "b"))
	}()
	time.Sleep(5 * time.Millisecond)
	res, err := ix.Query(ctx, "b", 1)
	<-done
	if err != nil {
		t.Fatal(err)
	}
	// The query either ran before the build started or after it finished;
	// it must never see an empty or partial generation.
	if len(res) != 1 {
		t.Fatalf("expected one result, got %+v", res)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	ix := New(tfidf.NewEmbedder(), memory.NewBackend())
	_, _ = ix.Build(ctx, textChunks("The sky is blue."))
	if err := ix.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Query(ctx, "sky", 1); !errors.Is(err, domain.ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex after reset, got %v", err)
	}
}
