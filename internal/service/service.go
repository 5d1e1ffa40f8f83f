// Package service is the upload and query surface shared by the CLI and TUI.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdfchat/internal/domain"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/ingest"
	"pdfchat/internal/rag"
	"pdfchat/internal/summarizer"
)

// DefaultSessionID is used when a caller gives no session id.
const DefaultSessionID = "default_session"

// Document describes the currently indexed PDF.
type Document struct {
	Name       string
	Pages      int
	Chunks     int
	Summary    string
	Generation string
	LoadedAt   time.Time
}

type Option func(*Service)

// WithSummarizer enables an extractive overview of each upload.
func WithSummarizer(s *summarizer.Frequency, maxSentences int) Option {
	return func(svc *Service) {
		svc.summarizer = s
		svc.summarySentences = maxSentences
	}
}

func WithDefaultSession(id string) Option {
	return func(svc *Service) {
		if id != "" {
			svc.defaultSession = id
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// Service owns one document index and the conversation store.
type Service struct {
	extractor        *ingest.PDF
	chunker          domain.Chunker
	index            *index.Index
	store            history.Store
	orchestrator     *rag.Orchestrator
	summarizer       *summarizer.Frequency
	summarySentences int
	defaultSession   string
	logger           *slog.Logger

	mu  sync.RWMutex
	doc *Document
}

func New(chunker domain.Chunker, ix *index.Index, store history.Store, orchestrator *rag.Orchestrator, opts ...Option) *Service {
	s := &Service{
		extractor:      ingest.NewPDF(),
		chunker:        chunker,
		index:          ix,
		store:          store,
		orchestrator:   orchestrator,
		defaultSession: DefaultSessionID,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFile reads a PDF from disk and indexes it.
func (s *Service) LoadFile(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.IngestError{Reason: "cannot read " + path, Err: err}
	}
	return s.Upload(ctx, filepath.Base(path), data)
}

// Upload replaces the indexed document with data. Anything that is not a
// PDF is rejected before the current index is touched.
func (s *Service) Upload(ctx context.Context, name string, data []byte) (*Document, error) {
	if ext := filepath.Ext(name); ext != "" && !strings.EqualFold(ext, ".pdf") {
		return nil, &domain.IngestError{Reason: fmt.Sprintf("%s is not a PDF file", name)}
	}
	if !ingest.IsPDF(data) {
		return nil, &domain.IngestError{Reason: fmt.Sprintf("%s is not a PDF file", name)}
	}
	pages, err := s.extractor.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunker.Chunk(pages)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", name, err)
	}
	stats, err := s.index.Build(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}

	doc := &Document{
		Name:       name,
		Pages:      len(pages),
		Chunks:     stats.Chunks,
		Generation: stats.Generation,
		LoadedAt:   stats.BuiltAt,
	}
	if s.summarizer != nil {
		doc.Summary = s.summarizer.Summarize(pages, s.summarySentences)
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.logger.Info("document loaded", "name", name, "pages", doc.Pages, "chunks", doc.Chunks, "took", stats.Duration)
	return doc, nil
}

// Document returns the indexed document, if any.
func (s *Service) Document() (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, false
	}
	d := *s.doc
	return &d, true
}

// DefaultSession is the session used for blank ids.
func (s *Service) DefaultSession() string { return s.defaultSession }

func (s *Service) session(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return s.defaultSession
	}
	return id
}

// Ask runs one conversational turn. A blank question is a no-op and
// returns a nil result without error.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (*rag.TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil
	}
	return s.orchestrator.Turn(ctx, s.session(sessionID), question)
}

// History returns the messages recorded for a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	h, err := s.store.GetOrCreate(ctx, s.session(sessionID))
	if err != nil {
		return nil, err
	}
	return h.Messages(ctx)
}

// ClearSession forgets a session's history.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	id := s.session(sessionID)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("clear session %q: %w", id, err)
	}
	s.logger.Info("session cleared", "session", id)
	return nil
}

// Close releases the conversation store.
func (s *Service) Close() error {
	return s.store.Close()
}
