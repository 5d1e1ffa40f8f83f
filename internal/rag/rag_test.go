package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pdfchat/internal/domain"
	"pdfchat/internal/embedding/tfidf"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/llm"
	"pdfchat/internal/vectorstore/memory"
)

// stubModel answers through fn and records every request.
type stubModel struct {
	mu    sync.Mutex
	calls []llm.Request
	fn    func(ctx context.Context, req llm.Request) (string, error)
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.fn(ctx, req)
}

func (m *stubModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func isRewrite(req llm.Request) bool { return req.System == ContextualizePrompt() }

// skyModel rewrites by appending a marker and answers from the stuffed context.
func skyModel() *stubModel {
	return &stubModel{fn: func(_ context.Context, req llm.Request) (string, error) {
		if isRewrite(req) {
			return req.Input + " (standalone)", nil
		}
		if strings.Contains(req.System, "The sky is blue.") {
			return "The sky is blue.", nil
		}
		return "I don't know.", nil
	}}
}

type fixedSearcher struct {
	mu      sync.Mutex
	results []domain.SearchResult
	err     error
	queries []string
}

func (s *fixedSearcher) Query(_ context.Context, text string, k int) ([]domain.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, text)
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.results) {
		return s.results[:k], nil
	}
	return s.results, nil
}

func skySearcher() *fixedSearcher {
	return &fixedSearcher{results: []domain.SearchResult{{Chunk: domain.Chunk{ID: "p1:0", Text: "The sky is blue.", Page: 1}, Score: 1}}}
}

func newTestOrchestrator(model llm.ChatModel, searcher Searcher, opts ...Option) (*Orchestrator, history.Store) {
	store := history.NewMemoryStore(0, 0, nil)
	o := NewOrchestrator(store,
		&Rewriter{Model: model},
		&Retriever{Index: searcher, TopK: DefaultTopK},
		&Answerer{Model: model},
		opts...,
	)
	return o, store
}

func historyLen(t *testing.T, store history.Store, id string) int {
	t.Helper()
	h, err := store.GetOrCreate(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := h.Len(context.Background())
	return n
}

func TestRewriterEmptyHistoryReturnsUtterance(t *testing.T) {
	model := &stubModel{fn: func(context.Context, llm.Request) (string, error) {
		return "something else", nil
	}}
	r := &Rewriter{Model: model}
	got, err := r.Rewrite(context.Background(), nil, "What color is the sky?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "What color is the sky?" {
		t.Errorf("expected utterance verbatim, got %q", got)
	}
	if model.callCount() != 0 {
		t.Errorf("expected no model call, got %d", model.callCount())
	}
}

func TestRewriterUsesHistory(t *testing.T) {
	model := skyModel()
	r := &Rewriter{Model: model}
	prior := []domain.Message{{Role: domain.RoleUser, Text: "What color is the sky?"}, {Role: domain.RoleAssistant, Text: "Blue."}}
	got, err := r.Rewrite(context.Background(), prior, "And at night?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "And at night? (standalone)" {
		t.Errorf("unexpected rewrite %q", got)
	}
	if len(model.calls[0].History) != 2 || !strings.Contains(model.calls[0].System, "return it as is") {
		t.Errorf("unexpected rewrite request %+v", model.calls[0])
	}
}

func TestRewriterSurfacesModelError(t *testing.T) {
	model := &stubModel{fn: func(context.Context, llm.Request) (string, error) {
		return "", &llm.Error{Provider: "stub", Err: errors.New("quota exceeded")}
	}}
	r := &Rewriter{Model: model}
	_, err := r.Rewrite(context.Background(), []domain.Message{{Role: domain.RoleUser, Text: "x"}}, "y")
	if !errors.Is(err, llm.ErrLLM) {
		t.Fatalf("expected LLM error, got %v", err)
	}
}

func TestAnswerPromptJoinsPassages(t *testing.T) {
	got := AnswerPrompt([]domain.SearchResult{{Chunk: domain.Chunk{Text: "alpha"}}, {Chunk: domain.Chunk{Text: "beta"}}})
	if !strings.HasSuffix(got, "concise.\n\nalpha\n\nbeta") {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestRetrieverDefaultTopK(t *testing.T) {
	s := &fixedSearcher{results: make([]domain.SearchResult, 10)}
	r := &Retriever{Index: s}
	got, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultTopK {
		t.Errorf("expected %d passages, got %d", DefaultTopK, len(got))
	}
}

func TestTurnAppendsUserAndAssistant(t *testing.T) {
	o, store := newTestOrchestrator(skyModel(), skySearcher())
	res, err := o.Turn(context.Background(), "s1", "What color is the sky?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "blue") {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if res.Question != "What color is the sky?" {
		t.Errorf("first turn should not be rewritten, got %q", res.Question)
	}
	if len(res.Messages) != 2 || res.Messages[0].Role != domain.RoleUser || res.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected messages %+v", res.Messages)
	}
	if res.Messages[0].Text != "What color is the sky?" || res.Messages[1].Text != res.Answer {
		t.Errorf("unexpected message texts %+v", res.Messages)
	}
	if n := historyLen(t, store, "s1"); n != 2 {
		t.Errorf("expected stored history of 2, got %d", n)
	}
}

func TestFollowUpIsRewrittenAndRetrievedWithStandaloneQuestion(t *testing.T) {
	searcher := skySearcher()
	o, _ := newTestOrchestrator(skyModel(), searcher)
	ctx := context.Background()
	if _, err := o.Turn(ctx, "s", "What color is the sky?"); err != nil {
		t.Fatal(err)
	}
	res, err := o.Turn(ctx, "s", "Why?")
	if err != nil {
		t.Fatal(err)
	}
	if searcher.queries[1] != "Why? (standalone)" {
		t.Errorf("retrieval should use the standalone question, got %q", searcher.queries[1])
	}
	if len(res.Messages) != 4 || res.Messages[2].Text != "Why?" {
		t.Errorf("history should record the raw utterance, got %+v", res.Messages)
	}
}

func TestAnswerFailureLeavesHistoryUnchanged(t *testing.T) {
	model := skyModel()
	o, store := newTestOrchestrator(model, skySearcher())
	ctx := context.Background()
	if _, err := o.Turn(ctx, "s", "What color is the sky?"); err != nil {
		t.Fatal(err)
	}

	model.fn = func(_ context.Context, req llm.Request) (string, error) {
		if isRewrite(req) {
			return req.Input, nil
		}
		return "", &llm.Error{Provider: "stub", Err: errors.New("timeout")}
	}
	_, err := o.Turn(ctx, "s", "And the grass?")
	var terr *TurnError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TurnError, got %T %v", err, err)
	}
	if terr.Stage != StageAnswering || terr.SessionID != "s" {
		t.Errorf("unexpected turn error %+v", terr)
	}
	if !errors.Is(err, llm.ErrLLM) {
		t.Error("expected wrapped LLM error")
	}
	if n := historyLen(t, store, "s"); n != 2 {
		t.Errorf("expected history length 2 after failed turn, got %d", n)
	}
}

func TestRewriteFailureHasNoFallback(t *testing.T) {
	model := skyModel()
	searcher := skySearcher()
	o, store := newTestOrchestrator(model, searcher)
	ctx := context.Background()
	_, _ = o.Turn(ctx, "s", "What color is the sky?")

	model.fn = func(context.Context, llm.Request) (string, error) {
		return "", &llm.Error{Provider: "stub", Err: llm.ErrEmptyResponse}
	}
	_, err := o.Turn(ctx, "s", "Why?")
	var terr *TurnError
	if !errors.As(err, &terr) || terr.Stage != StageRewriting {
		t.Fatalf("expected rewriting failure, got %v", err)
	}
	if len(searcher.queries) != 1 {
		t.Errorf("retrieval must not run after a failed rewrite, got %d queries", len(searcher.queries))
	}
	if n := historyLen(t, store, "s"); n != 2 {
		t.Errorf("expected unchanged history, got %d", n)
	}
}

func TestRetrieveFailureOnEmptyIndex(t *testing.T) {
	o, store := newTestOrchestrator(skyModel(), &fixedSearcher{err: domain.ErrEmptyIndex})
	_, err := o.Turn(context.Background(), "s", "anything")
	var terr *TurnError
	if !errors.As(err, &terr) || terr.Stage != StageRetrieving {
		t.Fatalf("expected retrieving failure, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmptyIndex) {
		t.Error("expected ErrEmptyIndex")
	}
	if n := historyLen(t, store, "s"); n != 0 {
		t.Errorf("expected empty history, got %d", n)
	}
}

func TestBlankUtterance(t *testing.T) {
	o, _ := newTestOrchestrator(skyModel(), skySearcher())
	_, err := o.Turn(context.Background(), "s", "")
	if !errors.Is(err, ErrBlankUtterance) {
		t.Fatalf("expected ErrBlankUtterance, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	o, _ := newTestOrchestrator(skyModel(), skySearcher())
	ctx := context.Background()
	a, err := o.Turn(ctx, "alice", "What color is the sky?")
	if err != nil {
		t.Fatal(err)
	}
	b, err := o.Turn(ctx, "bob", "Is it raining?")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Messages) != 2 || len(b.Messages) != 2 {
		t.Fatalf("unexpected history sizes %d, %d", len(a.Messages), len(b.Messages))
	}
	for _, m := range b.Messages {
		if m.Text == "What color is the sky?" {
			t.Error("bob observed alice's message")
		}
	}
}

func TestStageObserverOrder(t *testing.T) {
	var mu sync.Mutex
	var stages []Stage
	o, _ := newTestOrchestrator(skyModel(), skySearcher(), WithObserver(func(_ string, s Stage) {
		mu.Lock()
		stages = append(stages, s)
		mu.Unlock()
	}))
	if _, err := o.Turn(context.Background(), "s", "What color is the sky?"); err != nil {
		t.Fatal(err)
	}
	want := []Stage{StageAwaitingInput, StageRewriting, StageRetrieving, StageAnswering, StageAppending, StageIdle}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
}

func TestTurnsOnSameSessionAreSerialized(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	model := &stubModel{fn: func(_ context.Context, req llm.Request) (string, error) {
		if isRewrite(req) {
			return req.Input, nil
		}
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	}}
	o, store := newTestOrchestrator(model, skySearcher())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Turn(context.Background(), "shared", "question"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("expected serialized turns, saw %d concurrent", maxActive)
	}
	if n := historyLen(t, store, "shared"); n != 10 {
		t.Errorf("expected 10 messages, got %d", n)
	}
	if o.locks.size() != 0 {
		t.Errorf("expected session locks to be released, %d left", o.locks.size())
	}
}

func TestDifferentSessionsRunInParallel(t *testing.T) {
	started := make(chan struct{}, 2)
	proceed := make(chan struct{})
	model := &stubModel{fn: func(_ context.Context, req llm.Request) (string, error) {
		started <- struct{}{}
		<-proceed
		return "ok", nil
	}}
	o, _ := newTestOrchestrator(model, skySearcher())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = o.Turn(context.Background(), id, "q")
		}(id)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run in parallel")
		}
	}
	close(proceed)
	wg.Wait()
}

func TestCancelledTurnAppendsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &stubModel{fn: func(context.Context, llm.Request) (string, error) {
		cancel()
		return "late answer", nil
	}}
	o, store := newTestOrchestrator(model, skySearcher())
	_, err := o.Turn(ctx, "s", "q")
	var terr *TurnError
	if !errors.As(err, &terr) || terr.Stage != StageAppending {
		t.Fatalf("expected appending failure, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := historyLen(t, store, "s"); n != 0 {
		t.Errorf("expected no messages, got %d", n)
	}
}

func TestWaitingTurnHonoursContext(t *testing.T) {
	proceed := make(chan struct{})
	model := &stubModel{fn: func(context.Context, llm.Request) (string, error) {
		<-proceed
		return "ok", nil
	}}
	o, _ := newTestOrchestrator(model, skySearcher())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Turn(context.Background(), "s", "first")
	}()
	for model.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Turn(ctx, "s", "second")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline while waiting for session, got %v", err)
	}
	close(proceed)
	<-done
}

func TestEndToEndWithIndex(t *testing.T) {
	ctx := context.Background()
	ix := index.New(tfidf.NewEmbedder(), memory.NewBackend())
	if _, err := ix.Build(ctx, []domain.Chunk{{ID: "p1:0", Text: "The sky is blue.", Page: 1}}); err != nil {
		t.Fatal(err)
	}
	model := skyModel()
	o, store := newTestOrchestrator(model, ix)
	res, err := o.Turn(ctx, "default_session", "What color is the sky?")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Passages) != 1 || res.Passages[0].Chunk.Text != "The sky is blue." {
		t.Fatalf("unexpected passages %+v", res.Passages)
	}
	if !strings.Contains(strings.ToLower(res.Answer), "blue") {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if n := historyLen(t, store, "default_session"); n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}
}
