package rag

import (
	"context"
	"strings"

	"pdfchat/internal/domain"
	"pdfchat/internal/llm"
)

// DefaultTopK is the number of passages handed to the answerer.
const DefaultTopK = 4

// Rewriter turns a follow-up utterance into a standalone question.
type Rewriter struct {
	Model llm.ChatModel
}

// Rewrite returns utterance unchanged when there is no history to resolve
// against. Otherwise the model decides whether reformulation is needed.
func (r *Rewriter) Rewrite(ctx context.Context, history []domain.Message, utterance string) (string, error) {
	if len(history) == 0 {
		return utterance, nil
	}
	out, err := r.Model.Complete(ctx, llm.Request{
		System:  ContextualizePrompt(),
		History: history,
		Input:   utterance,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
}

// Retriever fetches the passages most similar to a question.
type Retriever struct {
	Index Searcher
	TopK  int
}

func (r *Retriever) Retrieve(ctx context.Context, question string) ([]domain.SearchResult, error) {
	k := r.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	return r.Index.Query(ctx, question, k)
}

// Answerer produces a grounded answer from retrieved passages.
type Answerer struct {
	Model llm.ChatModel
}

func (a *Answerer) Answer(ctx context.Context, question string, passages []domain.SearchResult, history []domain.Message) (string, error) {
	return a.Model.Complete(ctx, llm.Request{
		System:  AnswerPrompt(passages),
		History: history,
		Input:   question,
	})
}
