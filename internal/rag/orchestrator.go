// Package rag runs conversational question answering over an indexed document.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/domain"
	"pdfchat/internal/history"
)

// Stage is a step of a single turn.
type Stage string

const (
	StageAwaitingInput Stage = "awaiting_input"
	StageRewriting     Stage = "rewriting"
	StageRetrieving    Stage = "retrieving"
	StageAnswering     Stage = "answering"
	StageAppending     Stage = "appending"
	StageIdle          Stage = "idle"
)

// ErrBlankUtterance rejects turns without any text.
var ErrBlankUtterance = errors.New("utterance is blank")

// TurnError reports which stage of a turn failed.
type TurnError struct {
	Stage     Stage
	SessionID string
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("session %q: %s failed: %v", e.SessionID, e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	SessionID string
	Utterance string
	Question  string
	Passages  []domain.SearchResult
	Answer    string
	// Messages is the full session history after the turn was appended.
	Messages []domain.Message
	Duration time.Duration
}

// StageObserver is notified on every stage transition. It must not block.
type StageObserver func(sessionID string, stage Stage)

type Option func(*Orchestrator)

func WithObserver(fn StageObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator drives turns: rewrite, retrieve, answer, then append both
// messages to the session history. Turns on one session never overlap.
type Orchestrator struct {
	store     history.Store
	rewriter  *Rewriter
	retriever *Retriever
	answerer  *Answerer
	locks     *sessionLocks
	observer  StageObserver
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(store history.Store, rewriter *Rewriter, retriever *Retriever, answerer *Answerer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		rewriter:  rewriter,
		retriever: retriever,
		answerer:  answerer,
		locks:     newSessionLocks(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Turn answers one utterance in the given session. On failure the session
// history is left exactly as it was and a *TurnError names the failed stage.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, utterance string) (*TurnResult, error) {
	start := o.now()
	o.observe(sessionID, StageAwaitingInput)
	if utterance == "" {
		return nil, o.fail(sessionID, StageAwaitingInput, ErrBlankUtterance)
	}

	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, o.fail(sessionID, StageAwaitingInput, err)
	}
	defer release()
	defer o.observe(sessionID, StageIdle)

	hist, err := o.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, o.fail(sessionID, StageAwaitingInput, err)
	}
	prior, err := hist.Messages(ctx)
	if err != nil {
		return nil, o.fail(sessionID, StageAwaitingInput, err)
	}

	o.observe(sessionID, StageRewriting)
	question, err := o.rewriter.Rewrite(ctx, prior, utterance)
	if err != nil {
		return nil, o.fail(sessionID, StageRewriting, err)
	}

	o.observe(sessionID, StageRetrieving)
	passages, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, o.fail(sessionID, StageRetrieving, err)
	}

	o.observe(sessionID, StageAnswering)
	answer, err := o.answerer.Answer(ctx, question, passages, prior)
	if err != nil {
		return nil, o.fail(sessionID, StageAnswering, err)
	}

	o.observe(sessionID, StageAppending)
	if err := ctx.Err(); err != nil {
		return nil, o.fail(sessionID, StageAppending, err)
	}
	now := o.now()
	turn := []domain.Message{
		{ID: uuid.NewString(), Role: domain.RoleUser, Text: utterance, CreatedAt: now},
		{ID: uuid.NewString(), Role: domain.RoleAssistant, Text: answer, CreatedAt: now},
	}
	if err := hist.Append(ctx, turn...); err != nil {
		return nil, o.fail(sessionID, StageAppending, err)
	}

	messages := make([]domain.Message, 0, len(prior)+len(turn))
	messages = append(messages, prior...)
	messages = append(messages, turn...)

	res := &TurnResult{
		SessionID: sessionID,
		Utterance: utterance,
		Question:  question,
		Passages:  passages,
		Answer:    answer,
		Messages:  messages,
		Duration:  o.now().Sub(start),
	}
	o.logger.Info("turn completed",
		"session", sessionID,
		"rewritten", question != utterance,
		"passages", len(passages),
		"history", len(messages),
		"duration", res.Duration,
	)
	return res, nil
}

func (o *Orchestrator) observe(sessionID string, stage Stage) {
	if o.observer != nil {
		o.observer(sessionID, stage)
	}
}

func (o *Orchestrator) fail(sessionID string, stage Stage, err error) error {
	o.logger.Warn("turn failed", "session", sessionID, "stage", stage, "error", err)
	return &TurnError{Stage: stage, SessionID: sessionID, Err: err}
}
