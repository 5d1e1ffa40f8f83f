// Package llm abstracts the hosted chat model used for rewriting and answering.
package llm

import (
	"context"
	"errors"
	"fmt"

	"pdfchat/internal/domain"
)

var (
	// ErrLLM is matched by every *Error.
	ErrLLM = errors.New("language model call failed")
	// ErrEmptyResponse marks a completion without any text.
	ErrEmptyResponse = errors.New("language model returned an empty response")
)

// Error wraps a failed model call (network, quota, malformed response).
type Error struct {
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrLLM }

// Request is one completion: a system instruction, prior turns and the new input.
type Request struct {
	System  string
	History []domain.Message
	Input   string
}

// Turn is a provider-neutral chat message.
type Turn struct {
	Role    string
	Content string
}

// Turns flattens the request into the system, history, human order every
// chat API expects. An empty system prompt is omitted.
func (r Request) Turns() []Turn {
	turns := make([]Turn, 0, len(r.History)+2)
	if r.System != "" {
		turns = append(turns, Turn{Role: "system", Content: r.System})
	}
	for _, m := range r.History {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		turns = append(turns, Turn{Role: role, Content: m.Text})
	}
	return append(turns, Turn{Role: "user", Content: r.Input})
}

// ChatModel completes a chat request. Implementations must honour ctx.
type ChatModel interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
