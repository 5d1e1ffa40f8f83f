// Package history keeps per-session chat transcripts.
package history

import (
	"context"

	"pdfchat/internal/domain"
)

// History is an ordered, append-only transcript for one session.
type History interface {
	Messages(ctx context.Context) ([]domain.Message, error)
	// Append adds all msgs as one unit: either every message is stored or none is.
	Append(ctx context.Context, msgs ...domain.Message) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// Store maps session IDs to histories. GetOrCreate returns the same
// transcript for the same ID until it is deleted or evicted.
type Store interface {
	GetOrCreate(ctx context.Context, sessionID string) (History, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
