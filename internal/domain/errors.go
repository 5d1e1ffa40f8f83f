package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIngest is matched by every IngestError.
	ErrIngest = errors.New("ingest failed")
	// ErrEmptyIndex is returned when the vector index is queried before a build.
	ErrEmptyIndex = errors.New("vector index is empty: no document has been loaded")
)

// IngestError reports an upload that could not be turned into pages.
type IngestError struct {
	Reason string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %v", e.Reason, e.Err)
	}
	return "ingest: " + e.Reason
}

func (e *IngestError) Unwrap() error { return e.Err }

func (e *IngestError) Is(target error) bool { return target == ErrIngest }
