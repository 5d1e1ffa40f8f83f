package chunker

import (
	"fmt"

	"pdfchat/internal/domain"
)

const (
	DefaultChunkSize    = 5000
	DefaultChunkOverlap = 200
)

// WindowChunker cuts each page into fixed-size character windows that share
// a fixed overlap with their predecessor.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window parameters. Sizes are in runes.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks of a page.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Chunk splits every page independently; chunks never span two pages.
func (c *WindowChunker) Chunk(pages []domain.Page) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	step := c.size - c.overlap
	for _, page := range pages {
		runes := []rune(page.Text)
		if len(runes) == 0 {
			continue
		}
		for start := 0; ; start += step {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, newChunk(page.Number, start, len(chunks), string(runes[start:end])))
			if end == len(runes) {
				break
			}
		}
	}
	return chunks, nil
}

func newChunk(page, offset, index int, text string) domain.Chunk {
	return domain.Chunk{
		ID:     fmt.Sprintf("p%d:%d", page, offset),
		Text:   text,
		Page:   page,
		Offset: offset,
		Index:  index,
	}
}
