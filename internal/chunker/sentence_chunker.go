package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"pdfchat/internal/domain"
)

// SentenceChunker splits page text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

type sentence struct {
	text   string
	offset int // rune offset in the page
}

func (c *SentenceChunker) Chunk(pages []domain.Page) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, page := range pages {
		sentences := c.sentences(page.Text)
		i := 0
		for i < len(sentences) {
			end := i + c.sentencesPerChunk
			if end > len(sentences) {
				end = len(sentences)
			}
			parts := make([]string, 0, end-i)
			for _, s := range sentences[i:end] {
				parts = append(parts, s.text)
			}
			chunks = append(chunks, newChunk(page.Number, sentences[i].offset, len(chunks), strings.Join(parts, " ")))
			if end == len(sentences) {
				break
			}
			i = end - c.overlapSentences
		}
	}
	return chunks, nil
}

func (c *SentenceChunker) sentences(text string) []sentence {
	locs := c.splitter.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		lead := strings.Index(text, trimmed)
		return []sentence{{text: trimmed, offset: utf8.RuneCountInString(text[:lead])}}
	}
	// Text after the last terminator still forms a sentence.
	if tail := locs[len(locs)-1][1]; strings.TrimSpace(text[tail:]) != "" {
		locs = append(locs, []int{tail, len(text)})
	}
	out := make([]sentence, 0, len(locs))
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		lead := loc[0] + strings.Index(raw, trimmed)
		out = append(out, sentence{text: trimmed, offset: utf8.RuneCountInString(text[:lead])})
	}
	return out
}
