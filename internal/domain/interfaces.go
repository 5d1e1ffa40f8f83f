package domain

import "time"

// Page is the extracted text of one PDF page. Number is 1-indexed.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded passage of page text used as the unit of retrieval.
type Chunk struct {
	ID     string
	Text   string
	Page   int
	Offset int // rune offset of Text inside the page
	Index  int // position of the chunk in the whole document
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry of a session history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunker splits extracted pages into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(pages []Page) ([]Chunk, error)
}
