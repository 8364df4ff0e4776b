// Package paper loads research papers and splits them into retrievable chunks.
package paper

// Paper is an immutable, ordered view of one source document.
type Paper struct {
	// ID is the paper identifier (its directory name).
	ID string

	// Title is extracted from the first heading or HTML title, best effort.
	Title string

	// Content is the full markdown text.
	Content string

	// Chunks is the ordered sequence of retrievable chunks.
	Chunks []Chunk
}

// Chunk is one retrievable unit of paper text.
type Chunk struct {
	// PaperID identifies the owning paper.
	PaperID string `json:"paper_id"`

	// Index is the position in document order, starting at 0.
	Index int `json:"index"`

	// Section is the heading of the section this chunk came from.
	Section string `json:"section"`

	// Content is the chunk text.
	Content string `json:"content"`

	// TokenCount is the estimated token count.
	TokenCount int `json:"token_count"`
}

// Ref is a provenance pointer from a signal back to a chunk.
type Ref struct {
	Index   int    `json:"index"`
	Section string `json:"section,omitempty"`
}
