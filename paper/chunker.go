package paper

import (
	"fmt"
	"strings"
)

// charsPerToken is the approximate average characters per token for GPT tokenizers.
const charsPerToken = 4

// ChunkConfig holds chunking configuration.
type ChunkConfig struct {
	// TargetTokens is the ideal chunk size in tokens.
	TargetTokens int

	// MaxTokens is the maximum chunk size.
	MaxTokens int

	// MinTokens is the minimum chunk size (smaller chunks are merged).
	MinTokens int
}

// DefaultChunkConfig returns sensible chunking defaults for papers.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens: 1000,
		MaxTokens:    1500,
		MinTokens:    200,
	}
}

// Validate checks if the configuration is valid.
func (c ChunkConfig) Validate() error {
	if c.MinTokens <= 0 {
		return fmt.Errorf("MinTokens must be positive, got %d", c.MinTokens)
	}
	if c.TargetTokens <= 0 {
		return fmt.Errorf("TargetTokens must be positive, got %d", c.TargetTokens)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MaxTokens must be positive, got %d", c.MaxTokens)
	}
	if c.MinTokens >= c.TargetTokens {
		return fmt.Errorf("MinTokens (%d) must be less than TargetTokens (%d)", c.MinTokens, c.TargetTokens)
	}
	if c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("TargetTokens (%d) must not exceed MaxTokens (%d)", c.TargetTokens, c.MaxTokens)
	}
	return nil
}

// Chunker splits paper markdown into section-aware chunks.
type Chunker struct {
	config ChunkConfig
}

// NewChunker creates a Chunker with the given configuration.
// A zero TargetTokens selects the defaults.
func NewChunker(cfg ChunkConfig) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg = DefaultChunkConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// NewDefaultChunker creates a Chunker with default configuration.
func NewDefaultChunker() *Chunker {
	c, err := NewChunker(DefaultChunkConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Chunk splits markdown content into ordered chunks.
// Chunk indices count up from 0 in document order.
func (c *Chunker) Chunk(paperID string, content string) []Chunk {
	sections := c.parseSections(content)

	var chunks []Chunk
	var current Chunk
	current.PaperID = paperID

	for _, sec := range sections {
		sectionTokens := c.estimateTokens(sec.Content)

		// Sections larger than the max get paragraph-level splitting.
		if sectionTokens > c.config.MaxTokens {
			if c.estimateTokens(current.Content) >= c.config.MinTokens {
				chunks = append(chunks, c.finalize(current, len(chunks)))
				current = Chunk{PaperID: paperID}
			}

			sub := c.splitLargeSection(paperID, sec, len(chunks))
			chunks = append(chunks, sub...)
			continue
		}

		currentTokens := c.estimateTokens(current.Content)
		if currentTokens > 0 && currentTokens+sectionTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalize(current, len(chunks)))
			current = Chunk{PaperID: paperID}
		}

		if current.Section == "" {
			current.Section = sec.Heading
		}
		if current.Content != "" {
			current.Content += "\n\n"
		}
		current.Content += sec.Content
	}

	if c.estimateTokens(current.Content) > 0 {
		chunks = append(chunks, c.finalize(current, len(chunks)))
	}

	return c.mergeSmallChunks(chunks)
}

// section is a heading plus the text under it.
type section struct {
	Heading string
	Content string
	Level   int
}

// parseSections splits markdown content at headings, ignoring headings
// inside fenced code blocks.
func (c *Chunker) parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	var sections []section
	var current section
	inCodeBlock := false

	for _, line := range lines {
		if isCodeFence(line) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && isHeading(line) {
			if strings.TrimSpace(current.Content) != "" {
				sections = append(sections, current)
			}

			level, heading := parseHeading(line)
			current = section{
				Heading: heading,
				Level:   level,
				Content: line,
			}
		} else {
			if current.Content != "" {
				current.Content += "\n"
			}
			current.Content += line
		}
	}

	if strings.TrimSpace(current.Content) != "" {
		sections = append(sections, current)
	}

	return sections
}

// splitLargeSection splits a section that exceeds max tokens into
// paragraph-sized chunks.
func (c *Chunker) splitLargeSection(paperID string, sec section, startIndex int) []Chunk {
	var chunks []Chunk
	paragraphs := c.splitIntoParagraphs(sec.Content)

	current := Chunk{PaperID: paperID, Section: sec.Heading}

	for _, para := range paragraphs {
		paraTokens := c.estimateTokens(para)

		// A single oversized paragraph falls back to sentence splitting.
		if paraTokens > c.config.MaxTokens {
			if c.estimateTokens(current.Content) >= c.config.MinTokens {
				chunks = append(chunks, c.finalize(current, startIndex+len(chunks)))
				current = Chunk{PaperID: paperID, Section: sec.Heading}
			}

			sub := c.splitBySentences(paperID, sec.Heading, para, startIndex+len(chunks))
			chunks = append(chunks, sub...)
			continue
		}

		currentTokens := c.estimateTokens(current.Content)
		if currentTokens > 0 && currentTokens+paraTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalize(current, startIndex+len(chunks)))
			current = Chunk{PaperID: paperID, Section: sec.Heading}
		}

		if current.Content != "" {
			current.Content += "\n\n"
		}
		current.Content += para
	}

	if c.estimateTokens(current.Content) > 0 {
		chunks = append(chunks, c.finalize(current, startIndex+len(chunks)))
	}

	return chunks
}

// splitIntoParagraphs splits content on blank lines, keeping fenced code
// blocks intact.
func (c *Chunker) splitIntoParagraphs(content string) []string {
	var paragraphs []string
	var current strings.Builder
	lines := strings.Split(content, "\n")
	inCodeBlock := false
	lastWasEmpty := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if isCodeFence(trimmed) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && trimmed == "" {
			if !lastWasEmpty && current.Len() > 0 {
				paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
				current.Reset()
			}
			lastWasEmpty = true
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
			lastWasEmpty = false
		}
	}

	if current.Len() > 0 {
		paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
	}

	return paragraphs
}

// splitBySentences splits a paragraph by sentences as a last resort.
func (c *Chunker) splitBySentences(paperID, sectionName, content string, startIndex int) []Chunk {
	var chunks []Chunk
	current := Chunk{PaperID: paperID, Section: sectionName}

	sentences := splitSentences(content)
	if len(sentences) <= 1 && c.estimateTokens(content) > c.config.MaxTokens {
		return c.hardSplit(paperID, sectionName, content, startIndex)
	}

	if len(sentences) <= 1 {
		current.Content = content
		current.TokenCount = c.estimateTokens(content)
		current.Index = startIndex
		return []Chunk{current}
	}

	for _, sentence := range sentences {
		sentenceTokens := c.estimateTokens(sentence)
		currentTokens := c.estimateTokens(current.Content)

		if currentTokens > 0 && currentTokens+sentenceTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalize(current, startIndex+len(chunks)))
			current = Chunk{PaperID: paperID, Section: sectionName}
		}

		if current.Content != "" {
			current.Content += " "
		}
		current.Content += sentence
	}

	if c.estimateTokens(current.Content) > 0 {
		chunks = append(chunks, c.finalize(current, startIndex+len(chunks)))
	}

	return chunks
}

// hardSplit splits content at character boundaries when no natural breaks
// exist, so MaxTokens is never exceeded.
func (c *Chunker) hardSplit(paperID, sectionName, content string, startIndex int) []Chunk {
	var chunks []Chunk
	maxChars := c.config.MaxTokens * charsPerToken

	runes := []rune(content)
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}

		part := string(runes[i:end])
		chunks = append(chunks, Chunk{
			PaperID:    paperID,
			Section:    sectionName,
			Index:      startIndex + len(chunks),
			Content:    part,
			TokenCount: c.estimateTokens(part),
		})
	}

	return chunks
}

// mergeSmallChunks folds chunks below the minimum size into their successor.
func (c *Chunker) mergeSmallChunks(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var result []Chunk
	for i := 0; i < len(chunks); i++ {
		chunk := chunks[i]

		if chunk.TokenCount < c.config.MinTokens && i < len(chunks)-1 {
			next := chunks[i+1]
			combined := chunk.Content + "\n\n" + next.Content
			combinedTokens := c.estimateTokens(combined)

			if combinedTokens <= c.config.MaxTokens {
				chunks[i+1] = Chunk{
					PaperID:    chunk.PaperID,
					Section:    chunk.Section,
					Content:    combined,
					TokenCount: combinedTokens,
				}
				continue
			}
		}

		result = append(result, chunk)
	}

	// Re-index after merge
	for i := range result {
		result[i].Index = i
	}

	return result
}

// finalize sets the index and token count for a chunk.
func (c *Chunker) finalize(chunk Chunk, index int) Chunk {
	chunk.Index = index
	chunk.TokenCount = c.estimateTokens(chunk.Content)
	return chunk
}

// estimateTokens estimates token count using the chars/token heuristic.
func (c *Chunker) estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// isCodeFence checks if a line is a code fence (``` or ~~~).
func isCodeFence(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// isHeading checks if a line is a markdown heading.
func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// parseHeading extracts the level and text from a heading line.
func parseHeading(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for _, ch := range trimmed {
		if ch == '#' {
			level++
		} else {
			break
		}
	}
	if level > 6 {
		level = 6
	}

	text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return level, text
}

// splitSentences splits text on sentence-ending punctuation followed by
// whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i == len(runes)-1 || (i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n')) {
				sentences = append(sentences, strings.TrimSpace(current.String()))
				current.Reset()
				if i+1 < len(runes) && runes[i+1] == ' ' {
					i++
				}
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}

	return sentences
}
