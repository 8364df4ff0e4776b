package paper

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates no paper source file exists for the requested id.
var ErrNotFound = errors.New("paper not found")

// sourceNames are the recognized paper filenames, in preference order.
// Markdown wins over HTML when both exist.
var sourceNames = []string{"paper.md", "paper.markdown", "paper.html", "paper.htm"}

// Loader resolves paper ids to loaded, chunked papers.
type Loader struct {
	dir       string
	converter *Converter
	chunker   *Chunker
	logger    *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithChunker overrides the default chunker.
func WithChunker(c *Chunker) LoaderOption {
	return func(l *Loader) {
		l.chunker = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Loader rooted at dir, which holds one subdirectory
// per paper id.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:       dir,
		converter: NewConverter(),
		chunker:   NewDefaultChunker(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the paper for the given id, converting HTML sources to
// markdown, and splits it into chunks.
func (l *Loader) Load(paperID string) (*Paper, error) {
	path, err := l.resolve(paperID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read paper %s: %w", paperID, err)
	}

	var title, content string
	if isHTMLPath(path) {
		result, err := l.converter.Convert(data)
		if err != nil {
			return nil, fmt.Errorf("convert paper %s: %w", paperID, err)
		}
		title = result.Title
		content = result.Markdown
	} else {
		content = strings.TrimSpace(string(data))
		title = extractMarkdownTitle(content)
	}

	if content == "" {
		return nil, fmt.Errorf("paper %s: %w: source file is empty", paperID, ErrNotFound)
	}

	chunks := l.chunker.Chunk(paperID, content)

	l.logger.Debug("loaded paper",
		"paper_id", paperID,
		"source", filepath.Base(path),
		"chunks", len(chunks))

	return &Paper{
		ID:      paperID,
		Title:   title,
		Content: content,
		Chunks:  chunks,
	}, nil
}

// resolve finds the source file for a paper id.
func (l *Loader) resolve(paperID string) (string, error) {
	if paperID == "" {
		return "", fmt.Errorf("paper id is required")
	}

	paperDir := filepath.Join(l.dir, paperID)
	for _, name := range sourceNames {
		path := filepath.Join(paperDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("paper %s: %w in %s (expected one of %s)",
		paperID, ErrNotFound, paperDir, strings.Join(sourceNames, ", "))
}

func isHTMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".html" || ext == ".htm"
}
