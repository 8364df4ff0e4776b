// Package index provides in-memory vector retrieval over paper chunks.
// Chunks are embedded once at build time; queries are scored by cosine
// similarity with document order breaking ties.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/paperforge/embed"
	"github.com/c360studio/paperforge/paper"
)

// embedBatchSize is how many chunks go into one embedding request.
const embedBatchSize = 16

// RetrievalError indicates a query could not be answered.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	q := e.Query
	if len(q) > 60 {
		q = q[:60] + "..."
	}
	return fmt.Sprintf("retrieval failed for %q: %v", q, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Hit is one retrieval result.
type Hit struct {
	Chunk paper.Chunk
	Score float64
}

// Index holds embedded paper chunks for similarity search.
type Index struct {
	embedder    *embed.Client
	logger      *slog.Logger
	concurrency int

	chunks  []paper.Chunk
	vectors [][]float64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithConcurrency bounds parallel embedding requests during Build.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// New creates an empty index backed by the given embedding client.
func New(embedder *embed.Client, opts ...Option) *Index {
	ix := &Index{
		embedder:    embedder,
		logger:      slog.Default(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build embeds all chunks of a paper. Any previous contents are replaced.
// Embedding requests run in bounded-concurrency batches; one failed batch
// fails the build.
func (ix *Index) Build(ctx context.Context, p *paper.Paper) error {
	if p == nil || len(p.Chunks) == 0 {
		return fmt.Errorf("paper has no chunks to index")
	}

	chunks := make([]paper.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	vectors := make([][]float64, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end

		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, chunk := range chunks[start:end] {
				texts = append(texts, chunk.Content)
			}

			vecs, err := ix.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}

			// Disjoint ranges, no locking needed.
			copy(vectors[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	ix.chunks = chunks
	ix.vectors = vectors

	ix.logger.Debug("built index", "paper_id", p.ID, "chunks", len(chunks))
	return nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Retrieve returns the topK most similar chunks to the query.
// Equal scores fall back to document order, so results are deterministic.
func (ix *Index) Retrieve(ctx context.Context, query string, topK int) ([]Hit, error) {
	if len(ix.chunks) == 0 {
		return nil, &RetrievalError{Query: query, Err: fmt.Errorf("index is empty")}
	}
	if topK <= 0 {
		topK = 1
	}

	qvec, err := ix.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Query: query, Err: err}
	}

	hits := make([]Hit, len(ix.chunks))
	for i, vec := range ix.vectors {
		hits[i] = Hit{
			Chunk: ix.chunks[i],
			Score: embed.Dot(qvec, vec),
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Chunk.Index < hits[b].Chunk.Index
	})

	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}
