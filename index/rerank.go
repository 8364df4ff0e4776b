package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/model"
)

// Reranker reorders retrieval hits with an LLM relevance judgment.
// Rerank failures degrade to the embedding order instead of failing the
// caller; retrieval grounding is best-effort refinement, not a gate.
type Reranker struct {
	client *llm.Client
	logger *slog.Logger
}

// NewReranker creates a Reranker on top of an LLM client.
func NewReranker(client *llm.Client, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{client: client, logger: logger}
}

// Rerank asks the ranking model to order hits by relevance to the query.
// On model or parse failure the input order is returned unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []Hit) []Hit {
	if len(hits) <= 1 {
		return hits
	}

	temp := 0.0
	resp, err := r.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityRanking.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: rerankSystemPrompt},
			{Role: "user", Content: buildRerankPrompt(query, hits)},
		},
	})
	if err != nil {
		r.logger.Warn("rerank model call failed, keeping embedding order", "error", err)
		return hits
	}

	order, err := parseRerankOrder(resp.Content, len(hits))
	if err != nil {
		r.logger.Warn("rerank response unparseable, keeping embedding order", "error", err)
		return hits
	}

	reranked := make([]Hit, 0, len(hits))
	for _, i := range order {
		reranked = append(reranked, hits[i])
	}
	return reranked
}

const rerankSystemPrompt = `You rank paper passages by how directly they support implementing a requirement. Respond with a JSON array of passage numbers, most relevant first. No other text.`

// buildRerankPrompt formats the query and numbered passages.
func buildRerankPrompt(query string, hits []Hit) string {
	var sb strings.Builder
	sb.WriteString("Requirement:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nPassages:\n")
	for i, hit := range hits {
		fmt.Fprintf(&sb, "\n[%d] (section: %s)\n%s\n", i+1, hit.Chunk.Section, hit.Chunk.Content)
	}
	fmt.Fprintf(&sb, "\nReturn a JSON array of the passage numbers 1-%d ordered by relevance.", len(hits))
	return sb.String()
}

// parseRerankOrder turns the model output into a permutation of hit
// indices. Out-of-range and duplicate numbers are dropped; hits the model
// omitted keep their embedding order at the end.
func parseRerankOrder(content string, n int) ([]int, error) {
	raw := llm.ExtractJSONArray(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var numbers []int
	if err := json.Unmarshal([]byte(raw), &numbers); err != nil {
		return nil, fmt.Errorf("parse rank array: %w", err)
	}

	seen := make(map[int]bool, n)
	order := make([]int, 0, n)
	for _, num := range numbers {
		idx := num - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}

	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}

	return order, nil
}
