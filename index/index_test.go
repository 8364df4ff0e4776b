package index_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/paperforge/embed"
	"github.com/c360studio/paperforge/index"
	"github.com/c360studio/paperforge/llm"
	_ "github.com/c360studio/paperforge/llm/providers" // Register providers
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/paper"
)

// keywordVector maps text onto a 3-axis space so similarity is predictable.
func keywordVector(text string) []float64 {
	vec := []float64{0.01, 0.01, 0.01}
	if strings.Contains(text, "attention") {
		vec[0] = 1
	}
	if strings.Contains(text, "optimizer") {
		vec[1] = 1
	}
	if strings.Contains(text, "dataset") {
		vec[2] = 1
	}
	return vec
}

func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"index":     i,
				"embedding": keywordVector(text),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func testPaper() *paper.Paper {
	return &paper.Paper{
		ID: "p1",
		Chunks: []paper.Chunk{
			{PaperID: "p1", Index: 0, Section: "Model", Content: "scaled dot-product attention over queries and keys"},
			{PaperID: "p1", Index: 1, Section: "Training", Content: "the optimizer uses warmup then inverse square root decay"},
			{PaperID: "p1", Index: 2, Section: "Data", Content: "the dataset contains 4.5M sentence pairs"},
			{PaperID: "p1", Index: 3, Section: "Model", Content: "multi-head attention projects into h subspaces"},
		},
	}
}

func buildIndex(t *testing.T) *index.Index {
	t.Helper()
	server := newEmbedServer(t)
	t.Cleanup(server.Close)

	embedder := embed.NewClient(embed.Config{URL: server.URL, Model: "test-embed"})
	ix := index.New(embedder, index.WithConcurrency(2))
	require.NoError(t, ix.Build(context.Background(), testPaper()))
	return ix
}

func TestIndex_Build(t *testing.T) {
	ix := buildIndex(t)
	assert.Equal(t, 4, ix.Len())
}

func TestIndex_Build_EmptyPaper(t *testing.T) {
	ix := index.New(nil)
	err := ix.Build(context.Background(), &paper.Paper{ID: "p1"})
	require.Error(t, err)
}

func TestIndex_Retrieve_RanksBySimilarity(t *testing.T) {
	ix := buildIndex(t)

	hits, err := ix.Retrieve(context.Background(), "how does the optimizer schedule work", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Chunk.Index, "optimizer chunk ranks first")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestIndex_Retrieve_TiesBreakByDocumentOrder(t *testing.T) {
	ix := buildIndex(t)

	// Both attention chunks score identically for an attention query.
	hits, err := ix.Retrieve(context.Background(), "attention mechanism", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Chunk.Index)
	assert.Equal(t, 3, hits[1].Chunk.Index)
}

func TestIndex_Retrieve_EmptyIndex(t *testing.T) {
	ix := index.New(nil)
	_, err := ix.Retrieve(context.Background(), "anything", 3)
	require.Error(t, err)

	var retErr *index.RetrievalError
	assert.ErrorAs(t, err, &retErr)
}

func TestIndex_Retrieve_TopKClamped(t *testing.T) {
	ix := buildIndex(t)

	hits, err := ix.Retrieve(context.Background(), "attention", 100)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func rerankClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityRanking: {Preferred: []string{"ranker"}},
		},
		map[string]*model.EndpointConfig{
			"ranker": {Provider: "ollama", URL: server.URL, Model: "ranker"},
		},
	)
	return llm.NewClient(registry)
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"model": "ranker",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
}

func TestReranker_ReordersHits(t *testing.T) {
	client := rerankClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse("[3, 1, 2]"))
	})

	hits := []index.Hit{
		{Chunk: paper.Chunk{Index: 10}, Score: 0.9},
		{Chunk: paper.Chunk{Index: 11}, Score: 0.8},
		{Chunk: paper.Chunk{Index: 12}, Score: 0.7},
	}

	r := index.NewReranker(client, nil)
	out := r.Rerank(context.Background(), "query", hits)
	require.Len(t, out, 3)
	assert.Equal(t, 12, out[0].Chunk.Index)
	assert.Equal(t, 10, out[1].Chunk.Index)
	assert.Equal(t, 11, out[2].Chunk.Index)
}

func TestReranker_FallsBackOnModelFailure(t *testing.T) {
	client := rerankClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	hits := []index.Hit{
		{Chunk: paper.Chunk{Index: 10}},
		{Chunk: paper.Chunk{Index: 11}},
	}

	r := index.NewReranker(client, nil)
	out := r.Rerank(context.Background(), "query", hits)
	require.Len(t, out, 2)
	assert.Equal(t, 10, out[0].Chunk.Index, "embedding order preserved")
}

func TestReranker_FallsBackOnGarbageOutput(t *testing.T) {
	client := rerankClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse("the most relevant passage is probably the second one"))
	})

	hits := []index.Hit{
		{Chunk: paper.Chunk{Index: 10}},
		{Chunk: paper.Chunk{Index: 11}},
	}

	r := index.NewReranker(client, nil)
	out := r.Rerank(context.Background(), "query", hits)
	require.Len(t, out, 2)
	assert.Equal(t, 10, out[0].Chunk.Index)
}

func TestReranker_DropsInvalidAndKeepsOmitted(t *testing.T) {
	client := rerankClient(t, func(w http.ResponseWriter, r *http.Request) {
		// 9 is out of range, 2 repeats, 3 is never mentioned.
		json.NewEncoder(w).Encode(chatResponse("```json\n[2, 9, 2, 1]\n```"))
	})

	hits := []index.Hit{
		{Chunk: paper.Chunk{Index: 10}},
		{Chunk: paper.Chunk{Index: 11}},
		{Chunk: paper.Chunk{Index: 12}},
	}

	r := index.NewReranker(client, nil)
	out := r.Rerank(context.Background(), "query", hits)
	require.Len(t, out, 3)
	assert.Equal(t, 11, out[0].Chunk.Index)
	assert.Equal(t, 10, out[1].Chunk.Index)
	assert.Equal(t, 12, out[2].Chunk.Index)
}

func TestReranker_SingleHitSkipsModel(t *testing.T) {
	var called bool
	client := rerankClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(chatResponse("[1]"))
	})

	hits := []index.Hit{{Chunk: paper.Chunk{Index: 10}}}
	r := index.NewReranker(client, nil)
	out := r.Rerank(context.Background(), "query", hits)
	assert.Len(t, out, 1)
	assert.False(t, called)
}
