// Package main implements a mock model server for offline pipeline runs.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files routed by the "model" field, and /v1/embeddings responses derived
// deterministically from the input text. Pointing both the model registry
// and the embedding config at this server makes a full paperforge run
// fast, deterministic, and offline.
//
// Usage:
//
//	mock-llm -fixtures ./fixtures -port 11434 -dims 16
//
// Fixture files are named by model: "judge.md" answers model "judge".
// Numbered files ("judge.1.md", "judge.2.md") are served in order, one
// per call, before the base file becomes the repeating fallback. That
// sequencing is how fail-then-pass evaluation runs are scripted.
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type server struct {
	fixtures map[string][]string
	dims     int

	mu         sync.Mutex
	modelCalls map[string]int
	totalCalls int
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	dims := flag.Int("dims", 16, "embedding vector dimension")
	flag.Parse()

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("load fixtures from %s: %v", *fixtureDir, err)
	}
	for model, seq := range fixtures {
		log.Printf("model %s: %d fixture(s)", model, len(seq))
	}

	s := &server{
		fixtures:   fixtures,
		dims:       *dims,
		modelCalls: make(map[string]int),
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock model server listening on %s", addr)
	if err := http.ListenAndServe(addr, s.mux()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/embeddings", s.handleEmbeddings)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChat serves the next fixture in the model's sequence.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	seq, ok := s.fixtures[req.Model]
	if !ok {
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	idx := s.modelCalls[req.Model]
	s.modelCalls[req.Model]++
	s.totalCalls++
	s.mu.Unlock()

	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	content := seq[idx]

	log.Printf("chat model=%s call=%d messages=%d", req.Model, idx+1, len(req.Messages))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     len(content) / 4,
			"completion_tokens": len(content) / 4,
			"total_tokens":      len(content) / 2,
		},
	})
}

// handleEmbeddings returns a deterministic unit vector per input, so
// identical texts always land at the same point and retrieval stays
// reproducible across runs.
func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	data := make([]map[string]any, len(req.Input))
	for i, text := range req.Input {
		data[i] = map[string]any{
			"index":     i,
			"embedding": textVector(text, s.dims),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  req.Model,
		"data":   data,
	})
}

// handleStats returns call counts for assertions in harness scripts.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.modelCalls))
	for model, n := range s.modelCalls {
		byModel[model] = n
	}
	total := s.totalCalls
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    total,
		"calls_by_model": byModel,
	})
}

// textVector hashes text into a unit vector. Distinct texts spread out,
// identical texts coincide.
func textVector(text string, dims int) []float64 {
	sum := sha256.Sum256([]byte(text))

	vec := make([]float64, dims)
	var norm float64
	for i := range vec {
		// Cycle over the digest in 4-byte windows.
		off := (i * 4) % (len(sum) - 4)
		v := float64(binary.BigEndian.Uint32(sum[off:off+4]))/float64(math.MaxUint32) - 0.5
		vec[i] = v
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// numberedFileRe matches names like "judge.2.md".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.[^.]+$`)

// loadFixtures maps model names to ordered response sequences: numbered
// files first, base file last as the repeating fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}

		if m := numberedFileRe.FindStringSubmatch(e.Name()); m != nil {
			idx, _ := strconv.Atoi(m[2])
			if numbered[m[1]] == nil {
				numbered[m[1]] = make(map[int]string)
			}
			numbered[m[1]][idx] = string(data)
			continue
		}

		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		base[name] = string(data)
	}

	fixtures := make(map[string][]string)
	models := make(map[string]bool)
	for m := range base {
		models[m] = true
	}
	for m := range numbered {
		models[m] = true
	}

	for model := range models {
		var seq []string
		if byIdx, ok := numbered[model]; ok {
			indices := make([]int, 0, len(byIdx))
			for idx := range byIdx {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, byIdx[idx])
			}
		}
		if content, ok := base[model]; ok {
			seq = append(seq, content)
		}
		fixtures[model] = seq
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files in %s", dir)
	}
	return fixtures, nil
}
