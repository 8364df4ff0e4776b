package reflect_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	_ "github.com/c360studio/paperforge/llm/providers" // Register providers
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/reflect"
	"github.com/c360studio/paperforge/signal"
)

// newClient wires one httptest server per capability the loop uses.
func newClient(t *testing.T, eval, plan, revise http.HandlerFunc) *llm.Client {
	t.Helper()

	evalSrv := httptest.NewServer(eval)
	t.Cleanup(evalSrv.Close)
	planSrv := httptest.NewServer(plan)
	t.Cleanup(planSrv.Close)
	reviseSrv := httptest.NewServer(revise)
	t.Cleanup(reviseSrv.Close)

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityEvaluation: {Preferred: []string{"judge"}},
			model.CapabilityPlanning:   {Preferred: []string{"planner"}},
			model.CapabilityRevision:   {Preferred: []string{"reviser"}},
		},
		map[string]*model.EndpointConfig{
			"judge":   {Provider: "ollama", URL: evalSrv.URL, Model: "judge"},
			"planner": {Provider: "ollama", URL: planSrv.URL, Model: "planner"},
			"reviser": {Provider: "ollama", URL: reviseSrv.URL, Model: "reviser"},
		},
	)
	return llm.NewClient(registry)
}

// lastUserMessage pulls the user prompt out of an OpenAI-format request.
func lastUserMessage(t *testing.T, r *http.Request) string {
	t.Helper()
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func chat(w http.ResponseWriter, content string) {
	json.NewEncoder(w).Encode(map[string]any{
		"model": "m",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
}

// evalResponse builds a well-formed sectioned evaluation reply.
func evalResponse(verdict, reality string) string {
	return fmt.Sprintf(`## Expectations
The code should satisfy the expectation.

## Reality
%s

## Verdict
%s`, reality, verdict)
}

func unusedHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Error("capability server called unexpectedly")
		http.Error(w, "unexpected", http.StatusTeapot)
	}
}

// testSignals is a two-signal set with distinct priorities.
func testSignals() *signal.Set {
	attn := signal.Signal{
		Category:    signal.CategoryArchitecture,
		Description: "uses multi-head attention with 8 heads",
		Priority:    5,
	}
	attn.ID = signal.NewID(attn.Category, attn.Description)

	adam := signal.Signal{
		Category:    signal.CategoryTraining,
		Description: "optimizer is adam with warmup",
		Priority:    3,
	}
	adam.ID = signal.NewID(adam.Category, adam.Description)

	return &signal.Set{
		PaperID: "transformer",
		Signals: []signal.Signal{attn, adam},
	}
}

// baseArtifact is a minimal version 0 artifact.
func baseArtifact(t *testing.T) *artifact.Artifact {
	t.Helper()
	a := artifact.New(0)
	require.NoError(t, a.Set("main.py", "def main():\n    train()\n"))
	require.NoError(t, a.Set("model.py", "def build_model():\n    return Model(heads=4)\n"))
	return a
}

// fakeStore is an in-memory reflect.Store.
type fakeStore struct {
	artifacts   []*artifact.Artifact
	iterations  []reflect.IterationRecord
	status      reflect.Status
	statusIters int
	statusVer   int
	finalReport *reflect.EvaluationReport
	summary     string
}

func (s *fakeStore) SaveArtifact(a *artifact.Artifact) error {
	s.artifacts = append(s.artifacts, a)
	return nil
}

func (s *fakeStore) AppendIteration(rec *reflect.IterationRecord) error {
	s.iterations = append(s.iterations, *rec)
	return nil
}

func (s *fakeStore) LoadIterations() ([]reflect.IterationRecord, error) {
	return s.iterations, nil
}

func (s *fakeStore) SetStatus(status reflect.Status, iterations, finalVersion int) error {
	s.status = status
	s.statusIters = iterations
	s.statusVer = finalVersion
	return nil
}

func (s *fakeStore) SaveFinalReport(report *reflect.EvaluationReport) error {
	s.finalReport = report
	return nil
}

func (s *fakeStore) WriteSummary(text string) error {
	s.summary = text
	return nil
}
