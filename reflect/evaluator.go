package reflect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/signal"
)

// Evaluator judges a code artifact against every signal in the set.
// Signals are independent, so judgments run concurrently up to a bound.
type Evaluator struct {
	client      *llm.Client
	concurrency int
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(client *llm.Client, concurrency int, logger *slog.Logger) *Evaluator {
	if concurrency <= 0 {
		concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, concurrency: concurrency, logger: logger}
}

// Evaluate produces a report covering every signal exactly once, in set
// order. A model failure for one signal yields an inconclusive verdict
// with the error as diagnostic; it never fails the whole evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, set *signal.Set, a *artifact.Artifact) (*EvaluationReport, error) {
	if set == nil || len(set.Signals) == 0 {
		return nil, fmt.Errorf("signal set is empty")
	}

	code := RenderArtifact(a)
	results := make([]SignalResult, len(set.Signals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, sig := range set.Signals {
		i, sig := i, sig
		g.Go(func() error {
			// Each goroutine writes its own slot; report order is set order.
			results[i] = e.judge(gctx, sig, code)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &EvaluationReport{
		Version:   a.Version,
		Results:   results,
		CreatedAt: time.Now().UTC(),
	}

	passing := 0
	for _, res := range results {
		if res.Verdict == VerdictPass {
			passing++
		}
	}
	e.logger.Info("evaluated artifact",
		"version", a.Version,
		"signals", len(results),
		"passing", passing)

	return report, nil
}

// judge evaluates one signal.
func (e *Evaluator) judge(ctx context.Context, sig signal.Signal, code string) SignalResult {
	temp := 0.0
	resp, err := e.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityEvaluation.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: EvaluationSystemPrompt()},
			{Role: "user", Content: EvaluationPrompt(sig, code)},
		},
	})
	if err != nil {
		e.logger.Warn("evaluation call failed, verdict inconclusive",
			"signal_id", sig.ID, "error", err)
		return SignalResult{
			SignalID:   sig.ID,
			Verdict:    VerdictInconclusive,
			Diagnostic: fmt.Sprintf("evaluation call failed: %v", err),
		}
	}

	verdict, diagnostic, perr := parseEvaluation(resp.Content)
	if perr != nil {
		return SignalResult{
			SignalID:   sig.ID,
			Verdict:    VerdictInconclusive,
			Diagnostic: fmt.Sprintf("unparseable evaluation: %v", perr),
		}
	}

	return SignalResult{
		SignalID:   sig.ID,
		Verdict:    verdict,
		Diagnostic: diagnostic,
	}
}

// parseEvaluation extracts the verdict and the Reality section from the
// sectioned evaluation output.
func parseEvaluation(content string) (Verdict, string, error) {
	sections := splitSections(content)

	verdictText, ok := sections["verdict"]
	if !ok {
		return "", "", fmt.Errorf("missing Verdict section")
	}

	var verdict Verdict
	switch firstWord(verdictText) {
	case "pass":
		verdict = VerdictPass
	case "fail":
		verdict = VerdictFail
	case "inconclusive":
		verdict = VerdictInconclusive
	default:
		return "", "", fmt.Errorf("unknown verdict %q", firstWord(verdictText))
	}

	diagnostic := strings.TrimSpace(sections["reality"])
	return verdict, diagnostic, nil
}

// splitSections parses "## Heading" delimited markdown into a map keyed
// by lowercased heading.
func splitSections(content string) map[string]string {
	sections := make(map[string]string)
	var current string
	var body []string

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(body, "\n"))
		}
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			heading = strings.TrimSuffix(heading, ":")
			current = strings.ToLower(heading)
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}

// firstWord returns the first whitespace-delimited word, lowercased and
// stripped of punctuation.
func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], ".,!`*\"'"))
}
