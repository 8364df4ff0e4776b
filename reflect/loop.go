package reflect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/metrics"
	"github.com/c360studio/paperforge/signal"
)

// maxConsecutivePlanFailures is how many planning failures in a row the
// loop tolerates before giving up on the run.
const maxConsecutivePlanFailures = 2

// Store persists loop progress. *workspace.Store satisfies it.
type Store interface {
	SaveArtifact(a *artifact.Artifact) error
	AppendIteration(rec *IterationRecord) error
	LoadIterations() ([]IterationRecord, error)
	SetStatus(status Status, iterations, finalVersion int) error
	SaveFinalReport(report *EvaluationReport) error
	WriteSummary(text string) error
}

// Loop drives the evaluate-plan-revise cycle until the artifact
// converges, the iteration budget runs out, or planning stalls.
type Loop struct {
	evaluator   *Evaluator
	planner     *Planner
	reviser     *Reviser
	store       Store
	maxAttempts int
	onIteration func(rec *IterationRecord)
	metrics     *metrics.Set
	logger      *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxAttempts sets the iteration budget.
func WithMaxAttempts(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithEvalConcurrency bounds concurrent signal evaluations.
func WithEvalConcurrency(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.evaluator.concurrency = n
		}
	}
}

// WithIterationHook registers a callback invoked after each iteration
// is persisted, with the record that was written.
func WithIterationHook(fn func(rec *IterationRecord)) LoopOption {
	return func(l *Loop) {
		l.onIteration = fn
	}
}

// WithMetrics attaches a metrics set.
func WithMetrics(m *metrics.Set) LoopOption {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithLogger sets the logger for the loop and its phases.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
		l.evaluator.logger = logger
		l.planner.logger = logger
		l.reviser.logger = logger
	}
}

// NewLoop creates a Loop over one workspace.
func NewLoop(client *llm.Client, store Store, opts ...LoopOption) *Loop {
	logger := slog.Default()
	l := &Loop{
		evaluator:   NewEvaluator(client, 0, logger),
		planner:     NewPlanner(client, logger),
		reviser:     NewReviser(client, logger),
		store:       store,
		maxAttempts: 3,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop starting from the given artifact, which must be
// the latest persisted version. Prior iteration records are loaded so a
// resumed run picks up where the last one stopped. Run returns an error
// only when it cannot reach any terminal status.
func (l *Loop) Run(ctx context.Context, set *signal.Set, a *artifact.Artifact) (*Result, error) {
	prior, err := l.store.LoadIterations()
	if err != nil {
		return nil, fmt.Errorf("load iteration history: %w", err)
	}
	completed := len(prior)
	if completed > 0 {
		l.logger.Info("resuming reflection run",
			"completed_iterations", completed, "version", a.Version)
	}

	current := a
	planFailures := 0

	for {
		report, err := l.evaluator.Evaluate(ctx, set, current)
		if err != nil {
			return nil, fmt.Errorf("evaluate version %d: %w", current.Version, err)
		}
		l.observeVerdicts(report)

		if report.AllPass() {
			return l.finish(StatusConverged, completed, current, report, set)
		}
		if completed >= l.maxAttempts {
			return l.finish(StatusExhausted, completed, current, report, set)
		}

		startedAt := time.Now().UTC()
		plan, err := l.planner.Plan(ctx, set, report, current)
		if err != nil {
			var planErr *PlanError
			if !errors.As(err, &planErr) {
				return nil, fmt.Errorf("plan for version %d: %w", current.Version, err)
			}
			planFailures++
			l.logger.Warn("planning failed",
				"version", current.Version,
				"consecutive_failures", planFailures,
				"error", err)
			if planFailures >= maxConsecutivePlanFailures {
				return l.finish(StatusFailed, completed, current, report, set)
			}
			continue
		}
		planFailures = 0

		next, editFailures, diffs := l.reviser.Revise(ctx, plan, current)
		if err := l.store.SaveArtifact(next); err != nil {
			return nil, fmt.Errorf("save version %d: %w", next.Version, err)
		}

		rec := IterationRecord{
			Index:         completed + 1,
			VersionBefore: current.Version,
			VersionAfter:  next.Version,
			Report:        *report,
			Plan:          plan,
			EditFailures:  editFailures,
			FileDiffs:     diffs,
			StartedAt:     startedAt,
			CompletedAt:   time.Now().UTC(),
		}
		if err := l.store.AppendIteration(&rec); err != nil {
			return nil, fmt.Errorf("record iteration %d: %w", rec.Index, err)
		}

		completed++
		current = next
		if l.metrics != nil {
			l.metrics.ObserveIteration()
		}
		if err := l.store.SetStatus(StatusRunning, completed, current.Version); err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		if l.onIteration != nil {
			l.onIteration(&rec)
		}

		l.logger.Info("iteration complete",
			"iteration", completed,
			"version", current.Version,
			"failing_signals", len(report.Failing()),
			"failed_edits", len(editFailures))
	}
}

// finish persists the terminal state and builds the result.
func (l *Loop) finish(status Status, iterations int, a *artifact.Artifact, report *EvaluationReport, set *signal.Set) (*Result, error) {
	if err := l.store.SetStatus(status, iterations, a.Version); err != nil {
		return nil, fmt.Errorf("persist terminal status: %w", err)
	}
	if err := l.store.SaveFinalReport(report); err != nil {
		return nil, fmt.Errorf("persist final report: %w", err)
	}
	if err := l.store.WriteSummary(renderSummary(status, iterations, a, report, set)); err != nil {
		l.logger.Warn("could not write run summary", "error", err)
	}

	l.logger.Info("reflection run finished",
		"status", status,
		"iterations", iterations,
		"final_version", a.Version)

	return &Result{
		Status:       status,
		Iterations:   iterations,
		FinalVersion: a.Version,
		FinalReport:  report,
	}, nil
}

func (l *Loop) observeVerdicts(report *EvaluationReport) {
	if l.metrics == nil {
		return
	}
	for _, res := range report.Results {
		l.metrics.ObserveVerdict(string(res.Verdict))
	}
}

// renderSummary produces the human-readable summary.md body.
func renderSummary(status Status, iterations int, a *artifact.Artifact, report *EvaluationReport, set *signal.Set) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reflection Run: %s\n\n", set.PaperID)
	fmt.Fprintf(&b, "- Status: %s\n", status)
	fmt.Fprintf(&b, "- Iterations: %d\n", iterations)
	fmt.Fprintf(&b, "- Final version: v%03d\n\n", a.Version)

	b.WriteString("## Signals\n\n")
	for _, sig := range set.Signals {
		verdict := VerdictInconclusive
		if res, ok := report.ByID(sig.ID); ok {
			verdict = res.Verdict
		}
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", verdict, sig.ID, sig.Category, sig.Description)
	}

	b.WriteString("\n## Files\n\n")
	for _, path := range a.Paths() {
		fmt.Fprintf(&b, "- %s\n", path)
	}

	return b.String()
}
