package reflect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/signal"
)

// PlanError indicates the planning model produced unusable output.
// One bad plan skips the revision for that iteration; repeated bad
// plans fail the run.
type PlanError struct {
	Err error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("revision planning failed: %v", e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// Planner turns an evaluation report's failures into a revision plan.
type Planner struct {
	client *llm.Client
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(client *llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, logger: logger}
}

// Plan produces a revision plan for the report's failing signals.
// Failures are presented highest priority first, ids breaking ties, so
// planning is deterministic for a fixed report. Edits that name only
// passing signals are dropped.
func (p *Planner) Plan(ctx context.Context, set *signal.Set, report *EvaluationReport, a *artifact.Artifact) (*RevisionPlan, error) {
	failing := report.Failing()
	if len(failing) == 0 {
		return nil, fmt.Errorf("nothing to plan: every signal passes")
	}

	sortFailing(failing, set)

	temp := 0.0
	resp, err := p.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityPlanning.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: PlanningSystemPrompt()},
			{Role: "user", Content: PlanningPrompt(failing, set, RenderArtifact(a))},
		},
	})
	if err != nil {
		return nil, &PlanError{Err: err}
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, &PlanError{Err: fmt.Errorf("no JSON object in planning response")}
	}

	var parsed struct {
		Notes string `json:"notes"`
		Edits []Edit `json:"edits"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &PlanError{Err: fmt.Errorf("parse plan: %w", err)}
	}

	plan := &RevisionPlan{
		Version: a.Version,
		Notes:   parsed.Notes,
	}
	for _, edit := range parsed.Edits {
		kept := p.scopeEdit(edit, report)
		if kept == nil {
			continue
		}
		plan.Edits = append(plan.Edits, *kept)
	}

	if len(plan.Edits) == 0 {
		return nil, &PlanError{Err: fmt.Errorf("plan contains no usable edits")}
	}

	p.logger.Info("planned revision",
		"version", a.Version,
		"failing", len(failing),
		"edits", len(plan.Edits))

	return plan, nil
}

// scopeEdit enforces plan scoping: an edit may only target signals that
// are not passing. Passing ids are stripped; an edit left with no
// failing signal is dropped entirely.
func (p *Planner) scopeEdit(edit Edit, report *EvaluationReport) *Edit {
	if edit.Path == "" || edit.Instruction == "" {
		p.logger.Debug("dropping incomplete edit", "path", edit.Path)
		return nil
	}

	var ids []string
	for _, id := range edit.SignalIDs {
		res, ok := report.ByID(id)
		if !ok {
			// Unknown id: the model invented it, drop the reference.
			continue
		}
		if res.Verdict == VerdictPass {
			p.logger.Debug("dropping edit reference to passing signal",
				"signal_id", id, "path", edit.Path)
			continue
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil
	}
	edit.SignalIDs = ids
	return &edit
}

// sortFailing orders failing results by signal priority descending, then
// id ascending.
func sortFailing(failing []SignalResult, set *signal.Set) {
	priority := func(id string) int {
		if sig, ok := set.ByID(id); ok {
			return sig.Priority
		}
		return 0
	}
	sort.SliceStable(failing, func(a, b int) bool {
		pa, pb := priority(failing[a].SignalID), priority(failing[b].SignalID)
		if pa != pb {
			return pa > pb
		}
		return failing[a].SignalID < failing[b].SignalID
	})
}
