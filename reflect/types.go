// Package reflect implements the Evaluate-Plan-Revise loop that
// iteratively improves a code artifact against a supervisory signal set.
package reflect

import (
	"time"
)

// Verdict is the evaluation outcome for one signal.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// Status is the terminal outcome of a reflection run.
type Status string

const (
	// StatusConverged means every signal passed.
	StatusConverged Status = "converged"

	// StatusExhausted means the iteration budget ran out with signals
	// still failing. The run itself completed successfully.
	StatusExhausted Status = "exhausted"

	// StatusFailed means an unrecoverable error stopped the loop.
	StatusFailed Status = "failed"

	// StatusRunning marks a run that has not reached a terminal state.
	StatusRunning Status = "running"
)

// SignalResult is one signal's verdict with its diagnostic explanation.
type SignalResult struct {
	SignalID   string  `json:"signal_id"`
	Verdict    Verdict `json:"verdict"`
	Diagnostic string  `json:"diagnostic,omitempty"`
}

// EvaluationReport covers every signal in the set exactly once for one
// artifact version.
type EvaluationReport struct {
	Version   int            `json:"version"`
	Results   []SignalResult `json:"results"`
	CreatedAt time.Time      `json:"created_at"`
}

// AllPass reports whether every verdict is pass.
func (r *EvaluationReport) AllPass() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Verdict != VerdictPass {
			return false
		}
	}
	return true
}

// Failing returns the non-passing results in report order.
// Inconclusive counts as failing for planning purposes.
func (r *EvaluationReport) Failing() []SignalResult {
	var out []SignalResult
	for _, res := range r.Results {
		if res.Verdict != VerdictPass {
			out = append(out, res)
		}
	}
	return out
}

// ByID returns the result for a signal id, or false.
func (r *EvaluationReport) ByID(id string) (SignalResult, bool) {
	for _, res := range r.Results {
		if res.SignalID == id {
			return res, true
		}
	}
	return SignalResult{}, false
}

// Edit is one advisory revision instruction. Edits are scoped to the
// smallest addressable unit: a whole file, or one function inside it.
type Edit struct {
	// SignalIDs are the failing signals this edit addresses.
	SignalIDs []string `json:"signal_ids"`

	// Path is the target file inside the artifact.
	Path string `json:"path"`

	// Region optionally names a function to rewrite. Empty means the
	// whole file.
	Region string `json:"region,omitempty"`

	// Create marks an edit that introduces a new file. Without it, an
	// edit targeting a path absent from the artifact is a failure.
	Create bool `json:"create,omitempty"`

	// Instruction tells the revision model what to change.
	Instruction string `json:"instruction"`
}

// RevisionPlan is an ordered list of edits produced from the failing
// signals of one evaluation report.
type RevisionPlan struct {
	Version int    `json:"version"`
	Edits   []Edit `json:"edits"`
	Notes   string `json:"notes,omitempty"`
}

// EditFailure records a single edit that could not be applied.
// Failed edits are skipped, not fatal; the rest of the plan still runs.
type EditFailure struct {
	EditIndex int    `json:"edit_index"`
	Path      string `json:"path"`
	Reason    string `json:"reason"`
}

// IterationRecord is the immutable audit entry for one loop iteration.
type IterationRecord struct {
	// Index is the 1-based iteration number.
	Index int `json:"index"`

	// VersionBefore and VersionAfter bracket the artifact versions this
	// iteration read and wrote.
	VersionBefore int `json:"version_before"`
	VersionAfter  int `json:"version_after"`

	// Report is the evaluation that drove this iteration's plan.
	Report EvaluationReport `json:"report"`

	Plan *RevisionPlan `json:"plan"`

	// EditFailures lists edits skipped during revision.
	EditFailures []EditFailure `json:"edit_failures,omitempty"`

	// FileDiffs holds a unified diff per changed file.
	FileDiffs map[string]string `json:"file_diffs,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Result is what a completed reflection run returns to the caller.
type Result struct {
	Status       Status
	Iterations   int
	FinalVersion int
	FinalReport  *EvaluationReport
}
