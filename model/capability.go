// Package model provides capability-based model selection for pipeline stages.
// Instead of hardcoding model names, stages specify capabilities (synthesis,
// evaluation, planning, ...) and the registry resolves them to available
// models with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "gpt-4o-mini", callers specify "evaluation" or "ranking".
type Capability string

const (
	// CapabilitySynthesis is for generating the initial code artifact from a paper.
	CapabilitySynthesis Capability = "synthesis"

	// CapabilityExtraction is for extracting candidate supervisory signals.
	CapabilityExtraction Capability = "extraction"

	// CapabilityRanking is for relevance judgments (rerank, priority ordering).
	CapabilityRanking Capability = "ranking"

	// CapabilityEvaluation is for judging code against supervisory signals.
	CapabilityEvaluation Capability = "evaluation"

	// CapabilityPlanning is for turning evaluation failures into revision plans.
	CapabilityPlanning Capability = "planning"

	// CapabilityRevision is for rewriting code files according to a plan.
	CapabilityRevision Capability = "revision"

	// CapabilityFast is for quick auxiliary tasks (summaries, classification).
	CapabilityFast Capability = "fast"
)

// StageCapabilities maps pipeline stage names to their default capability.
// Used when no explicit capability or model is specified on the command line.
var StageCapabilities = map[string]Capability{
	"synthesize": CapabilitySynthesis,
	"extract":    CapabilityExtraction,
	"rerank":     CapabilityRanking,
	"evaluate":   CapabilityEvaluation,
	"plan":       CapabilityPlanning,
	"revise":     CapabilityRevision,
	"summarize":  CapabilityFast,
}

// CapabilityForStage returns the default capability for a pipeline stage.
// Returns CapabilityFast as fallback for unknown stages.
func CapabilityForStage(stage string) Capability {
	if cap, ok := StageCapabilities[stage]; ok {
		return cap
	}
	return CapabilityFast
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilitySynthesis, CapabilityExtraction, CapabilityRanking,
		CapabilityEvaluation, CapabilityPlanning, CapabilityRevision, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
