package reflect

import (
	"fmt"
	"strings"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/signal"
)

// maxRenderedArtifactChars bounds the code context sent per model call.
const maxRenderedArtifactChars = 48000

// EvaluationSystemPrompt returns the system prompt for judging one
// signal against the code.
func EvaluationSystemPrompt() string {
	return `You check generated code against one expectation derived from a research paper. You judge by reading the code; you cannot run it.

## Output Format

## Expectations
What the code would look like if it satisfied the expectation.

## Reality
What the code actually does, citing files and functions.

## Verdict
One word: pass, fail, or inconclusive.

Use "inconclusive" only when the code genuinely leaves the question open. No text outside these three sections.`
}

// EvaluationPrompt pairs one signal with the rendered artifact.
func EvaluationPrompt(sig signal.Signal, code string) string {
	return fmt.Sprintf(`Expectation (%s): %s

## Code

%s`, sig.Category, sig.Description, code)
}

// PlanningSystemPrompt returns the system prompt for turning failing
// signals into a revision plan.
func PlanningSystemPrompt() string {
	return `You plan targeted code revisions to fix expectations the code currently fails. Each edit is an instruction for a revision model, scoped to the smallest unit that needs to change: one file, or one function inside a file.

## Output Format

` + "```json" + `
{
  "notes": "overall strategy in one or two sentences",
  "edits": [
    {
      "signal_ids": ["abc123def456"],
      "path": "src/model.py",
      "region": "MultiHeadAttention.forward",
      "instruction": "what to change and why"
    }
  ]
}
` + "```" + `

Rules:
- Only address the failing expectations listed; never touch passing ones.
- "region" names a function ("name" or "Class.method") when the change fits inside one; omit it for whole-file changes.
- Set "create": true on an edit that adds a file the project does not have yet. Edits naming files that do not exist and are not marked "create" are rejected.
- Order edits so earlier ones do not invalidate later targets.
- No text outside the JSON object.`
}

// PlanningPrompt lists the failing signals with diagnostics and the code.
func PlanningPrompt(failing []SignalResult, set *signal.Set, code string) string {
	var sb strings.Builder
	sb.WriteString("Failing expectations, highest priority first:\n")
	for _, res := range failing {
		sig, _ := set.ByID(res.SignalID)
		fmt.Fprintf(&sb, "\n- [%s] (%s) %s\n  Verdict: %s\n", res.SignalID, sig.Category, sig.Description, res.Verdict)
		if res.Diagnostic != "" {
			fmt.Fprintf(&sb, "  Diagnosis: %s\n", res.Diagnostic)
		}
	}
	sb.WriteString("\n## Code\n\n")
	sb.WriteString(code)
	return sb.String()
}

// FileRevisionSystemPrompt returns the system prompt for whole-file
// rewrites.
func FileRevisionSystemPrompt() string {
	return `You rewrite one source file according to a revision instruction. Return the complete new file content in a single fenced code block. Keep everything not covered by the instruction unchanged. No text outside the code block.`
}

// FileRevisionPrompt pairs the instruction with the current file.
// An empty current content means the file is being created.
func FileRevisionPrompt(path, instruction, current string) string {
	if current == "" {
		return fmt.Sprintf(`Create the file %s.

Instruction: %s`, path, instruction)
	}
	return fmt.Sprintf(`Rewrite the file %s.

Instruction: %s

Current content:
`+"```python\n%s\n```", path, instruction, current)
}

// RegionRevisionSystemPrompt returns the system prompt for single
// function rewrites.
func RegionRevisionSystemPrompt() string {
	return `You rewrite one Python function according to a revision instruction. Return only the new function definition in a single fenced code block, preserving the original indentation so it can replace the old definition verbatim. Include decorators if the original had them. No text outside the code block.`
}

// RegionRevisionPrompt pairs the instruction with the current function.
func RegionRevisionPrompt(path, region, instruction, current string) string {
	return fmt.Sprintf(`Rewrite the function %s in %s.

Instruction: %s

Current definition:
`+"```python\n%s\n```", region, path, instruction, current)
}

// RenderArtifact serializes an artifact for model context, truncating
// when the project exceeds the context budget.
func RenderArtifact(a *artifact.Artifact) string {
	var sb strings.Builder
	for _, p := range a.Paths() {
		block := fmt.Sprintf("## File: %s\n```python\n%s\n```\n\n", p, a.Files[p])
		if sb.Len()+len(block) > maxRenderedArtifactChars {
			fmt.Fprintf(&sb, "## File: %s\n(omitted for length)\n\n", p)
			continue
		}
		sb.WriteString(block)
	}
	return strings.TrimSpace(sb.String())
}
