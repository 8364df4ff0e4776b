package synth

import (
	"fmt"
	"strings"

	"github.com/c360studio/paperforge/signal"
)

// SummarySystemPrompt returns the system prompt for the implementation
// summary pre-step.
func SummarySystemPrompt() string {
	return `You summarize a research paper for an engineer who must implement it. Cover the method, the architecture, training procedure, and anything the code must reproduce exactly. Stay under 500 words. Plain text only.`
}

// SummaryPrompt wraps the paper text.
func SummaryPrompt(paperText string) string {
	return fmt.Sprintf(`Summarize this paper for implementation:

%s`, paperText)
}

// SynthesisSystemPrompt returns the system prompt for one-pass code
// generation.
func SynthesisSystemPrompt() string {
	return `You implement research papers as complete, runnable Python projects.

## Output Format

Write every file as a block:

## File: path/to/file.py
` + "```python" + `
...complete file content...
` + "```" + `

Rules:
- Emit complete files, never fragments or ellipses.
- Include an entry point (main.py) and a config module for hyperparameters.
- Follow the paper's stated choices exactly; do not substitute your own defaults.
- No text outside the file blocks.`
}

// SynthesisPrompt assembles the generation request from the paper, its
// summary, and the expectation checklist.
func SynthesisPrompt(paperText, summary string, set *signal.Set) string {
	var sb strings.Builder
	sb.WriteString("Implement the following paper as a Python project.\n")

	if summary != "" {
		sb.WriteString("\n## Implementation Summary\n\n")
		sb.WriteString(summary)
		sb.WriteString("\n")
	}

	if set != nil && len(set.Signals) > 0 {
		sb.WriteString("\n## Expectations the code must satisfy\n")
		for _, sig := range set.Signals {
			fmt.Fprintf(&sb, "- (%s) %s\n", sig.Category, sig.Description)
		}
	}

	sb.WriteString("\n## Paper\n\n")
	sb.WriteString(paperText)
	return sb.String()
}
