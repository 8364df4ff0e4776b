package signal

import (
	"fmt"
	"strings"
)

// ExtractionSystemPrompt returns the system prompt for candidate signal
// extraction over one paper section.
func ExtractionSystemPrompt() string {
	return `You extract supervisory signals from research papers: concrete, verifiable expectations that an implementation of the paper must satisfy.

## What counts as a signal

- A specific architectural choice ("uses multi-head attention with 8 heads")
- A hyperparameter value ("learning rate warmup over 4000 steps")
- A data-processing step ("byte-pair encoding with a shared vocabulary")
- A required output or format ("reports BLEU on newstest2014")
- A training procedure detail ("label smoothing of 0.1")

## What does NOT count

- Vague qualities ("the model should be efficient")
- Claims about results rather than the implementation ("outperforms prior work")
- Anything the section does not actually state

## Output Format

` + "```json" + `
[
  {
    "category": "architecture | hyperparameter | data-processing | output-format | training",
    "description": "one verifiable expectation, stated as a checkable claim about the code",
    "priority": 3
  }
]
` + "```" + `

Priority is 1-5: 5 for choices central to the paper's method, 1 for incidental details. Return an empty array if the section contains no verifiable expectations. No text outside the JSON array.`
}

// ExtractionPrompt returns the user prompt for one section.
func ExtractionPrompt(sectionName, sectionText string, maxSignals int) string {
	if sectionName == "" {
		sectionName = "(untitled)"
	}
	return fmt.Sprintf(`Paper section: %s

%s

Extract at most %d supervisory signals from this section.`, sectionName, sectionText, maxSignals)
}

// RepresentativeSystemPrompt returns the system prompt for picking the
// best phrasing among near-duplicate signal descriptions.
func RepresentativeSystemPrompt() string {
	return `Several extracted signals describe the same expectation in different words. Pick the single most precise and verifiable phrasing.

Respond with only the number of the best candidate. No other text.`
}

// RepresentativePrompt lists duplicate candidates for selection.
func RepresentativePrompt(descriptions []string) string {
	var sb strings.Builder
	sb.WriteString("Candidates:\n")
	for i, d := range descriptions {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, d)
	}
	fmt.Fprintf(&sb, "\nWhich candidate (1-%d) is the most precise and verifiable?", len(descriptions))
	return sb.String()
}

// VerdictSystemPrompt returns the system prompt for the keep/discard
// filter over deduplicated signals.
func VerdictSystemPrompt() string {
	return `You judge whether an extracted signal is a genuine, verifiable expectation supported by the quoted paper text.

Discard signals that are vague, unverifiable against source code, or not actually supported by the passages.

## Output Format

` + "```json" + `
{"verdict": "keep", "reason": "short justification"}
` + "```" + `

Verdict is "keep" or "discard". No text outside the JSON object.`
}

// VerdictPrompt pairs one signal with its supporting passages.
func VerdictPrompt(category, description string, passages []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Signal (%s): %s\n", category, description)
	if len(passages) > 0 {
		sb.WriteString("\nSupporting passages:\n")
		for _, p := range passages {
			sb.WriteString("\n---\n")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nNo supporting passages were retrieved.\n")
	}
	sb.WriteString("\nShould this signal be kept?")
	return sb.String()
}

// PrioritySystemPrompt returns the system prompt for final priority
// ordering of the surviving signal set.
func PrioritySystemPrompt() string {
	return `You order supervisory signals by how important each is to a faithful implementation of the paper. Core method choices come first, incidental details last.

Respond with a JSON array of the signal numbers, most important first. No other text.`
}

// PriorityPrompt lists the surviving signals for ordering.
func PriorityPrompt(signals []Signal) string {
	var sb strings.Builder
	sb.WriteString("Signals:\n")
	for i, sig := range signals {
		fmt.Fprintf(&sb, "\n[%d] (%s) %s\n", i+1, sig.Category, sig.Description)
	}
	fmt.Fprintf(&sb, "\nReturn a JSON array of the signal numbers 1-%d ordered by importance.", len(signals))
	return sb.String()
}
