// Package signal derives supervisory signals from papers: verifiable
// expectations about the generated code, grounded in paper text.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/c360studio/paperforge/paper"
)

// Known signal categories. The extraction model is steered toward these
// but free-form categories are preserved as-is.
const (
	CategoryArchitecture   = "architecture"
	CategoryHyperparameter = "hyperparameter"
	CategoryDataProcessing = "data-processing"
	CategoryOutputFormat   = "output-format"
	CategoryTraining       = "training"
)

// Signal is one verifiable expectation about the target code.
type Signal struct {
	// ID is derived from category and description, so an unchanged paper
	// yields the same ids across runs.
	ID string `json:"id"`

	// Category groups the expectation (architecture, hyperparameter, ...).
	Category string `json:"category"`

	// Description is the natural-language expectation to check code against.
	Description string `json:"description"`

	// Priority orders signals for evaluation and planning; higher first.
	Priority int `json:"priority"`

	// Refs point back to the paper chunks that support this signal.
	Refs []paper.Ref `json:"refs,omitempty"`
}

// Set is the finalized signal set for one paper. Frozen once designed;
// reflection runs consume it read-only.
type Set struct {
	PaperID   string    `json:"paper_id"`
	CreatedAt time.Time `json:"created_at"`
	Signals   []Signal  `json:"signals"`
}

// ByID returns the signal with the given id, or false.
func (s *Set) ByID(id string) (Signal, bool) {
	for _, sig := range s.Signals {
		if sig.ID == id {
			return sig, true
		}
	}
	return Signal{}, false
}

// IDs returns all signal ids in set order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.Signals))
	for i, sig := range s.Signals {
		ids[i] = sig.ID
	}
	return ids
}

// NewID derives a stable signal id from category and description.
// The first 12 hex characters of a SHA-256 over the normalized pair are
// unique enough per paper and stay stable across runs.
func NewID(category, description string) string {
	h := sha256.Sum256([]byte(normalize(category) + "\n" + normalize(description)))
	return hex.EncodeToString(h[:])[:12]
}

// normalize lowercases and collapses whitespace so cosmetic rewording of
// the same expectation maps to the same id.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
