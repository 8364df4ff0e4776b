// Package synth produces the initial code artifact (version 0) from a
// paper in a single generation pass.
package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/paper"
	"github.com/c360studio/paperforge/signal"
)

// maxPaperChars bounds the paper text sent to the generation model.
const maxPaperChars = 60000

// GenerationError indicates the synthesizer could not produce a valid
// base artifact. Without version 0 the run cannot proceed, so this is
// always fatal to the caller.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("code synthesis failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Synthesizer generates CodeArtifact version 0.
type Synthesizer struct {
	client *llm.Client
	logger *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// New creates a Synthesizer.
func New(client *llm.Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize produces the version-0 artifact for a paper. The signal set
// is optional grounding; a nil set generates from the paper alone.
// There is no internal iteration: one pass, parseable or fatal.
func (s *Synthesizer) Synthesize(ctx context.Context, p *paper.Paper, set *signal.Set) (*artifact.Artifact, error) {
	paperText := p.Content
	if len(paperText) > maxPaperChars {
		paperText = paperText[:maxPaperChars]
	}

	summary := s.summarize(ctx, paperText)

	temp := 0.0
	resp, err := s.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilitySynthesis.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: SynthesisSystemPrompt()},
			{Role: "user", Content: SynthesisPrompt(paperText, summary, set)},
		},
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	files, errs := artifact.ParseFileSet(resp.Content)
	if artifact.IsParseError(errs) {
		return nil, &GenerationError{Err: fmt.Errorf("output is not a file set: %v", errs[len(errs)-1])}
	}
	for _, perr := range errs {
		s.logger.Warn("skipped malformed file block in synthesis output", "error", perr)
	}

	a := artifact.New(0)
	a.Files = files

	s.logger.Info("synthesized initial artifact",
		"paper_id", p.ID,
		"files", len(files),
		"model", resp.Model)

	return a, nil
}

// summarize runs the implementation-summary pre-step. Failure degrades
// to generating without a summary rather than failing synthesis.
func (s *Synthesizer) summarize(ctx context.Context, paperText string) string {
	resp, err := s.client.Complete(ctx, llm.Request{
		Capability: model.CapabilityFast.String(),
		Messages: []llm.Message{
			{Role: "system", Content: SummarySystemPrompt()},
			{Role: "user", Content: SummaryPrompt(paperText)},
		},
	})
	if err != nil {
		s.logger.Warn("summary pre-step failed, generating without summary", "error", err)
		return ""
	}
	return resp.Content
}
