package reflect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/pycode"
)

// Reviser applies a revision plan to an artifact, producing the next
// version. Edits apply independently: one failed edit is recorded and
// skipped, the rest of the plan still runs.
type Reviser struct {
	client  *llm.Client
	splicer *pycode.Splicer
	logger  *slog.Logger
	differ  *diffmatchpatch.DiffMatchPatch
}

// NewReviser creates a Reviser.
func NewReviser(client *llm.Client, logger *slog.Logger) *Reviser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviser{
		client:  client,
		splicer: pycode.NewSplicer(),
		logger:  logger,
		differ:  diffmatchpatch.New(),
	}
}

// Revise applies the plan to a copy of the artifact and returns the next
// version, the per-edit failures, and a unified diff per changed file.
func (r *Reviser) Revise(ctx context.Context, plan *RevisionPlan, a *artifact.Artifact) (*artifact.Artifact, []EditFailure, map[string]string) {
	next := a.Clone()
	var failures []EditFailure

	for i, edit := range plan.Edits {
		if err := r.applyEdit(ctx, next, edit); err != nil {
			r.logger.Warn("edit could not be applied, skipping",
				"edit", i, "path", edit.Path, "error", err)
			failures = append(failures, EditFailure{
				EditIndex: i,
				Path:      edit.Path,
				Reason:    err.Error(),
			})
		}
	}

	diffs := r.diffArtifacts(a, next)

	r.logger.Info("revised artifact",
		"version", next.Version,
		"edits", len(plan.Edits),
		"failed_edits", len(failures),
		"changed_files", len(diffs))

	return next, failures, diffs
}

// applyEdit applies one edit to the working artifact in place.
// Sequential application lets later edits see earlier results.
func (r *Reviser) applyEdit(ctx context.Context, working *artifact.Artifact, edit Edit) error {
	path, err := artifact.CleanPath(edit.Path)
	if err != nil {
		return fmt.Errorf("invalid target path: %w", err)
	}

	if edit.Region != "" {
		return r.applyRegionEdit(ctx, working, path, edit)
	}
	return r.applyFileEdit(ctx, working, path, edit)
}

// applyFileEdit rewrites a whole file, or creates one when the plan
// flagged the edit as a creation. A plan naming an absent path without
// that flag is hallucinating project structure and the edit is skipped.
func (r *Reviser) applyFileEdit(ctx context.Context, working *artifact.Artifact, path string, edit Edit) error {
	current, ok := working.Get(path)
	if !ok && !edit.Create {
		return fmt.Errorf("target file %s not in artifact", path)
	}

	temp := 0.0
	resp, err := r.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityRevision.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: FileRevisionSystemPrompt()},
			{Role: "user", Content: FileRevisionPrompt(path, edit.Instruction, current)},
		},
	})
	if err != nil {
		return fmt.Errorf("revision call failed: %w", err)
	}

	content, ok := extractCodeBlock(resp.Content)
	if !ok {
		return fmt.Errorf("no code block in revision output")
	}

	return working.Set(path, content)
}

// applyRegionEdit rewrites one function inside an existing file.
func (r *Reviser) applyRegionEdit(ctx context.Context, working *artifact.Artifact, path string, edit Edit) error {
	current, ok := working.Get(path)
	if !ok {
		return fmt.Errorf("target file %s not in artifact", path)
	}

	region, err := r.splicer.Locate(ctx, []byte(current), edit.Region)
	if err != nil {
		return fmt.Errorf("locate region %s: %w", edit.Region, err)
	}
	regionText := current[region.StartByte:region.EndByte]

	temp := 0.0
	resp, err := r.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityRevision.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: RegionRevisionSystemPrompt()},
			{Role: "user", Content: RegionRevisionPrompt(path, edit.Region, edit.Instruction, regionText)},
		},
	})
	if err != nil {
		return fmt.Errorf("revision call failed: %w", err)
	}

	newCode, ok := extractCodeBlock(resp.Content)
	if !ok {
		return fmt.Errorf("no code block in revision output")
	}

	updated, err := r.splicer.Replace(ctx, []byte(current), edit.Region, newCode)
	if err != nil {
		return fmt.Errorf("splice region %s: %w", edit.Region, err)
	}
	return working.Set(path, string(updated))
}

// diffArtifacts computes a patch per file that changed between versions.
func (r *Reviser) diffArtifacts(before, after *artifact.Artifact) map[string]string {
	diffs := make(map[string]string)
	for _, path := range after.Paths() {
		old := before.Files[path]
		cur := after.Files[path]
		if old == cur {
			continue
		}
		patches := r.differ.PatchMake(old, r.differ.DiffMain(old, cur, false))
		diffs[path] = r.differ.PatchToText(patches)
	}
	return diffs
}

// extractCodeBlock returns the content of the first fenced code block.
func extractCodeBlock(content string) (string, bool) {
	lines := strings.Split(content, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return "", false
	}

	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			return strings.Join(lines[start:i], "\n"), true
		}
	}
	return "", false
}
