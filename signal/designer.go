package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/paperforge/config"
	"github.com/c360studio/paperforge/embed"
	"github.com/c360studio/paperforge/index"
	"github.com/c360studio/paperforge/llm"
	"github.com/c360studio/paperforge/metrics"
	"github.com/c360studio/paperforge/model"
	"github.com/c360studio/paperforge/paper"
)

// Designer produces the finalized supervisory signal set for a paper.
// Extraction runs per section, candidates are grounded by retrieval,
// near-duplicates collapse to one representative, and a final relevance
// pass orders the survivors.
type Designer struct {
	client   *llm.Client
	embedder *embed.Client
	idx      *index.Index
	reranker *index.Reranker
	cfg      config.SignalsConfig
	logger   *slog.Logger
	metrics  *metrics.Set
}

// DesignerOption configures a Designer.
type DesignerOption func(*Designer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DesignerOption {
	return func(d *Designer) {
		d.logger = logger
	}
}

// WithMetrics sets the metric set.
func WithMetrics(m *metrics.Set) DesignerOption {
	return func(d *Designer) {
		d.metrics = m
	}
}

// NewDesigner creates a Designer. The index must already be built for
// the paper being designed.
func NewDesigner(client *llm.Client, embedder *embed.Client, idx *index.Index, cfg config.SignalsConfig, opts ...DesignerOption) *Designer {
	d := &Designer{
		client:   client,
		embedder: embedder,
		idx:      idx,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reranker = index.NewReranker(client, d.logger)
	return d
}

// candidate is one extracted signal before dedup and filtering.
type candidate struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`

	refs     []paper.Ref
	passages []string
}

// Design runs the full signal design pipeline for a paper.
// Individual section or grounding failures are logged and skipped; only
// a paper that yields zero candidates overall is an error.
func (d *Designer) Design(ctx context.Context, p *paper.Paper) (*Set, error) {
	sections := groupSections(p.Chunks)

	var candidates []candidate
	for _, sec := range sections {
		extracted, err := d.extractSection(ctx, sec)
		if err != nil {
			d.logger.Warn("section extraction failed, contributing zero signals",
				"section", sec.name, "error", err)
			continue
		}
		candidates = append(candidates, extracted...)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no signals extracted from paper %s", p.ID)
	}

	for i := range candidates {
		d.ground(ctx, &candidates[i])
	}

	deduped, passages := d.dedupe(ctx, candidates)
	kept := d.filter(ctx, deduped, passages)
	if len(kept) == 0 {
		// The filter is advisory; an empty set would make reflection
		// meaningless, so fall back to the deduplicated candidates.
		d.logger.Warn("verdict filter discarded every signal, keeping deduplicated set")
		kept = deduped
	}

	signals := d.order(ctx, kept)

	d.logger.Info("designed signal set",
		"paper_id", p.ID,
		"candidates", len(candidates),
		"deduplicated", len(deduped),
		"final", len(signals))

	return &Set{
		PaperID:   p.ID,
		CreatedAt: time.Now().UTC(),
		Signals:   signals,
	}, nil
}

// section groups consecutive chunks that share a heading.
type section struct {
	name   string
	text   string
	chunks []paper.Chunk
}

// maxSectionChars bounds the text sent to the extraction model per section.
const maxSectionChars = 24000

func groupSections(chunks []paper.Chunk) []section {
	var sections []section
	for _, chunk := range chunks {
		if len(sections) > 0 && sections[len(sections)-1].name == chunk.Section {
			last := &sections[len(sections)-1]
			last.text += "\n\n" + chunk.Content
			last.chunks = append(last.chunks, chunk)
			continue
		}
		sections = append(sections, section{
			name:   chunk.Section,
			text:   chunk.Content,
			chunks: []paper.Chunk{chunk},
		})
	}

	for i := range sections {
		if len(sections[i].text) > maxSectionChars {
			sections[i].text = sections[i].text[:maxSectionChars]
		}
	}
	return sections
}

// extractSection asks the extraction model for candidate signals in one
// section.
func (d *Designer) extractSection(ctx context.Context, sec section) ([]candidate, error) {
	maxPerSection := d.cfg.MaxPerSection
	if maxPerSection <= 0 {
		maxPerSection = 12
	}

	temp := 0.0
	resp, err := d.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityExtraction.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: ExtractionSystemPrompt()},
			{Role: "user", Content: ExtractionPrompt(sec.name, sec.text, maxPerSection)},
		},
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSONArray(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in extraction response")
	}

	var extracted []candidate
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	var out []candidate
	for _, c := range extracted {
		c.Description = strings.TrimSpace(c.Description)
		if c.Description == "" {
			continue
		}
		if c.Category == "" {
			c.Category = CategoryArchitecture
		}
		if c.Priority < 1 {
			c.Priority = 1
		} else if c.Priority > 5 {
			c.Priority = 5
		}
		out = append(out, c)
		if len(out) >= maxPerSection {
			break
		}
	}
	return out, nil
}

// ground attaches provenance to a candidate via retrieval over the paper
// index. Retrieval failure leaves the candidate ungrounded but alive.
func (d *Designer) ground(ctx context.Context, c *candidate) {
	topK := d.cfg.RetrievalTopK
	if topK <= 0 {
		topK = 3
	}

	hits, err := d.idx.Retrieve(ctx, c.Description, topK)
	if err != nil {
		d.logger.Warn("grounding retrieval failed, signal keeps no passage refs",
			"description", c.Description, "error", err)
		return
	}

	hits = d.reranker.Rerank(ctx, c.Description, hits)

	for _, hit := range hits {
		c.refs = append(c.refs, paper.Ref{Index: hit.Chunk.Index, Section: hit.Chunk.Section})
		c.passages = append(c.passages, hit.Chunk.Content)
	}
}

// dedupe collapses near-duplicate candidates. Candidates are visited in
// priority order so the cluster keeper is the higher-priority phrasing;
// an optional model call picks the most precise description among the
// cluster members. The returned map carries each signal's grounding
// passages for the verdict filter.
func (d *Designer) dedupe(ctx context.Context, candidates []candidate) ([]Signal, map[string][]string) {
	ordered := make([]candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].Priority != ordered[b].Priority {
			return ordered[a].Priority > ordered[b].Priority
		}
		return NewID(ordered[a].Category, ordered[a].Description) <
			NewID(ordered[b].Category, ordered[b].Description)
	})

	threshold := d.cfg.DedupThreshold
	if threshold <= 0 {
		threshold = 0.92
	}

	texts := make([]string, len(ordered))
	for i, c := range ordered {
		texts[i] = c.Description
	}

	vectors, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		d.logger.Warn("dedup embedding failed, falling back to exact-text dedup", "error", err)
		return d.dedupeExact(ordered)
	}

	passages := make(map[string][]string)

	type cluster struct {
		keeper  candidate
		members []candidate
		vec     []float64
	}

	var clusters []*cluster
	for i, c := range ordered {
		var home *cluster
		for _, cl := range clusters {
			if embed.Dot(vectors[i], cl.vec) >= threshold {
				home = cl
				break
			}
		}
		if home == nil {
			clusters = append(clusters, &cluster{keeper: c, members: []candidate{c}, vec: vectors[i]})
			continue
		}
		home.members = append(home.members, c)
		home.keeper.refs = mergeRefs(home.keeper.refs, c.refs)
	}

	signals := make([]Signal, 0, len(clusters))
	seen := make(map[string]bool)
	for _, cl := range clusters {
		keeper := cl.keeper
		if len(cl.members) > 1 {
			keeper.Description = d.pickRepresentative(ctx, cl.members, keeper.Description)
		}

		id := NewID(keeper.Category, keeper.Description)
		if seen[id] {
			continue
		}
		seen[id] = true

		signals = append(signals, Signal{
			ID:          id,
			Category:    keeper.Category,
			Description: keeper.Description,
			Priority:    keeper.Priority,
			Refs:        keeper.refs,
		})
		passages[id] = keeper.passages
	}
	return signals, passages
}

// dedupeExact keeps the first candidate per normalized description.
func (d *Designer) dedupeExact(ordered []candidate) ([]Signal, map[string][]string) {
	seen := make(map[string]bool)
	passages := make(map[string][]string)
	var signals []Signal
	for _, c := range ordered {
		id := NewID(c.Category, c.Description)
		if seen[id] {
			continue
		}
		seen[id] = true
		signals = append(signals, Signal{
			ID:          id,
			Category:    c.Category,
			Description: c.Description,
			Priority:    c.Priority,
			Refs:        c.refs,
		})
		passages[id] = c.passages
	}
	return signals, passages
}

// pickRepresentative asks a model which duplicate phrasing is the most
// verifiable. Failure keeps the priority-order default.
func (d *Designer) pickRepresentative(ctx context.Context, members []candidate, fallback string) string {
	descriptions := make([]string, len(members))
	for i, m := range members {
		descriptions[i] = m.Description
	}

	temp := 0.0
	resp, err := d.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityFast.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: RepresentativeSystemPrompt()},
			{Role: "user", Content: RepresentativePrompt(descriptions)},
		},
	})
	if err != nil {
		d.logger.Debug("representative selection failed, keeping priority order", "error", err)
		return fallback
	}

	n, err := strconv.Atoi(strings.TrimSpace(resp.Content))
	if err != nil || n < 1 || n > len(descriptions) {
		return fallback
	}
	return descriptions[n-1]
}

// verdictResponse is the keep/discard filter output.
type verdictResponse struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// filter applies the model-judged keep/discard pass. Model or parse
// failures keep the signal; the filter only ever removes signals the
// model explicitly discards.
func (d *Designer) filter(ctx context.Context, signals []Signal, passages map[string][]string) []Signal {
	kept := make([]Signal, 0, len(signals))

	for _, sig := range signals {
		verdict := d.judge(ctx, sig, passages[sig.ID])
		d.metrics.ObserveVerdict(verdict)

		if verdict == "discard" {
			d.logger.Debug("signal discarded by verdict filter",
				"signal_id", sig.ID, "description", sig.Description)
			continue
		}
		kept = append(kept, sig)
	}
	return kept
}

// judge returns "keep" or "discard" for one signal.
func (d *Designer) judge(ctx context.Context, sig Signal, passages []string) string {
	temp := 0.0
	resp, err := d.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityFast.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: VerdictSystemPrompt()},
			{Role: "user", Content: VerdictPrompt(sig.Category, sig.Description, passages)},
		},
	})
	if err != nil {
		d.logger.Debug("verdict call failed, keeping signal", "signal_id", sig.ID, "error", err)
		return "keep"
	}

	raw := llm.ExtractJSON(resp.Content)
	var v verdictResponse
	if raw == "" || json.Unmarshal([]byte(raw), &v) != nil {
		return "keep"
	}
	if strings.EqualFold(strings.TrimSpace(v.Verdict), "discard") {
		return "discard"
	}
	return "keep"
}

// order produces the final priority ordering: a model relevance pass
// over the surviving set, falling back to extraction priority with ids
// breaking ties. Priorities are reassigned so that sorting by priority
// reproduces the set order.
func (d *Designer) order(ctx context.Context, signals []Signal) []Signal {
	sort.SliceStable(signals, func(a, b int) bool {
		if signals[a].Priority != signals[b].Priority {
			return signals[a].Priority > signals[b].Priority
		}
		return signals[a].ID < signals[b].ID
	})

	if len(signals) > 1 {
		if ordered, ok := d.modelOrder(ctx, signals); ok {
			signals = ordered
		}
	}

	for i := range signals {
		signals[i].Priority = len(signals) - i
	}
	return signals
}

// modelOrder asks the ranking model for an importance ordering.
func (d *Designer) modelOrder(ctx context.Context, signals []Signal) ([]Signal, bool) {
	temp := 0.0
	resp, err := d.client.Complete(ctx, llm.Request{
		Capability:  model.CapabilityRanking.String(),
		Temperature: &temp,
		Messages: []llm.Message{
			{Role: "system", Content: PrioritySystemPrompt()},
			{Role: "user", Content: PriorityPrompt(signals)},
		},
	})
	if err != nil {
		d.logger.Warn("priority ordering call failed, keeping extraction order", "error", err)
		return nil, false
	}

	raw := llm.ExtractJSONArray(resp.Content)
	if raw == "" {
		return nil, false
	}
	var numbers []int
	if err := json.Unmarshal([]byte(raw), &numbers); err != nil {
		return nil, false
	}

	seen := make(map[int]bool, len(signals))
	ordered := make([]Signal, 0, len(signals))
	for _, num := range numbers {
		idx := num - 1
		if idx < 0 || idx >= len(signals) || seen[idx] {
			continue
		}
		seen[idx] = true
		ordered = append(ordered, signals[idx])
	}
	for i := range signals {
		if !seen[i] {
			ordered = append(ordered, signals[i])
		}
	}
	return ordered, true
}

// mergeRefs unions two ref lists, keeping first-seen order.
func mergeRefs(a, b []paper.Ref) []paper.Ref {
	seen := make(map[int]bool, len(a))
	out := a
	for _, r := range a {
		seen[r.Index] = true
	}
	for _, r := range b {
		if !seen[r.Index] {
			seen[r.Index] = true
			out = append(out, r)
		}
	}
	return out
}
