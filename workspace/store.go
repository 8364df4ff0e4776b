// Package workspace persists every artifact of a paper-to-code run: the
// frozen signal set, numbered code versions, iteration records, and the
// final status. The layout makes phases resumable and auditable.
//
//	<root>/<paper-id>/
//	  signals/signals.json
//	  versions/v000/ ... v00N/
//	  iterations/iteration_0001.json ...
//	  status.json
//	  summary.md
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/reflect"
	"github.com/c360studio/paperforge/signal"
)

var (
	// ErrNotFound indicates the requested artifact does not exist yet.
	ErrNotFound = errors.New("not found in workspace")

	// ErrExists indicates an attempt to overwrite immutable history.
	ErrExists = errors.New("already exists in workspace")

	// ErrCorrupt indicates persisted state that cannot be parsed.
	// Corrupt workspaces abort the run; silent repair would forge history.
	ErrCorrupt = errors.New("workspace is corrupt")
)

var versionDirRe = regexp.MustCompile(`^v(\d{3,})$`)

// defaultIgnore filters generated noise out of loaded artifacts.
var defaultIgnore = []string{
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.DS_Store",
	"**/.git/**",
}

// Store is the durable workspace for one run. Single writer: a run owns
// its store exclusively.
type Store struct {
	root   string
	logger *slog.Logger
	ignore []string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIgnorePatterns replaces the default artifact ignore globs.
func WithIgnorePatterns(patterns []string) Option {
	return func(s *Store) {
		s.ignore = patterns
	}
}

// Open opens (or creates) the workspace for a paper. With replace set,
// any existing contents are removed first; otherwise existing history is
// kept read-only and the run resumes after it.
func Open(dir, paperID string, replace bool, opts ...Option) (*Store, error) {
	if paperID == "" {
		return nil, fmt.Errorf("paper id is required")
	}

	root := filepath.Join(dir, paperID)
	if replace {
		if err := os.RemoveAll(root); err != nil {
			return nil, fmt.Errorf("replace workspace: %w", err)
		}
	}

	for _, sub := range []string{"signals", "versions", "iterations"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	s := &Store{
		root:   root,
		logger: slog.Default(),
		ignore: defaultIgnore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the workspace root directory.
func (s *Store) Root() string {
	return s.root
}

// SaveSignals persists the frozen signal set. Saving over an existing
// set is refused; replace the workspace to redesign signals.
func (s *Store) SaveSignals(set *signal.Set) error {
	path := s.signalsPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("signal set %w", ErrExists)
	}

	return s.writeJSON(path, set)
}

// LoadSignals reads the frozen signal set.
func (s *Store) LoadSignals() (*signal.Set, error) {
	data, err := os.ReadFile(s.signalsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("signal set %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read signal set: %w", err)
	}

	var set signal.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: signals.json: %v", ErrCorrupt, err)
	}
	if len(set.Signals) == 0 {
		return nil, fmt.Errorf("%w: signals.json holds an empty set", ErrCorrupt)
	}
	return &set, nil
}

// SaveArtifact writes one code version. Versions are immutable: writing
// an existing version number is refused.
func (s *Store) SaveArtifact(a *artifact.Artifact) error {
	dir := s.versionDir(a.Version)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("artifact version %d %w", a.Version, ErrExists)
	}

	for _, p := range a.Paths() {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("write artifact v%d: %w", a.Version, err)
		}
		if err := os.WriteFile(full, []byte(a.Files[p]), 0644); err != nil {
			return fmt.Errorf("write artifact v%d: %w", a.Version, err)
		}
	}

	s.logger.Debug("saved artifact", "version", a.Version, "files", len(a.Files))
	return nil
}

// LoadArtifact reads one code version from disk, applying the ignore
// globs.
func (s *Store) LoadArtifact(version int) (*artifact.Artifact, error) {
	dir := s.versionDir(version)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("artifact version %d %w", version, ErrNotFound)
	}

	a := artifact.New(0)
	a.Version = version

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if s.ignored(rel) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		a.Files[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load artifact v%d: %w", version, err)
	}
	return a, nil
}

// LatestVersion returns the highest persisted artifact version, or
// ErrNotFound when no version exists yet.
func (s *Store) LatestVersion() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "versions"))
	if err != nil {
		return 0, fmt.Errorf("scan versions: %w", err)
	}

	latest := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := versionDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}

	if latest < 0 {
		return 0, fmt.Errorf("artifact versions %w", ErrNotFound)
	}
	return latest, nil
}

// AppendIteration persists one iteration record. Records are append-only
// history; an existing index is refused.
func (s *Store) AppendIteration(rec *reflect.IterationRecord) error {
	path := s.iterationPath(rec.Index)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("iteration %d %w", rec.Index, ErrExists)
	}
	return s.writeJSON(path, rec)
}

// LoadIterations reads all iteration records in index order.
func (s *Store) LoadIterations() ([]reflect.IterationRecord, error) {
	dir := filepath.Join(s.root, "iterations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan iterations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	records := make([]reflect.IterationRecord, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read iteration %s: %w", name, err)
		}
		var rec reflect.IterationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LastIteration returns the most recent iteration record, or ErrNotFound.
func (s *Store) LastIteration() (*reflect.IterationRecord, error) {
	records, err := s.LoadIterations()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("iterations %w", ErrNotFound)
	}
	return &records[len(records)-1], nil
}

// RunStatus is the persisted final state of a run.
type RunStatus struct {
	Status       reflect.Status `json:"status"`
	Iterations   int            `json:"iterations"`
	FinalVersion int            `json:"final_version"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SaveStatus writes status.json. Unlike history, status is overwritten
// as the run progresses.
func (s *Store) SaveStatus(st *RunStatus) error {
	st.UpdatedAt = time.Now().UTC()
	return s.writeJSON(filepath.Join(s.root, "status.json"), st)
}

// LoadStatus reads status.json.
func (s *Store) LoadStatus() (*RunStatus, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "status.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("status %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read status: %w", err)
	}

	var st RunStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: status.json: %v", ErrCorrupt, err)
	}
	return &st, nil
}

// SetStatus records loop progress in status.json.
func (s *Store) SetStatus(status reflect.Status, iterations, finalVersion int) error {
	return s.SaveStatus(&RunStatus{
		Status:       status,
		Iterations:   iterations,
		FinalVersion: finalVersion,
	})
}

// SaveFinalReport writes the terminal evaluation report. Unlike
// iteration records it is overwritten when a resumed run terminates
// again.
func (s *Store) SaveFinalReport(report *reflect.EvaluationReport) error {
	return s.writeJSON(filepath.Join(s.root, "final_report.json"), report)
}

// LoadFinalReport reads final_report.json.
func (s *Store) LoadFinalReport() (*reflect.EvaluationReport, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "final_report.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("final report %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read final report: %w", err)
	}

	var report reflect.EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w: final_report.json: %v", ErrCorrupt, err)
	}
	return &report, nil
}

// WriteSummary writes the human-readable run summary.
func (s *Store) WriteSummary(text string) error {
	return os.WriteFile(filepath.Join(s.root, "summary.md"), []byte(text), 0644)
}

func (s *Store) signalsPath() string {
	return filepath.Join(s.root, "signals", "signals.json")
}

func (s *Store) versionDir(version int) string {
	return filepath.Join(s.root, "versions", fmt.Sprintf("v%03d", version))
}

func (s *Store) iterationPath(index int) string {
	return filepath.Join(s.root, "iterations", fmt.Sprintf("iteration_%04d.json", index))
}

func (s *Store) ignored(rel string) bool {
	for _, pattern := range s.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
