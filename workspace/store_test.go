package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/paperforge/artifact"
	"github.com/c360studio/paperforge/reflect"
	"github.com/c360studio/paperforge/signal"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "paper-1", false)
	require.NoError(t, err)
	return s
}

func testSet() *signal.Set {
	return &signal.Set{
		PaperID: "paper-1",
		Signals: []signal.Signal{
			{ID: "aaa111", Category: "architecture", Description: "uses relu", Priority: 2},
			{ID: "bbb222", Category: "training", Description: "adam optimizer", Priority: 1},
		},
	}
}

func TestStore_SignalsRoundTrip(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveSignals(testSet()))

	loaded, err := s.LoadSignals()
	require.NoError(t, err)
	assert.Equal(t, "paper-1", loaded.PaperID)
	require.Len(t, loaded.Signals, 2)
	assert.Equal(t, "aaa111", loaded.Signals[0].ID)
}

func TestStore_SignalsAreFrozen(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SaveSignals(testSet()))

	err := s.SaveSignals(testSet())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)
}

func TestStore_LoadSignals_Missing(t *testing.T) {
	s := openStore(t)
	_, err := s.LoadSignals()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadSignals_Corrupt(t *testing.T) {
	s := openStore(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(s.Root(), "signals", "signals.json"),
		[]byte("{not json"), 0644))

	_, err := s.LoadSignals()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_ArtifactRoundTrip(t *testing.T) {
	s := openStore(t)

	a := artifact.New(0)
	require.NoError(t, a.Set("main.py", "print('hello')"))
	require.NoError(t, a.Set("src/model.py", "class Model: pass"))
	require.NoError(t, s.SaveArtifact(a))

	loaded, err := s.LoadArtifact(0)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Version)
	assert.Equal(t, a.Files, loaded.Files)
}

func TestStore_ArtifactVersionsAreImmutable(t *testing.T) {
	s := openStore(t)

	a := artifact.New(0)
	require.NoError(t, a.Set("main.py", "v0"))
	require.NoError(t, s.SaveArtifact(a))

	err := s.SaveArtifact(a)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)
}

func TestStore_LatestVersion(t *testing.T) {
	s := openStore(t)

	_, err := s.LatestVersion()
	assert.ErrorIs(t, err, ErrNotFound)

	for v := 0; v <= 2; v++ {
		a := artifact.New(v)
		require.NoError(t, a.Set("main.py", "content"))
		require.NoError(t, s.SaveArtifact(a))
	}

	latest, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, latest)
}

func TestStore_LoadArtifact_AppliesIgnoreGlobs(t *testing.T) {
	s := openStore(t)

	a := artifact.New(0)
	require.NoError(t, a.Set("main.py", "code"))
	require.NoError(t, s.SaveArtifact(a))

	// Simulate noise appearing inside a version directory.
	noise := filepath.Join(s.Root(), "versions", "v000", "__pycache__")
	require.NoError(t, os.MkdirAll(noise, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(noise, "main.cpython-311.pyc"), []byte{0}, 0644))

	loaded, err := s.LoadArtifact(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, loaded.Paths())
}

func TestStore_IterationsAppendOnly(t *testing.T) {
	s := openStore(t)

	rec := &reflect.IterationRecord{
		Index:         1,
		VersionBefore: 0,
		VersionAfter:  1,
		Report: reflect.EvaluationReport{
			Version: 0,
			Results: []reflect.SignalResult{{SignalID: "aaa111", Verdict: reflect.VerdictFail}},
		},
	}
	require.NoError(t, s.AppendIteration(rec))

	err := s.AppendIteration(rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)

	records, err := s.LoadIterations()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Index)
	assert.Equal(t, reflect.VerdictFail, records[0].Report.Results[0].Verdict)
}

func TestStore_LastIteration(t *testing.T) {
	s := openStore(t)

	_, err := s.LastIteration()
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendIteration(&reflect.IterationRecord{Index: i}))
	}

	last, err := s.LastIteration()
	require.NoError(t, err)
	assert.Equal(t, 3, last.Index)
}

func TestStore_CorruptIterationDetected(t *testing.T) {
	s := openStore(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(s.Root(), "iterations", "iteration_0001.json"),
		[]byte("forged"), 0644))

	_, err := s.LoadIterations()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_StatusRoundTrip(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveStatus(&RunStatus{
		Status:       reflect.StatusConverged,
		Iterations:   2,
		FinalVersion: 1,
	}))

	st, err := s.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, reflect.StatusConverged, st.Status)
	assert.Equal(t, 2, st.Iterations)
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestOpen_ReplaceWipesHistory(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "paper-1", false)
	require.NoError(t, err)
	require.NoError(t, s.SaveSignals(testSet()))

	s, err = Open(dir, "paper-1", true)
	require.NoError(t, err)
	_, err = s.LoadSignals()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_ResumeKeepsHistory(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "paper-1", false)
	require.NoError(t, err)
	require.NoError(t, s.SaveSignals(testSet()))
	require.NoError(t, s.AppendIteration(&reflect.IterationRecord{Index: 1}))

	s, err = Open(dir, "paper-1", false)
	require.NoError(t, err)

	set, err := s.LoadSignals()
	require.NoError(t, err)
	assert.Len(t, set.Signals, 2)

	last, err := s.LastIteration()
	require.NoError(t, err)
	assert.Equal(t, 1, last.Index)
}
