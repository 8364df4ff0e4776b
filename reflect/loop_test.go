package reflect_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/paperforge/reflect"
)

// passAllHandler judges every signal as passing.
func passAllHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat(w, evalResponse("pass", "implemented as expected"))
	}
}

// failAllHandler judges every signal as failing.
func failAllHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat(w, evalResponse("fail", "still missing"))
	}
}

// singleEditPlanHandler plans one whole-file edit on main.py for the
// first failing signal it is shown.
func singleEditPlanHandler(t *testing.T) http.HandlerFunc {
	set := testSignals()
	return func(w http.ResponseWriter, r *http.Request) {
		chat(w, fmt.Sprintf(`{
  "notes": "single targeted edit",
  "edits": [{"signal_ids": ["%s"], "path": "main.py", "instruction": "wire up training"}]
}`, set.Signals[0].ID))
	}
}

// rewriteMainHandler answers any revision with a fresh main.py body.
func rewriteMainHandler(t *testing.T) http.HandlerFunc {
	n := 0
	return func(w http.ResponseWriter, r *http.Request) {
		n++
		chat(w, fmt.Sprintf("```python\ndef main():\n    train()  # attempt %d\n```", n))
	}
}

func TestLoop_ConvergedAtEntry(t *testing.T) {
	client := newClient(t, passAllHandler(t), unusedHandler(t), unusedHandler(t))
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store)

	result, err := loop.Run(context.Background(), testSignals(), baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusConverged, result.Status)
	assert.Equal(t, 0, result.Iterations, "an already-correct artifact converges without iterating")
	assert.Equal(t, 0, result.FinalVersion)
	require.NotNil(t, result.FinalReport)
	assert.True(t, result.FinalReport.AllPass())

	assert.Empty(t, store.iterations)
	assert.Empty(t, store.artifacts, "no new version is written")
	assert.Equal(t, reflect.StatusConverged, store.status)
	require.NotNil(t, store.finalReport)
	assert.Contains(t, store.summary, "converged")
}

func TestLoop_ConvergesAfterOneIteration(t *testing.T) {
	set := testSignals()

	// The attention signal passes once the code uses 8 heads; the adam
	// signal passes from the start.
	evalHandler := func(w http.ResponseWriter, r *http.Request) {
		prompt := lastUserMessage(t, r)
		if strings.Contains(prompt, "multi-head attention") && !strings.Contains(prompt, "heads=8") {
			chat(w, evalResponse("fail", "build_model uses 4 heads"))
			return
		}
		chat(w, evalResponse("pass", "matches the paper"))
	}

	planHandler := func(w http.ResponseWriter, r *http.Request) {
		chat(w, fmt.Sprintf(`{
  "edits": [{"signal_ids": ["%s"], "path": "model.py", "region": "build_model", "instruction": "use 8 heads"}]
}`, set.Signals[0].ID))
	}

	reviseHandler := func(w http.ResponseWriter, r *http.Request) {
		chat(w, "```python\ndef build_model():\n    return Model(heads=8)\n```")
	}

	client := newClient(t, evalHandler, planHandler, reviseHandler)
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(3))

	result, err := loop.Run(context.Background(), set, baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusConverged, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, result.FinalVersion)
	assert.True(t, result.FinalReport.AllPass())

	require.Len(t, store.iterations, 1)
	rec := store.iterations[0]
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, 0, rec.VersionBefore)
	assert.Equal(t, 1, rec.VersionAfter)
	assert.False(t, rec.Report.AllPass(), "the record holds the report that drove the revision")
	require.NotNil(t, rec.Plan)
	assert.Contains(t, rec.FileDiffs, "model.py")
	assert.Empty(t, rec.EditFailures)

	require.Len(t, store.artifacts, 1)
	saved, ok := store.artifacts[0].Get("model.py")
	require.True(t, ok)
	assert.Contains(t, saved, "heads=8")
}

func TestLoop_Exhausted(t *testing.T) {
	client := newClient(t, failAllHandler(t), singleEditPlanHandler(t), rewriteMainHandler(t))
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(2))

	result, err := loop.Run(context.Background(), testSignals(), baseArtifact(t))
	require.NoError(t, err, "running out of budget is a completed run, not an error")

	assert.Equal(t, reflect.StatusExhausted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, result.FinalVersion)
	assert.False(t, result.FinalReport.AllPass(), "exhaustion implies signals still failing")

	require.Len(t, store.iterations, 2, "exactly the budgeted number of iterations ran")
	for i, rec := range store.iterations {
		assert.Equal(t, i+1, rec.Index)
		assert.Equal(t, i, rec.VersionBefore, "versions advance monotonically")
		assert.Equal(t, i+1, rec.VersionAfter)
	}
	assert.Equal(t, reflect.StatusExhausted, store.status)
	assert.Equal(t, 2, store.statusVer)
}

func TestLoop_RepeatedPlanFailuresFailTheRun(t *testing.T) {
	planHandler := func(w http.ResponseWriter, r *http.Request) {
		chat(w, "I cannot produce a plan for this.")
	}

	client := newClient(t, failAllHandler(t), planHandler, unusedHandler(t))
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(3))

	result, err := loop.Run(context.Background(), testSignals(), baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusFailed, result.Status)
	assert.Equal(t, 0, result.Iterations)
	assert.Empty(t, store.iterations, "failed planning never produces a version")
	assert.Empty(t, store.artifacts)
	assert.Equal(t, reflect.StatusFailed, store.status)
}

func TestLoop_OneBadPlanIsForgiven(t *testing.T) {
	set := testSignals()
	planCalls := 0
	planHandler := func(w http.ResponseWriter, r *http.Request) {
		planCalls++
		if planCalls == 1 {
			chat(w, "thinking out loud, no plan yet")
			return
		}
		chat(w, fmt.Sprintf(`{
  "edits": [{"signal_ids": ["%s"], "path": "main.py", "instruction": "wire up training"}]
}`, set.Signals[0].ID))
	}

	client := newClient(t, failAllHandler(t), planHandler, rewriteMainHandler(t))
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(1))

	result, err := loop.Run(context.Background(), set, baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusExhausted, result.Status)
	assert.Equal(t, 1, result.Iterations, "the retried plan produced a normal iteration")
	assert.Equal(t, 2, planCalls)
}

func TestLoop_PartialEditFailureStillIterates(t *testing.T) {
	set := testSignals()
	planHandler := func(w http.ResponseWriter, r *http.Request) {
		chat(w, fmt.Sprintf(`{
  "edits": [
    {"signal_ids": ["%s"], "path": "missing.py", "region": "setup", "instruction": "tweak"},
    {"signal_ids": ["%s"], "path": "main.py", "instruction": "wire up training"}
  ]
}`, set.Signals[0].ID, set.Signals[1].ID))
	}

	client := newClient(t, failAllHandler(t), planHandler, rewriteMainHandler(t))
	store := &fakeStore{}
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(1))

	result, err := loop.Run(context.Background(), set, baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusExhausted, result.Status)
	require.Len(t, store.iterations, 1)
	rec := store.iterations[0]
	require.Len(t, rec.EditFailures, 1, "the bad edit is recorded, not fatal")
	assert.Equal(t, "missing.py", rec.EditFailures[0].Path)
	assert.Contains(t, rec.FileDiffs, "main.py", "the good edit still landed")
}

func TestLoop_IterationHookFiresPerIteration(t *testing.T) {
	client := newClient(t, failAllHandler(t), singleEditPlanHandler(t), rewriteMainHandler(t))
	store := &fakeStore{}

	var seen []int
	loop := reflect.NewLoop(client, store,
		reflect.WithMaxAttempts(2),
		reflect.WithIterationHook(func(rec *reflect.IterationRecord) {
			seen = append(seen, rec.Index)
			assert.Equal(t, rec.Index, rec.VersionAfter, "hook sees the persisted record")
		}),
	)

	_, err := loop.Run(context.Background(), testSignals(), baseArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, seen, "one callback per completed iteration")
}

func TestLoop_ResumeCountsPriorIterations(t *testing.T) {
	store := &fakeStore{
		iterations: []reflect.IterationRecord{
			{Index: 1, VersionBefore: 0, VersionAfter: 1, StartedAt: time.Now(), CompletedAt: time.Now()},
			{Index: 2, VersionBefore: 1, VersionAfter: 2, StartedAt: time.Now(), CompletedAt: time.Now()},
		},
	}

	client := newClient(t, failAllHandler(t), unusedHandler(t), unusedHandler(t))
	loop := reflect.NewLoop(client, store, reflect.WithMaxAttempts(2))

	// Resuming at the budget: evaluate once more, then exhaust without
	// planning again.
	a := baseArtifact(t)
	a.Version = 2
	result, err := loop.Run(context.Background(), testSignals(), a)
	require.NoError(t, err)

	assert.Equal(t, reflect.StatusExhausted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, result.FinalVersion)
	assert.Len(t, store.iterations, 2, "no new records on an exhausted resume")
}
