package reflect_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/paperforge/reflect"
)

func TestEvaluator_Evaluate(t *testing.T) {
	set := testSignals()
	a := baseArtifact(t)

	evalHandler := func(w http.ResponseWriter, r *http.Request) {
		prompt := lastUserMessage(t, r)
		switch {
		case strings.Contains(prompt, "multi-head attention"):
			chat(w, evalResponse("fail", "build_model uses 4 heads, not 8"))
		case strings.Contains(prompt, "adam"):
			chat(w, evalResponse("pass", "train() configures Adam with warmup"))
		default:
			t.Errorf("unexpected evaluation prompt: %.80s", prompt)
		}
	}

	client := newClient(t, evalHandler, unusedHandler(t), unusedHandler(t))
	ev := reflect.NewEvaluator(client, 2, nil)

	report, err := ev.Evaluate(context.Background(), set, a)
	require.NoError(t, err)
	require.Len(t, report.Results, len(set.Signals), "one result per signal")
	assert.Equal(t, a.Version, report.Version)

	// Report order is set order regardless of completion order.
	for i, sig := range set.Signals {
		assert.Equal(t, sig.ID, report.Results[i].SignalID)
	}

	attn, ok := report.ByID(set.Signals[0].ID)
	require.True(t, ok)
	assert.Equal(t, reflect.VerdictFail, attn.Verdict)
	assert.Contains(t, attn.Diagnostic, "4 heads")

	adam, ok := report.ByID(set.Signals[1].ID)
	require.True(t, ok)
	assert.Equal(t, reflect.VerdictPass, adam.Verdict)

	assert.False(t, report.AllPass())
	require.Len(t, report.Failing(), 1)
	assert.Equal(t, set.Signals[0].ID, report.Failing()[0].SignalID)
}

func TestEvaluator_ModelFailureIsInconclusive(t *testing.T) {
	set := testSignals()

	evalHandler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}

	client := newClient(t, evalHandler, unusedHandler(t), unusedHandler(t))
	ev := reflect.NewEvaluator(client, 2, nil)

	report, err := ev.Evaluate(context.Background(), set, baseArtifact(t))
	require.NoError(t, err, "per-signal failures never fail the evaluation")

	for _, res := range report.Results {
		assert.Equal(t, reflect.VerdictInconclusive, res.Verdict)
		assert.Contains(t, res.Diagnostic, "evaluation call failed")
	}
	assert.False(t, report.AllPass())
	assert.Len(t, report.Failing(), 2, "inconclusive counts as failing")
}

func TestEvaluator_MalformedOutputIsInconclusive(t *testing.T) {
	set := testSignals()

	evalHandler := func(w http.ResponseWriter, r *http.Request) {
		prompt := lastUserMessage(t, r)
		if strings.Contains(prompt, "multi-head attention") {
			chat(w, "looks fine to me, probably a pass")
			return
		}
		chat(w, evalResponse("maybe", "verdict word is not recognized"))
	}

	client := newClient(t, evalHandler, unusedHandler(t), unusedHandler(t))
	ev := reflect.NewEvaluator(client, 1, nil)

	report, err := ev.Evaluate(context.Background(), set, baseArtifact(t))
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.Equal(t, reflect.VerdictInconclusive, res.Verdict)
		assert.Contains(t, res.Diagnostic, "unparseable evaluation")
	}
}

func TestEvaluator_EmptySet(t *testing.T) {
	client := newClient(t, unusedHandler(t), unusedHandler(t), unusedHandler(t))
	ev := reflect.NewEvaluator(client, 1, nil)

	_, err := ev.Evaluate(context.Background(), nil, baseArtifact(t))
	assert.Error(t, err)
}

func TestEvaluator_VerdictPunctuationTolerated(t *testing.T) {
	set := testSignals()
	set.Signals = set.Signals[:1]

	evalHandler := func(w http.ResponseWriter, r *http.Request) {
		chat(w, evalResponse("**Pass**.", "everything checks out"))
	}

	client := newClient(t, evalHandler, unusedHandler(t), unusedHandler(t))
	ev := reflect.NewEvaluator(client, 1, nil)

	report, err := ev.Evaluate(context.Background(), set, baseArtifact(t))
	require.NoError(t, err)
	assert.True(t, report.AllPass())
}
