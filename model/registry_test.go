package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityEvaluation: {Preferred: []string{"judge-a", "judge-b"}},
		},
		map[string]*EndpointConfig{
			"judge-a": {Provider: "openai", Model: "judge-a"},
		},
	)

	assert.Equal(t, "judge-a", r.Resolve(CapabilityEvaluation))
	assert.Equal(t, "default", r.Resolve(CapabilityPlanning), "unknown capability falls back to default model")
}

func TestRegistry_GetFallbackChain(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityRevision: {
				Preferred: []string{"big"},
				Fallback:  []string{"small", "local"},
			},
		},
		nil,
	)

	chain := r.GetFallbackChain(CapabilityRevision)
	assert.Equal(t, []string{"big", "small", "local"}, chain)
}

func TestRegistry_PinCapability(t *testing.T) {
	r := NewDefaultRegistry()
	r.PinCapability(CapabilityEvaluation, "my-judge")

	assert.Equal(t, "my-judge", r.Resolve(CapabilityEvaluation))
	assert.Equal(t, []string{"my-judge"}, r.GetFallbackChain(CapabilityEvaluation))
}

func TestRegistry_CircuitBreaker(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityFast: {Preferred: []string{"flaky", "stable"}},
		},
		map[string]*EndpointConfig{
			"flaky":  {Provider: "ollama", Model: "flaky"},
			"stable": {Provider: "ollama", Model: "stable"},
		},
	)
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	assert.True(t, r.IsEndpointAvailable("flaky"))

	r.MarkEndpointFailure("flaky")
	assert.True(t, r.IsEndpointAvailable("flaky"), "below threshold keeps circuit closed")

	r.MarkEndpointFailure("flaky")
	assert.False(t, r.IsEndpointAvailable("flaky"), "threshold opens circuit")

	chain := r.GetAvailableFallbackChain(CapabilityFast)
	assert.Equal(t, []string{"stable"}, chain)

	r.MarkEndpointSuccess("flaky")
	assert.True(t, r.IsEndpointAvailable("flaky"), "success closes circuit")
}

func TestLoadFromJSON(t *testing.T) {
	data := []byte(`{
		"model_registry": {
			"capabilities": {
				"evaluation": {"preferred": ["judge"]},
				"custom-cap": {"preferred": ["other"]}
			},
			"endpoints": {
				"judge": {"provider": "openai", "model": "gpt-4o"}
			}
		}
	}`)

	r, err := LoadFromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "judge", r.Resolve(CapabilityEvaluation))
	ep := r.GetEndpoint("judge")
	require.NotNil(t, ep)
	assert.Equal(t, "openai", ep.Provider)
	assert.Equal(t, "gpt-4o", ep.Model)
}

func TestCapabilityForStage(t *testing.T) {
	assert.Equal(t, CapabilityEvaluation, CapabilityForStage("evaluate"))
	assert.Equal(t, CapabilityRevision, CapabilityForStage("revise"))
	assert.Equal(t, CapabilityFast, CapabilityForStage("unknown"))
}
