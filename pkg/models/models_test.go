package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageResultNormalize(t *testing.T) {
	tests := []struct {
		name         string
		result       StageResult
		threshold    float64
		wantConf     float64
		wantEscalate bool
	}{
		{name: "below threshold escalates", result: StageResult{Confidence: 0.6}, threshold: 0.9, wantConf: 0.6, wantEscalate: true},
		{name: "at threshold does not escalate", result: StageResult{Confidence: 0.9}, threshold: 0.9, wantConf: 0.9, wantEscalate: false},
		{name: "explicit escalate preserved above threshold", result: StageResult{Confidence: 0.95, Escalate: true}, threshold: 0.9, wantConf: 0.95, wantEscalate: true},
		{name: "negative clamped to zero", result: StageResult{Confidence: -0.2}, threshold: 0.5, wantConf: 0, wantEscalate: true},
		{name: "above one clamped", result: StageResult{Confidence: 1.3}, threshold: 0.5, wantConf: 1, wantEscalate: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.result.Normalize(tt.threshold)
			assert.Equal(t, tt.wantConf, tt.result.Confidence)
			assert.Equal(t, tt.wantEscalate, tt.result.Escalate)
		})
	}
}

func TestSessionClone(t *testing.T) {
	conf := 0.9
	s := &Session{
		ID:     "s1",
		Status: SessionStatusRunning,
		State:  map[string]any{"nested": map[string]any{"k": "v"}},
		Layers: []*LayerState{{
			Stage:  1,
			Agents: []string{"a1"},
			Trace:  []*TraceStep{{ID: "t1", Confidence: &conf, Output: map[string]any{"x": 1}}},
		}},
	}

	c := s.Clone()
	require.NotSame(t, s, c)

	c.State["nested"].(map[string]any)["k"] = "mutated"
	c.Layers[0].Agents[0] = "other"
	*c.Layers[0].Trace[0].Confidence = 0.1

	assert.Equal(t, "v", s.State["nested"].(map[string]any)["k"])
	assert.Equal(t, "a1", s.Layers[0].Agents[0])
	assert.Equal(t, 0.9, *s.Layers[0].Trace[0].Confidence)
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusContained.Terminal())
	assert.True(t, SessionStatusFailed.Terminal())
	assert.False(t, SessionStatusRunning.Terminal())
	assert.False(t, SessionStatusPaused.Terminal())
	assert.False(t, SessionStatusReady.Terminal())
}

func TestValidMode(t *testing.T) {
	for _, mode := range []string{"", ModeAuto, ModeAsync, ModeStep} {
		assert.True(t, ValidMode(mode), mode)
	}
	assert.False(t, ValidMode("turbo"))
}
