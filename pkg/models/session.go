// Package models holds the shared domain types threaded between the session
// store, the stage implementations, the pipeline executor and the API layer.
package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a simulation session.
type SessionStatus string

const (
	SessionStatusReady     SessionStatus = "READY"
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusContained SessionStatus = "CONTAINED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal sessions are
// immutable except for post-hoc annotations.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusContained || s == SessionStatusFailed
}

// Execution modes accepted by the start endpoint.
const (
	ModeAuto  = "auto"  // run all stages synchronously
	ModeAsync = "async" // enqueue for a worker, return immediately
	ModeStep  = "step"  // create the session only; advance via /simulation/step
)

// ValidMode reports whether s is a recognized execution mode. The empty
// string defaults to ModeAuto at the service layer.
func ValidMode(s string) bool {
	switch s {
	case "", ModeAuto, ModeAsync, ModeStep:
		return true
	default:
		return false
	}
}

// Session is one simulation run: the query, its per-stage layer history, the
// shared state accumulator and, once terminal, the final output.
type Session struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	UserID       string         `json:"user_id,omitempty"`
	Status       SessionStatus  `json:"status"`
	CurrentStage int            `json:"current_stage"`
	InputQuery   string         `json:"input_query"`
	Layers       []*LayerState  `json:"layers"`
	State        map[string]any `json:"state"`
	FinalOutput  map[string]any `json:"final_output,omitempty"`
	Annotations  map[string]any `json:"annotations,omitempty"`
}

// LastLayer returns the most recently committed layer, or nil.
func (s *Session) LastLayer() *LayerState {
	if len(s.Layers) == 0 {
		return nil
	}
	return s.Layers[len(s.Layers)-1]
}

// Clone returns a deep copy so callers can read and mutate without racing
// the store's canonical copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Layers = make([]*LayerState, len(s.Layers))
	for i, l := range s.Layers {
		out.Layers[i] = l.Clone()
	}
	out.State = CloneMap(s.State)
	out.FinalOutput = CloneMap(s.FinalOutput)
	out.Annotations = CloneMap(s.Annotations)
	return &out
}

// StartRequest is the ingress payload for a new simulation.
type StartRequest struct {
	Prompt    string         `json:"prompt"`
	Context   map[string]any `json:"context,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	MaxStages int            `json:"max_stages,omitempty"`
	Mode      string         `json:"mode,omitempty"`
}

// RunResult is what a completed (or otherwise terminated) pipeline run
// returns to its caller.
type RunResult struct {
	RunID       string         `json:"run_id"`
	Session     *Session       `json:"session"`
	Trace       []*TraceStep   `json:"trace"`
	FinalOutput map[string]any `json:"final_output,omitempty"`
	State       map[string]any `json:"state"`
}
