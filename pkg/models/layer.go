package models

import "time"

// LayerStatus is the terminal disposition of one stage execution within a
// session.
type LayerStatus string

const (
	LayerStatusReady     LayerStatus = "READY"
	LayerStatusRunning   LayerStatus = "RUNNING"
	LayerStatusCompleted LayerStatus = "COMPLETED"
	LayerStatusEscalated LayerStatus = "ESCALATED"
	LayerStatusContained LayerStatus = "CONTAINED"
	LayerStatusFailed    LayerStatus = "FAILED"
)

// ConfidenceReport captures a layer's confidence score, its delta against
// the previous layer and the entropy the stage reported.
type ConfidenceReport struct {
	Score   float64 `json:"score"`
	Delta   float64 `json:"delta"`
	Entropy float64 `json:"entropy"`
}

// LayerState is the committed record of one stage execution. Per session
// there is at most one LayerState per stage number, and layers are appended
// in strictly increasing stage order.
type LayerState struct {
	Stage       int              `json:"stage"`
	StageName   string           `json:"stage_name"`
	Status      LayerStatus      `json:"status"`
	Trace       []*TraceStep     `json:"trace"`
	Agents      []string         `json:"agents,omitempty"`
	Confidence  ConfidenceReport `json:"confidence"`
	Forked      bool             `json:"forked"`
	Escalation  bool             `json:"escalation"`
	Patches     []PatchRef       `json:"patches,omitempty"`
	Forks       []ForkRef        `json:"forks,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	DurationMs  int64            `json:"duration_ms"`
}

// Clone returns a deep copy of the layer state.
func (l *LayerState) Clone() *LayerState {
	if l == nil {
		return nil
	}
	out := *l
	out.Trace = make([]*TraceStep, len(l.Trace))
	for i, step := range l.Trace {
		out.Trace[i] = step.Clone()
	}
	out.Agents = append([]string(nil), l.Agents...)
	out.Patches = append([]PatchRef(nil), l.Patches...)
	out.Forks = append([]ForkRef(nil), l.Forks...)
	return &out
}
