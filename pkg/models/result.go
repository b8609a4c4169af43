package models

// PatchRef points at one memory mutation a stage performed.
type PatchRef struct {
	Coordinate string `json:"coordinate"`
	CellID     string `json:"cell_id"`
	Kind       string `json:"kind"`
	Persona    string `json:"persona,omitempty"`
}

// ForkRef points at one fork a stage performed: the child cell now live at
// the coordinate and the parent it superseded.
type ForkRef struct {
	Coordinate   string `json:"coordinate"`
	CellID       string `json:"cell_id"`
	ParentCellID string `json:"parent_cell_id"`
	Reason       string `json:"reason,omitempty"`
}

// StageResult is the uniform return contract of every stage. The executor
// commits it; stages never mutate the session directly.
type StageResult struct {
	Output           map[string]any `json:"output"`
	Confidence       float64        `json:"confidence"`
	Escalate         bool           `json:"escalate"`
	Trace            map[string]any `json:"trace,omitempty"`
	Patches          []PatchRef     `json:"patches,omitempty"`
	Forks            []ForkRef      `json:"forks,omitempty"`
	AgentsSpawned    []string       `json:"agents_spawned,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Entropy          float64        `json:"entropy"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// Normalize clamps confidence into [0,1] and derives the escalate flag from
// the stage's own threshold: a result below threshold escalates even when
// the stage did not say so explicitly.
func (r *StageResult) Normalize(stageThreshold float64) {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if r.Confidence < stageThreshold {
		r.Escalate = true
	}
}
