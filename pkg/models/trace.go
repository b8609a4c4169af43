package models

import "time"

// TraceEventKind is the closed vocabulary for trace steps. It mirrors the
// audit event-type set so a trace step and its audit entry classify the same
// way.
type TraceEventKind string

const (
	TraceSimulationStart     TraceEventKind = "simulation_start"
	TraceSimulationEnd       TraceEventKind = "simulation_end"
	TraceSimulationPass      TraceEventKind = "simulation_pass"
	TraceMemoryPatch         TraceEventKind = "memory_patch"
	TraceFork                TraceEventKind = "fork"
	TraceAgentDecision       TraceEventKind = "agent_decision"
	TraceEscalation          TraceEventKind = "escalation"
	TraceContainmentTrigger  TraceEventKind = "containment_trigger"
	TraceComplianceViolation TraceEventKind = "compliance_violation"
	TraceCert                TraceEventKind = "cert"
	TraceAIInteraction       TraceEventKind = "ai_interaction"
	TraceAIStreamComplete    TraceEventKind = "ai_stream_complete"
	TraceKAExecutionStart    TraceEventKind = "ka_execution_start"
	TraceKAExecutionSuccess  TraceEventKind = "ka_execution_success"
	TraceKAExecutionFailure  TraceEventKind = "ka_execution_failure"
	TraceContainmentReset    TraceEventKind = "containment_reset"
)

// TraceStep is one entry in the ordered event log within a session.
type TraceStep struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Stage      int            `json:"stage"`
	StageName  string         `json:"stage_name"`
	EventKind  TraceEventKind `json:"event_kind"`
	Message    string         `json:"message"`
	Confidence *float64       `json:"confidence,omitempty"`
	Input      map[string]any `json:"input_snapshot,omitempty"`
	Output     map[string]any `json:"output_snapshot,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Persona    string         `json:"persona,omitempty"`
}

// Clone returns a deep copy of the trace step.
func (t *TraceStep) Clone() *TraceStep {
	if t == nil {
		return nil
	}
	out := *t
	if t.Confidence != nil {
		c := *t.Confidence
		out.Confidence = &c
	}
	out.Input = CloneMap(t.Input)
	out.Output = CloneMap(t.Output)
	return &out
}
