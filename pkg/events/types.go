// Package events delivers real-time simulation frames to WebSocket clients.
//
// Every server → client frame is an Envelope carrying one of the closed
// MessageType values. Frames are scoped to a session room (one room per
// simulation session); global frames carry session_id "*". The Hub owns
// connection registration, room membership and fan-out; the Publisher is
// the typed, nil-safe emit surface the pipeline and services write to.
package events

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a WebSocket frame. The set is closed — the Hub
// only emits these values and drops anything else.
type MessageType string

const (
	// Simulation lifecycle
	MessageSimulationStarted   MessageType = "simulation_started"
	MessageSimulationCompleted MessageType = "simulation_completed"
	MessageSimulationError     MessageType = "simulation_error"

	// Stage lifecycle
	MessageLayerStarted   MessageType = "layer_started"
	MessageLayerCompleted MessageType = "layer_completed"
	MessageLayerEscalated MessageType = "layer_escalated"
	MessageLayerContained MessageType = "layer_contained"

	// Agents
	MessageAgentSpawned MessageType = "agent_spawned"
	MessageAgentAction  MessageType = "agent_action"
	MessageAgentKilled  MessageType = "agent_killed"
	MessageAgentVote    MessageType = "agent_vote"

	// Memory
	MessageMemoryPatched MessageType = "memory_patched"
	MessageMemoryForked  MessageType = "memory_forked"

	// Observability
	MessageTraceLog            MessageType = "trace_log"
	MessageAuditEvent          MessageType = "audit_event"
	MessageConfidenceThreshold MessageType = "confidence_threshold"

	// Compliance
	MessageContainmentTriggered MessageType = "containment_triggered"
	MessageComplianceViolation  MessageType = "compliance_violation"

	// Plugins
	MessagePluginLoaded      MessageType = "plugin_loaded"
	MessagePluginActivated   MessageType = "plugin_activated"
	MessagePluginDeactivated MessageType = "plugin_deactivated"

	// Connection control
	MessageJoinSession  MessageType = "join_session"
	MessageLeaveSession MessageType = "leave_session"
	MessageHeartbeat    MessageType = "heartbeat"
)

var validMessageTypes = map[MessageType]bool{
	MessageSimulationStarted:    true,
	MessageSimulationCompleted:  true,
	MessageSimulationError:      true,
	MessageLayerStarted:         true,
	MessageLayerCompleted:       true,
	MessageLayerEscalated:       true,
	MessageLayerContained:       true,
	MessageAgentSpawned:         true,
	MessageAgentAction:          true,
	MessageAgentKilled:          true,
	MessageAgentVote:            true,
	MessageMemoryPatched:        true,
	MessageMemoryForked:         true,
	MessageTraceLog:             true,
	MessageAuditEvent:           true,
	MessageConfidenceThreshold:  true,
	MessageContainmentTriggered: true,
	MessageComplianceViolation:  true,
	MessagePluginLoaded:         true,
	MessagePluginActivated:      true,
	MessagePluginDeactivated:    true,
	MessageJoinSession:          true,
	MessageLeaveSession:         true,
	MessageHeartbeat:            true,
}

// Valid reports whether t belongs to the closed frame-type set.
func (t MessageType) Valid() bool { return validMessageTypes[t] }

// GlobalSession is the session_id carried by frames that are not scoped to
// a single simulation session (plugin reloads, global notices).
const GlobalSession = "*"

// Envelope is the wire format for every frame, in both directions. Inbound
// client frames reuse it with only Type (and optionally Data) populated.
type Envelope struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	Data      map[string]any `json:"data"`
	MessageID string         `json:"message_id"`
}

// NewEnvelope stamps a frame with a fresh message id and the current time.
// A nil data map serializes as {} rather than null.
func NewEnvelope(t MessageType, sessionID string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
		MessageID: uuid.New().String(),
	}
}
