package events

import (
	"log/slog"
)

// Publisher is the typed emit surface the pipeline, services and plugin
// registry write frames through. Every method is safe on a nil receiver
// and returns nothing: frame delivery is best-effort and must never abort
// a running simulation.
type Publisher struct {
	hub    *Hub
	logger *slog.Logger
}

// NewPublisher wraps a Hub. A nil hub yields a Publisher whose emits are
// no-ops, which keeps headless runs (tests, CLI one-shots) free of wiring.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{
		hub:    hub,
		logger: slog.Default().With("component", "events.publisher"),
	}
}

// emit broadcasts one frame to a session room, logging partial delivery.
func (p *Publisher) emit(sessionID string, t MessageType, data map[string]any) {
	if p == nil || p.hub == nil {
		return
	}
	sent, attempted := p.hub.BroadcastSession(sessionID, t, data)
	if sent < attempted {
		p.logger.Debug("Partial frame delivery",
			"type", string(t), "session_id", sessionID, "sent", sent, "attempted", attempted)
	}
}

// emitGlobal broadcasts one frame to every client (session_id "*").
func (p *Publisher) emitGlobal(t MessageType, data map[string]any) {
	if p == nil || p.hub == nil {
		return
	}
	p.hub.BroadcastAll(t, data)
}

// ─────────────────────────────────────────────────────────────────
// Simulation lifecycle
// ─────────────────────────────────────────────────────────────────

// SimulationStarted announces a new run on its session room.
func (p *Publisher) SimulationStarted(sessionID, runID, query string) {
	p.emit(sessionID, MessageSimulationStarted, map[string]any{
		"run_id": runID,
		"query":  query,
	})
}

// SimulationCompleted announces a terminal COMPLETED run.
func (p *Publisher) SimulationCompleted(sessionID string, stagesCompleted int, confidence float64, finalOutput map[string]any) {
	p.emit(sessionID, MessageSimulationCompleted, map[string]any{
		"stages_completed": stagesCompleted,
		"confidence":       confidence,
		"final_output":     finalOutput,
	})
}

// SimulationError announces a run that ended in FAILED.
func (p *Publisher) SimulationError(sessionID, message string) {
	p.emit(sessionID, MessageSimulationError, map[string]any{
		"error": message,
	})
}

// ─────────────────────────────────────────────────────────────────
// Stage lifecycle
// ─────────────────────────────────────────────────────────────────

// LayerStarted announces that a stage began processing.
func (p *Publisher) LayerStarted(sessionID string, stage int, name string) {
	p.emit(sessionID, MessageLayerStarted, map[string]any{
		"stage": stage,
		"name":  name,
	})
}

// LayerCompleted announces a committed stage with its outcome status.
func (p *Publisher) LayerCompleted(sessionID string, stage int, name string, confidence float64, status string) {
	p.emit(sessionID, MessageLayerCompleted, map[string]any{
		"stage":      stage,
		"name":       name,
		"confidence": confidence,
		"status":     status,
	})
}

// LayerEscalated announces a stage whose result forces the next stage.
func (p *Publisher) LayerEscalated(sessionID string, stage int, confidence float64, reason string) {
	p.emit(sessionID, MessageLayerEscalated, map[string]any{
		"stage":      stage,
		"confidence": confidence,
		"reason":     reason,
	})
}

// LayerContained announces a stage halted by the compliance engine.
func (p *Publisher) LayerContained(sessionID string, stage int, certID string) {
	p.emit(sessionID, MessageLayerContained, map[string]any{
		"stage":   stage,
		"cert_id": certID,
	})
}

// ConfidenceThreshold reports a stage score against its stage floor.
func (p *Publisher) ConfidenceThreshold(sessionID string, stage int, confidence, threshold float64) {
	p.emit(sessionID, MessageConfidenceThreshold, map[string]any{
		"stage":      stage,
		"confidence": confidence,
		"threshold":  threshold,
	})
}

// ─────────────────────────────────────────────────────────────────
// Compliance
// ─────────────────────────────────────────────────────────────────

// ContainmentTriggered announces containment with its certificate id and
// the violation types that tripped it.
func (p *Publisher) ContainmentTriggered(sessionID string, stage int, certID string, violations []string) {
	p.emit(sessionID, MessageContainmentTriggered, map[string]any{
		"stage":      stage,
		"cert_id":    certID,
		"violations": violations,
	})
}

// ComplianceViolation announces a single logged violation.
func (p *Publisher) ComplianceViolation(sessionID string, stage int, vioType, severity, message string) {
	p.emit(sessionID, MessageComplianceViolation, map[string]any{
		"stage":    stage,
		"type":     vioType,
		"severity": severity,
		"message":  message,
	})
}

// ─────────────────────────────────────────────────────────────────
// Memory
// ─────────────────────────────────────────────────────────────────

// MemoryPatched announces a key write at a coordinate.
func (p *Publisher) MemoryPatched(sessionID, coordinate, key string) {
	p.emit(sessionID, MessageMemoryPatched, map[string]any{
		"coordinate": coordinate,
		"key":        key,
	})
}

// MemoryForked announces a lineage fork between two coordinates.
func (p *Publisher) MemoryForked(sessionID, from, to string) {
	p.emit(sessionID, MessageMemoryForked, map[string]any{
		"from": from,
		"to":   to,
	})
}

// ─────────────────────────────────────────────────────────────────
// Agents
// ─────────────────────────────────────────────────────────────────

// AgentSpawned announces a newly spawned persona agent.
func (p *Publisher) AgentSpawned(sessionID, agentID, persona, role string) {
	p.emit(sessionID, MessageAgentSpawned, map[string]any{
		"agent_id": agentID,
		"persona":  persona,
		"role":     role,
	})
}

// AgentAction announces an agent producing a finding.
func (p *Publisher) AgentAction(sessionID, agentID, action string, detail map[string]any) {
	data := map[string]any{
		"agent_id": agentID,
		"action":   action,
	}
	for k, v := range detail {
		data[k] = v
	}
	p.emit(sessionID, MessageAgentAction, data)
}

// AgentKilled announces an agent deactivation.
func (p *Publisher) AgentKilled(sessionID, agentID string) {
	p.emit(sessionID, MessageAgentKilled, map[string]any{
		"agent_id": agentID,
	})
}

// AgentVote announces an agent's confidence contribution to a team
// consensus.
func (p *Publisher) AgentVote(sessionID, agentID string, confidence float64) {
	p.emit(sessionID, MessageAgentVote, map[string]any{
		"agent_id":   agentID,
		"confidence": confidence,
	})
}

// ─────────────────────────────────────────────────────────────────
// Observability
// ─────────────────────────────────────────────────────────────────

// TraceLog forwards a pipeline trace line to watching clients.
func (p *Publisher) TraceLog(sessionID, message string, fields map[string]any) {
	data := map[string]any{"message": message}
	for k, v := range fields {
		data[k] = v
	}
	p.emit(sessionID, MessageTraceLog, data)
}

// AuditEvent mirrors an audit trail entry to watching clients.
func (p *Publisher) AuditEvent(sessionID string, entry map[string]any) {
	p.emit(sessionID, MessageAuditEvent, entry)
}

// ─────────────────────────────────────────────────────────────────
// Plugins (global frames)
// ─────────────────────────────────────────────────────────────────

// PluginLoaded announces a registry (re)load with the resulting KA names.
func (p *Publisher) PluginLoaded(names []string) {
	p.emitGlobal(MessagePluginLoaded, map[string]any{
		"plugins": names,
	})
}

// PluginActivated announces a single KA becoming callable.
func (p *Publisher) PluginActivated(name string) {
	p.emitGlobal(MessagePluginActivated, map[string]any{
		"plugin": name,
	})
}

// PluginDeactivated announces a KA being removed from the registry.
func (p *Publisher) PluginDeactivated(name string) {
	p.emitGlobal(MessagePluginDeactivated, map[string]any{
		"plugin": name,
	})
}
