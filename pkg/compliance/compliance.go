// Package compliance evaluates every stage output against an ordered rule
// set, tracks the violations it finds, and decides when the simulation must
// be contained. Containment mints a hash-stamped certificate and latches the
// engine; further triggers are no-ops until an operator resets it.
package compliance

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-sim/strata/pkg/audit"
	"github.com/strata-sim/strata/pkg/models"
)

// Severity grades a violation. Only critical violations count toward the
// containment decision.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation types emitted by the built-in rules. The first three are the
// ones whose critical occurrence triggers containment immediately.
const (
	ViolationAGISafety          = "agi_safety_violation"
	ViolationEthical            = "ethical_approval_denied"
	ViolationSystemVerification = "system_verification_failed"
	ViolationConfidence         = "confidence_below_threshold"
	ViolationMemoryIntegrity    = "memory_integrity"
)

// immediateContainmentTypes lists the violation types that, at critical
// severity, contain the simulation on first occurrence.
var immediateContainmentTypes = map[string]bool{
	ViolationAGISafety:          true,
	ViolationEthical:            true,
	ViolationSystemVerification: true,
}

// Violation is one rule finding.
type Violation struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Severity       Severity  `json:"severity"`
	Stage          int       `json:"stage"`
	SimulationID   string    `json:"simulation_id,omitempty"`
	Persona        string    `json:"persona,omitempty"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	Resolved       bool      `json:"resolved"`
	ResolutionNote string    `json:"resolution_note,omitempty"`
}

// Rule inspects one stage output. Implementations return nil when the
// output is acceptable. A panicking rule is recovered and treated as
// "no violation"; it never aborts the check pipeline.
type Rule interface {
	Name() string
	Check(stage int, details map[string]any, confidence *float64, persona string) *Violation
}

// Certificate attests to a containment event. CertHash is the SHA-256 of
// the canonical JSON of every other field.
type Certificate struct {
	CertID       string         `json:"cert_id"`
	Event        string         `json:"event"`
	OriginLayer  *int           `json:"origin_layer"`
	SimulationID string         `json:"simulation_id,omitempty"`
	DataSnapshot map[string]any `json:"data_snapshot"`
	Persona      string         `json:"persona,omitempty"`
	Timestamp    float64        `json:"timestamp"`
	CertHash     string         `json:"cert_hash"`
}

// content is the hash input: every certificate field except cert_hash, with
// absent optionals rendered as JSON null.
func (c *Certificate) content() map[string]any {
	var origin any
	if c.OriginLayer != nil {
		origin = *c.OriginLayer
	}
	var sim any
	if c.SimulationID != "" {
		sim = c.SimulationID
	}
	var persona any
	if c.Persona != "" {
		persona = c.Persona
	}
	return map[string]any{
		"cert_id":       c.CertID,
		"event":         c.Event,
		"origin_layer":  origin,
		"simulation_id": sim,
		"data_snapshot": c.DataSnapshot,
		"persona":       persona,
		"timestamp":     c.Timestamp,
	}
}

// Verify recomputes the certificate hash and reports whether it matches.
func (c *Certificate) Verify() bool {
	hash, err := audit.CanonicalHash(c.content())
	return err == nil && hash == c.CertHash
}

// Map renders the certificate, including its hash, as a plain map for
// audit storage and broadcast payloads.
func (c *Certificate) Map() map[string]any {
	m := c.content()
	m["cert_hash"] = c.CertHash
	return m
}

// VioFilter narrows Violations results. Zero values mean "no constraint".
type VioFilter struct {
	Type         string
	Severity     Severity
	Stage        *int
	SimulationID string
	Resolved     *bool
	Limit        int
}

// StatusReport summarizes engine state for the operator surface.
type StatusReport struct {
	Status       string           `json:"status"`
	Contained    bool             `json:"contained"`
	Total        int              `json:"total_violations"`
	Unresolved   int              `json:"unresolved"`
	BySeverity   map[Severity]int `json:"by_severity"`
	Certificates int              `json:"certificates"`
	Rules        []string         `json:"rules"`
}

// Engine is the process-global compliance checker.
type Engine struct {
	mu                   sync.Mutex
	rules                []Rule
	violations           []*Violation
	certificates         []*Certificate
	containmentTriggered bool
	criticalThreshold    int

	trail  *audit.Log
	logger *slog.Logger
}

// Options configures an Engine.
type Options struct {
	// CriticalThreshold is the number of critical violations among the last
	// ten that may accumulate before containment triggers. Zero means the
	// default of 2.
	CriticalThreshold int
	// Trail receives compliance_violation, containment_trigger, cert and
	// containment_reset entries. Nil disables audit logging.
	Trail *audit.Log
}

// NewEngine creates an engine preloaded with the five built-in rules.
func NewEngine(opts Options) *Engine {
	threshold := opts.CriticalThreshold
	if threshold <= 0 {
		threshold = 2
	}
	return &Engine{
		rules:             BuiltinRules(),
		criticalThreshold: threshold,
		trail:             opts.Trail,
		logger:            slog.With("component", "compliance"),
	}
}

// AddRule appends a rule to the evaluation order.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	e.rules = append(e.rules, r)
	e.mu.Unlock()
}

// RemoveRule drops the named rule. It reports whether a rule was removed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.Name() == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// CheckAndLog runs every rule against one stage output, records the
// violations, and returns a containment certificate when the containment
// decision fires. Once contained, later checks still record violations but
// never mint a second certificate.
func (e *Engine) CheckAndLog(stage int, simulationID string, details map[string]any, confidence *float64, persona string) (*Certificate, []*Violation) {
	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	var found []*Violation
	for _, rule := range rules {
		v := e.runRule(rule, stage, details, confidence, persona)
		if v == nil {
			continue
		}
		v.ID = uuid.New().String()
		v.Stage = stage
		v.SimulationID = simulationID
		v.Persona = persona
		v.Timestamp = time.Now().UTC()
		found = append(found, v)
	}

	e.mu.Lock()
	e.violations = append(e.violations, found...)
	triggered := !e.containmentTriggered && e.shouldContainLocked(found)
	if triggered {
		e.containmentTriggered = true
	}
	e.mu.Unlock()

	for _, v := range found {
		e.logViolation(v, confidence)
	}

	if !triggered {
		return nil, found
	}

	cert := e.mintCertificate("containment_trigger", &stage, simulationID, details, persona)
	e.logger.Warn("Containment triggered",
		"simulation_id", simulationID,
		"stage", stage,
		"cert_id", cert.CertID)
	return cert, found
}

// runRule executes one rule, recovering panics so a broken rule never takes
// the check pipeline down.
func (e *Engine) runRule(rule Rule, stage int, details map[string]any, confidence *float64, persona string) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Compliance rule panicked",
				"rule", rule.Name(),
				"stage", stage,
				"panic", fmt.Sprintf("%v", r))
			v = nil
		}
	}()
	return rule.Check(stage, details, confidence, persona)
}

// shouldContainLocked implements the containment decision. Caller holds the
// mutex.
func (e *Engine) shouldContainLocked(current []*Violation) bool {
	for _, v := range current {
		if v.Severity == SeverityCritical && immediateContainmentTypes[v.Type] {
			return true
		}
	}
	criticals := 0
	start := len(e.violations) - 10
	if start < 0 {
		start = 0
	}
	for _, v := range e.violations[start:] {
		if v.Severity == SeverityCritical {
			criticals++
		}
	}
	return criticals > e.criticalThreshold
}

// mintCertificate builds, hashes, stores and audits a containment
// certificate.
func (e *Engine) mintCertificate(event string, originLayer *int, simulationID string, snapshot map[string]any, persona string) *Certificate {
	cert := &Certificate{
		CertID:       uuid.New().String(),
		Event:        event,
		OriginLayer:  originLayer,
		SimulationID: simulationID,
		DataSnapshot: models.CloneMap(snapshot),
		Persona:      persona,
		Timestamp:    float64(time.Now().UnixNano()) / 1e9,
	}
	if cert.DataSnapshot == nil {
		cert.DataSnapshot = map[string]any{}
	}
	hash, err := audit.CanonicalHash(cert.content())
	if err != nil {
		// Canonical JSON over plain maps cannot fail in practice; keep the
		// certificate usable regardless.
		e.logger.Error("Certificate hashing failed", "error", err)
		hash = ""
	}
	cert.CertHash = hash

	e.mu.Lock()
	e.certificates = append(e.certificates, cert)
	e.mu.Unlock()

	if e.trail != nil {
		_, auditErr := e.trail.Log(audit.Record{
			EventType:    audit.EventContainmentTrigger,
			SimulationID: simulationID,
			Stage:        originLayer,
			Persona:      persona,
			Certificate:  cert.Map(),
			Details:      map[string]any{"event": event, "cert_id": cert.CertID},
		})
		if auditErr != nil {
			e.logger.Warn("Failed to audit containment trigger", "error", auditErr)
		}
		_, auditErr = e.trail.Log(audit.Record{
			EventType:    audit.EventCert,
			SimulationID: simulationID,
			Stage:        originLayer,
			Certificate:  cert.Map(),
		})
		if auditErr != nil {
			e.logger.Warn("Failed to audit certificate", "error", auditErr)
		}
	}
	return cert
}

// logViolation records one violation in the audit trail.
func (e *Engine) logViolation(v *Violation, confidence *float64) {
	e.logger.Info("Compliance violation",
		"type", v.Type,
		"severity", v.Severity,
		"stage", v.Stage,
		"simulation_id", v.SimulationID)
	if e.trail == nil {
		return
	}
	stage := v.Stage
	_, err := e.trail.Log(audit.Record{
		EventType:    audit.EventComplianceViolation,
		SimulationID: v.SimulationID,
		Stage:        &stage,
		Persona:      v.Persona,
		Confidence:   confidence,
		Details: map[string]any{
			"violation_id": v.ID,
			"type":         v.Type,
			"severity":     string(v.Severity),
			"message":      v.Message,
		},
	})
	if err != nil {
		e.logger.Warn("Failed to audit violation", "error", err)
	}
}

// Violations returns recorded violations matching the filter, oldest first.
func (e *Engine) Violations(f VioFilter) []*Violation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Violation
	for _, v := range e.violations {
		if f.Type != "" && v.Type != f.Type {
			continue
		}
		if f.Severity != "" && v.Severity != f.Severity {
			continue
		}
		if f.Stage != nil && v.Stage != *f.Stage {
			continue
		}
		if f.SimulationID != "" && v.SimulationID != f.SimulationID {
			continue
		}
		if f.Resolved != nil && v.Resolved != *f.Resolved {
			continue
		}
		clone := *v
		out = append(out, &clone)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Resolve marks a violation as handled.
func (e *Engine) Resolve(id, note string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.violations {
		if v.ID == id {
			v.Resolved = true
			v.ResolutionNote = note
			return nil
		}
	}
	return fmt.Errorf("violation %s not found", id)
}

// Status summarizes the engine: contained beats critical beats warning
// beats compliant.
func (e *Engine) Status() *StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &StatusReport{
		Contained:    e.containmentTriggered,
		Total:        len(e.violations),
		BySeverity:   make(map[Severity]int),
		Certificates: len(e.certificates),
	}
	for _, r := range e.rules {
		report.Rules = append(report.Rules, r.Name())
	}
	unresolvedCritical := false
	for _, v := range e.violations {
		report.BySeverity[v.Severity]++
		if !v.Resolved {
			report.Unresolved++
			if v.Severity == SeverityCritical {
				unresolvedCritical = true
			}
		}
	}
	switch {
	case e.containmentTriggered:
		report.Status = "contained"
	case unresolvedCritical:
		report.Status = "critical"
	case report.Unresolved > 0:
		report.Status = "warning"
	default:
		report.Status = "compliant"
	}
	return report
}

// Contained reports whether the engine has latched.
func (e *Engine) Contained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.containmentTriggered
}

// Certificates returns every minted certificate, oldest first.
func (e *Engine) Certificates() []*Certificate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Certificate, len(e.certificates))
	copy(out, e.certificates)
	return out
}

// ResetContainment releases the latch so new triggers can fire again. The
// reset itself is audited.
func (e *Engine) ResetContainment(reason string) {
	e.mu.Lock()
	wasContained := e.containmentTriggered
	e.containmentTriggered = false
	e.mu.Unlock()

	if !wasContained {
		return
	}
	e.logger.Info("Containment reset", "reason", reason)
	if e.trail != nil {
		_, err := e.trail.Log(audit.Record{
			EventType: audit.EventContainmentReset,
			Details:   map[string]any{"reason": reason},
		})
		if err != nil {
			e.logger.Warn("Failed to audit containment reset", "error", err)
		}
	}
}

// ForceContain latches the engine on operator demand, minting a certificate
// with the given reason. When already contained it returns the most recent
// certificate without minting a new one.
func (e *Engine) ForceContain(stage int, simulationID, reason string) *Certificate {
	e.mu.Lock()
	if e.containmentTriggered {
		var last *Certificate
		if n := len(e.certificates); n > 0 {
			last = e.certificates[n-1]
		}
		e.mu.Unlock()
		return last
	}
	e.containmentTriggered = true
	e.mu.Unlock()

	var origin *int
	if stage > 0 {
		origin = &stage
	}
	cert := e.mintCertificate("manual_containment", origin, simulationID, map[string]any{"reason": reason}, "")
	e.logger.Warn("Manual containment",
		"simulation_id", simulationID,
		"reason", reason,
		"cert_id", cert.CertID)
	return cert
}
