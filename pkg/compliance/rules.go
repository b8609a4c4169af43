package compliance

import (
	"fmt"
	"strings"
)

// BuiltinRules returns the default rule set in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		&ConfidenceRule{},
		&AGISafetyRule{},
		&EthicalApprovalRule{},
		&MemoryIntegrityRule{},
		&SystemVerificationRule{},
	}
}

// ──────────────────────────────────────────────────────────────
// Rule 1: per-stage confidence floors
// ──────────────────────────────────────────────────────────────

// ConfidenceRule enforces the per-stage minimum confidence: 0.995 by
// default, 0.998 from stage 5, 0.999 from stage 8 and 1.0 at stage 10.
type ConfidenceRule struct{}

func (r *ConfidenceRule) Name() string { return "confidence_threshold" }

// FloorFor returns the confidence floor applicable at the given stage.
func (r *ConfidenceRule) FloorFor(stage int) float64 {
	switch {
	case stage == 10:
		return 1.0
	case stage >= 8:
		return 0.999
	case stage >= 5:
		return 0.998
	default:
		return 0.995
	}
}

func (r *ConfidenceRule) Check(stage int, details map[string]any, confidence *float64, persona string) *Violation {
	if confidence == nil {
		return nil
	}
	floor := r.FloorFor(stage)
	if *confidence >= floor {
		return nil
	}
	return &Violation{
		Type:     ViolationConfidence,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("confidence %.4f below stage %d floor %.4f", *confidence, stage, floor),
	}
}

// ──────────────────────────────────────────────────────────────
// Rule 2: AGI-safety indicator scan
// ──────────────────────────────────────────────────────────────

// agiSafetyFlags are the top-level boolean indicators whose presence is a
// critical finding.
var agiSafetyFlags = []string{
	"self_modification_detected",
	"recursive_improvement_detected",
	"goal_divergence_detected",
	"emergence_indicators_present",
	"paradigm_shift_detected",
	"quantum_decoherence_detected",
}

// agiSafetyPaths are dotted nested paths checked in addition to the flat
// flags.
var agiSafetyPaths = []string{
	"emergence_analysis.emergence_detected",
	"meta_insights.paradigm_instability_detected",
	"quantum_answer.decoherence_detected",
}

// AGISafetyRule scans stage output for self-modification, recursive
// improvement and related emergence indicators.
type AGISafetyRule struct{}

func (r *AGISafetyRule) Name() string { return "agi_safety_indicators" }

func (r *AGISafetyRule) Check(stage int, details map[string]any, confidence *float64, persona string) *Violation {
	if details == nil {
		return nil
	}
	var hits []string
	for _, flag := range agiSafetyFlags {
		if truthy(details[flag]) {
			hits = append(hits, flag)
		}
	}
	for _, path := range agiSafetyPaths {
		if truthy(lookupPath(details, path)) {
			hits = append(hits, path)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	return &Violation{
		Type:     ViolationAGISafety,
		Severity: SeverityCritical,
		Message:  "safety indicators present: " + strings.Join(hits, ", "),
	}
}

// ──────────────────────────────────────────────────────────────
// Rule 3: ethical approval
// ──────────────────────────────────────────────────────────────

// EthicalApprovalRule fails outputs that were explicitly denied ethical
// approval, or whose risk assessment came back critical.
type EthicalApprovalRule struct{}

func (r *EthicalApprovalRule) Name() string { return "ethical_approval" }

func (r *EthicalApprovalRule) Check(stage int, details map[string]any, confidence *float64, persona string) *Violation {
	if details == nil {
		return nil
	}
	if approved, ok := details["ethically_approved"].(bool); ok && !approved {
		return &Violation{
			Type:     ViolationEthical,
			Severity: SeverityCritical,
			Message:  "stage output was denied ethical approval",
		}
	}
	if risks, ok := details["ethical_risks"].(map[string]any); ok {
		if level, _ := risks["risk_level"].(string); level == "critical" {
			return &Violation{
				Type:     ViolationEthical,
				Severity: SeverityCritical,
				Message:  "ethical risk level is critical",
			}
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Rule 4: memory integrity
// ──────────────────────────────────────────────────────────────

// MemoryIntegrityRule flags runaway memory mutation: more than 10 patches
// or 5 forks from a single stage, or an explicit corruption flag.
type MemoryIntegrityRule struct{}

func (r *MemoryIntegrityRule) Name() string { return "memory_integrity" }

func (r *MemoryIntegrityRule) Check(stage int, details map[string]any, confidence *float64, persona string) *Violation {
	if details == nil {
		return nil
	}
	patches := asFloat(details["patches_applied"])
	forks := asFloat(details["forks_created"])
	corrupted := truthy(details["memory_corruption_detected"])

	switch {
	case corrupted:
		return &Violation{
			Type:     ViolationMemoryIntegrity,
			Severity: SeverityHigh,
			Message:  "memory corruption detected",
		}
	case patches > 10:
		return &Violation{
			Type:     ViolationMemoryIntegrity,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("excessive memory patching: %d patches in one stage", int(patches)),
		}
	case forks > 5:
		return &Violation{
			Type:     ViolationMemoryIntegrity,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("excessive memory forking: %d forks in one stage", int(forks)),
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Rule 5: system verification gate
// ──────────────────────────────────────────────────────────────

// SystemVerificationRule requires stage 9 to report system_verified=true.
type SystemVerificationRule struct{}

func (r *SystemVerificationRule) Name() string { return "system_verification" }

func (r *SystemVerificationRule) Check(stage int, details map[string]any, confidence *float64, persona string) *Violation {
	if stage != 9 || details == nil {
		return nil
	}
	if verified, ok := details["system_verified"].(bool); ok && !verified {
		return &Violation{
			Type:     ViolationSystemVerification,
			Severity: SeverityCritical,
			Message:  "system verification failed at stage 9",
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Shared value helpers
// ──────────────────────────────────────────────────────────────

// truthy reports whether v is boolean true.
func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// asFloat coerces JSON-shaped numbers; anything else reads as 0.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[p]
	}
	return cur
}
