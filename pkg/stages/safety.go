package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/models"
)

// ─────────────────────────────────────────────────────────────────
// Stage 7 — ethical_review
// ─────────────────────────────────────────────────────────────────

// EthicalReview scans the query and accumulated findings for risk markers
// and emits the ethically_approved verdict the compliance engine watches.
// Three or more distinct risk categories deny approval.
type EthicalReview struct {
	meta
}

// riskCategories maps a category label to its surface markers. Categories
// count once no matter how many markers hit.
var riskCategories = map[string][]string{
	"harm":       {"weapon", "attack", "casualt", "destroy", "injure"},
	"privacy":    {"surveil", "track individuals", "dox", "stalk"},
	"deception":  {"deceive", "manipulate", "impersonate", "fabricate evidence"},
	"exploit":    {"exploit", "vulnerabilit", "bypass safety", "jailbreak"},
	"escalation": {"uncontrolled", "irreversible", "self-replicat"},
}

func (s *EthicalReview) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	corpus := collectText(in)
	if corpus == "" {
		return nil, fmt.Errorf("ethical_review: nothing to review")
	}

	var flags []string
	for category, terms := range riskCategories {
		if containsAny(corpus, terms) {
			flags = append(flags, category)
		}
	}

	riskLevel := "none"
	switch {
	case len(flags) >= 3:
		riskLevel = "critical"
	case len(flags) == 2:
		riskLevel = "elevated"
	case len(flags) == 1:
		riskLevel = "low"
	}

	approved := riskLevel != "critical"
	in.State["ethically_approved"] = approved

	confidence := 0.93
	if !approved {
		confidence = 0.2
	}

	return &models.StageResult{
		Output: map[string]any{
			"ethically_approved": approved,
			"ethical_risks": map[string]any{
				"risk_level": riskLevel,
				"flags":      flags,
			},
			"review": fmt.Sprintf("%d risk categories flagged, risk level %s", len(flags), riskLevel),
		},
		Confidence: confidence,
		Escalate:   true,
		Entropy:    clamp(0.1+0.15*float64(len(flags)), 0.05, 0.8),
		Trace: map[string]any{
			"risk_level": riskLevel,
			"flags":      flags,
		},
	}, nil
}

// collectText joins the query with every string field of the current
// payload so the scan sees accumulated findings, not just the raw prompt.
func collectText(in *Input) string {
	var b strings.Builder
	b.WriteString(queryOf(in))
	for _, v := range in.Payload {
		if s, ok := v.(string); ok {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	return strings.TrimSpace(b.String())
}

// ─────────────────────────────────────────────────────────────────
// Stage 8 — emergence_scan
// ─────────────────────────────────────────────────────────────────

// EmergenceScan consults the stage-8 knowledge algorithms and measures
// structural indicators of runaway behavior: fork proliferation, entropy
// climb, novelty spikes. Two or more indicators mark emergence, which the
// compliance engine treats as an immediate containment trigger.
type EmergenceScan struct {
	meta
}

func (s *EmergenceScan) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	var kaResults []*ka.Result
	if in.Plan != nil && in.KAs != nil {
		kaResults = in.Plan.RunStage(ctx, in.KAs, s.number, in.Payload, map[string]any{
			"stage":      s.number,
			"session_id": in.SessionID,
		})
	}

	kaNames := make([]string, 0, len(kaResults))
	var kaEntropy float64
	kaHits := 0
	for _, r := range kaResults {
		kaNames = append(kaNames, r.KA)
		if r.Output != nil {
			kaEntropy += r.Entropy
			kaHits++
		}
	}

	var indicators []string
	if stateInt(in.State, "forks_total") > 5 {
		indicators = append(indicators, "fork_proliferation")
	}
	if kaHits > 0 && kaEntropy/float64(kaHits) > 0.85 {
		indicators = append(indicators, "entropy_climb")
	}
	novelty := noveltyScore(collectText(in))
	if novelty > 0.97 {
		indicators = append(indicators, "novelty_spike")
	}
	if divergence, ok := stateFloat(in.State, "pov_divergence"); ok && divergence > 0.9 {
		indicators = append(indicators, "perspective_divergence")
	}

	detected := len(indicators) >= 2
	in.State["emergence_detected"] = detected

	return &models.StageResult{
		Output: map[string]any{
			"emergence_analysis": map[string]any{
				"emergence_detected": detected,
				"novelty_score":      novelty,
				"indicators":         indicators,
			},
			"ka_consulted": kaNames,
		},
		Confidence: 0.9,
		Escalate:   true,
		Entropy:    clamp(0.1+0.2*float64(len(indicators)), 0.05, 0.9),
		Trace: map[string]any{
			"indicators": indicators,
			"detected":   detected,
		},
	}, nil
}

// noveltyScore is the distinct-word ratio of the corpus: near 1.0 means
// almost no repetition, which past a threshold reads as a novelty spike.
// Corpora under 40 words carry no signal and score zero.
func noveltyScore(corpus string) float64 {
	words := strings.Fields(strings.ToLower(corpus))
	if len(words) < 40 {
		return 0
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	return float64(len(distinct)) / float64(len(words))
}

// ─────────────────────────────────────────────────────────────────
// Stage 9 — system_verification
// ─────────────────────────────────────────────────────────────────

// SystemVerification re-checks the run's structural invariants before
// synthesis: the memory graph is reachable, the accumulator kept its
// continuity keys, the agent books balance, and a payload exists to
// synthesize from. Any failed check flips system_verified to false, which
// the compliance engine escalates to containment.
type SystemVerification struct {
	meta
}

func (s *SystemVerification) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
	}

	checks := []check{
		{Name: "memory_reachable", OK: in.Memory != nil},
		{Name: "state_continuity", OK: stateString(in.State, "orig_query") != "" || queryOf(in) != ""},
		{Name: "payload_present", OK: len(in.Payload) > 0},
	}

	if in.Memory != nil {
		_, err := in.Memory.Get(SessionAnchor(in.SessionID), "")
		checks = append(checks, check{Name: "anchor_resolvable", OK: err == nil})
	}
	if in.Agents != nil {
		stats := in.Agents.Stats()
		checks = append(checks, check{Name: "agent_books_balance", OK: stats.Active+stats.Inactive <= stats.TotalSpawned})
	}

	verified := true
	checkMaps := make([]map[string]any, 0, len(checks))
	for _, c := range checks {
		if !c.OK {
			verified = false
		}
		checkMaps = append(checkMaps, map[string]any{"name": c.Name, "ok": c.OK})
	}

	in.State["system_verified"] = verified

	confidence := 0.97
	if !verified {
		confidence = 0.3
	}

	return &models.StageResult{
		Output: map[string]any{
			"system_verified": verified,
			"checks":          checkMaps,
		},
		Confidence: confidence,
		Escalate:   true,
		Entropy:    0.1,
		Trace: map[string]any{
			"verified": verified,
			"checks":   len(checks),
		},
	}, nil
}
