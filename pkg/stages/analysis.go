package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/models"
)

// ─────────────────────────────────────────────────────────────────
// Stage 1 — query_analysis
// ─────────────────────────────────────────────────────────────────

// QueryAnalysis classifies the incoming query's complexity and derives the
// analysis axes later stages reason along. A simple query completes the run
// here: its confidence clears the global completion threshold without
// escalation.
type QueryAnalysis struct {
	meta
}

var arithmeticQuery = regexp.MustCompile(`(?i)^\s*what\s+is\s+[\d\s+\-*/%.()^]+\??\s*$`)

var complexMarkers = []string{
	"why", "consciousness", "paradox", "emergen", "philosoph",
	"recursive", "self-", "meta-", "existence", "sentien",
}

var moderateMarkers = []string{
	"how", "compare", "explain", "analyze", "tradeoff", "trade-off",
	"implication", "difference",
}

func (s *QueryAnalysis) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	query := strings.TrimSpace(queryOf(in))
	if query == "" {
		return nil, fmt.Errorf("query_analysis: empty query")
	}

	complexity := classifyComplexity(query)
	axes := deriveAxes(query)

	in.State["complexity"] = complexity
	in.State["axes"] = axes

	var confidence, entropy float64
	switch complexity {
	case "simple":
		confidence, entropy = 0.9975, 0.05
	case "moderate":
		confidence, entropy = 0.82, 0.3
	default:
		confidence, entropy = 0.64, 0.45
	}

	output := map[string]any{
		"query":      query,
		"complexity": complexity,
		"axes":       axes,
		"word_count": len(strings.Fields(query)),
		"analysis":   fmt.Sprintf("classified %q as %s across %d axes", condense(query, 60), complexity, len(axes)),
	}

	// Provider insight is additive only: a failure or an absent client
	// never degrades the classification.
	if in.LLM != nil {
		resp, err := in.LLM.Generate(ctx, llm.Request{
			System: "You classify reasoning queries. Reply with one short sentence naming the dominant axis of analysis.",
			Prompt: query,
		})
		if err == nil {
			output["llm_insight"] = resp.Text
			output["llm_model"] = resp.Model
		} else if in.Logger != nil {
			in.Logger.Warn("Query analysis enrichment failed", "error", err)
		}
	}

	return &models.StageResult{
		Output:     output,
		Confidence: confidence,
		Escalate:   complexity != "simple",
		Entropy:    entropy,
		Trace: map[string]any{
			"complexity": complexity,
			"axes":       axes,
		},
	}, nil
}

// classifyComplexity buckets a query by surface markers. Arithmetic and
// short factual lookups are simple; open-ended or self-referential prompts
// are complex; everything in between is moderate.
func classifyComplexity(query string) string {
	if arithmeticQuery.MatchString(query) {
		return "simple"
	}

	words := len(strings.Fields(query))
	switch {
	case containsAny(query, complexMarkers) || words > 60:
		return "complex"
	case containsAny(query, moderateMarkers) || words > 12:
		return "moderate"
	default:
		return "simple"
	}
}

// deriveAxes picks up to four analysis axes from the query's vocabulary.
// "semantic" is always present so downstream stages have at least one axis.
func deriveAxes(query string) []string {
	axes := []string{"semantic"}
	add := func(axis string, terms ...string) {
		if len(axes) < 4 && containsAny(query, terms) {
			axes = append(axes, axis)
		}
	}

	if strings.ContainsAny(query, "0123456789") {
		axes = append(axes, "quantitative")
	}
	add("causal", "why", "cause", "because", "leads to", "result")
	add("temporal", "when", "history", "evolv", "over time", "future")
	add("normative", "should", "ought", "ethic", "fair", "moral")
	add("speculative", "what if", "predict", "imagine", "could", "might")
	return axes
}

// condense trims a string to at most max runes at a word boundary.
func condense(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// ─────────────────────────────────────────────────────────────────
// Stage 2 — memory_recall
// ─────────────────────────────────────────────────────────────────

// MemoryRecall resolves the session's anchor cell. On a hit the recalled
// value flows into the output; on a miss the stage anchors the session by
// writing the query and axes to the coordinate, recording the patch.
type MemoryRecall struct {
	meta
}

func (s *MemoryRecall) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	if in.Memory == nil {
		return nil, fmt.Errorf("memory_recall: memory graph unavailable")
	}

	anchor := SessionAnchor(in.SessionID)
	output := map[string]any{
		"coordinate": anchor.Encode(),
	}
	var patches []models.PatchRef
	var confidence float64

	cell, err := in.Memory.Get(anchor, "")
	switch {
	case err == nil:
		output["recall_hit"] = true
		output["recall"] = cell.Value
		output["cell_id"] = cell.CellID
		output["patch_count"] = len(cell.PatchHistory)
		confidence = 0.97
	default:
		value := map[string]any{
			"query":      queryOf(in),
			"axes":       axesOf(in.State),
			"complexity": stateString(in.State, "complexity"),
		}
		created, werr := in.Memory.Set(anchor, value, map[string]any{
			"persona": "system",
			"stage":   s.number,
		}, "system")
		if werr != nil {
			return nil, fmt.Errorf("memory_recall: anchoring session: %w", werr)
		}
		output["recall_hit"] = false
		output["anchored"] = true
		output["cell_id"] = created.CellID
		patches = append(patches, models.PatchRef{
			Coordinate: anchor.Encode(),
			CellID:     created.CellID,
			Kind:       string(memory.PatchKindCreate),
			Persona:    "system",
		})
		confidence = 0.94
	}

	stats := in.Memory.Stats()
	output["memory_cells"] = stats.NCells

	return &models.StageResult{
		Output:     output,
		Confidence: confidence,
		Escalate:   true,
		Entropy:    0.2,
		Patches:    patches,
		Trace: map[string]any{
			"coordinate": anchor.Encode(),
			"recall_hit": output["recall_hit"],
		},
	}, nil
}
