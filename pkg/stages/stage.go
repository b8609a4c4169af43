// Package stages defines the per-stage processing contract and the ten
// built-in reasoning stages the pipeline executor drives. A stage receives
// the prior stage's output plus the shared state accumulator, may read and
// mutate the memory graph, spawn agents and consult knowledge algorithms,
// and returns a StageResult the executor commits. Stages never touch the
// session record directly.
package stages

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/models"
)

// Stage is the uniform contract every pipeline stage implements. The
// declarative accessors feed the executor's commit rules and the compliance
// engine's per-stage floors; Process does the work.
type Stage interface {
	Number() int
	Name() string
	ConfidenceThreshold() float64
	EntropyThreshold() float64
	MaxProcessingTime() time.Duration
	RequiresAgents() bool
	RequiresMemory() bool
	SafetyCritical() bool
	Process(ctx context.Context, in *Input) (*models.StageResult, error)
}

// Input bundles everything a stage may touch. Payload is the prior stage's
// output (for stage 1, the seeded query). State is the shared accumulator:
// writes to it are visible to later stages and to the executor.
type Input struct {
	Payload   map[string]any
	State     map[string]any
	Memory    *memory.Graph
	Agents    *agents.Manager
	KAs       *ka.Registry
	Plan      *ka.StagePlan
	LLM       llm.Client
	SessionID string
	RunID     string
	Logger    *slog.Logger
}

// meta carries the declarative half of the Stage contract. Built-ins embed
// it and implement only Process.
type meta struct {
	number     int
	name       string
	confidence float64
	entropy    float64
	maxTime    time.Duration
	agents     bool
	memory     bool
	safety     bool
}

func (m meta) Number() int                      { return m.number }
func (m meta) Name() string                     { return m.name }
func (m meta) ConfidenceThreshold() float64     { return m.confidence }
func (m meta) EntropyThreshold() float64        { return m.entropy }
func (m meta) MaxProcessingTime() time.Duration { return m.maxTime }
func (m meta) RequiresAgents() bool             { return m.agents }
func (m meta) RequiresMemory() bool             { return m.memory }
func (m meta) SafetyCritical() bool             { return m.safety }

// SessionAnchor is the coordinate every stage of a session reads and writes
// its working memory at. Stable per session: no temporal axis, so repeated
// lookups resolve to the same live cell.
func SessionAnchor(sessionID string) coordinate.Coordinate {
	return coordinate.Coordinate{
		Pillar: "PL1",
		Sector: "simulation",
		Branch: sessionID,
		Node:   "anchor",
	}
}

// ─────────────────────────────────────────────────────────────────
// Shared stage helpers
// ─────────────────────────────────────────────────────────────────

// queryOf extracts the working query: the current payload's, falling back
// to the state accumulator's original.
func queryOf(in *Input) string {
	if q, ok := in.Payload["query"].(string); ok && q != "" {
		return q
	}
	if q, ok := in.State["orig_query"].(string); ok {
		return q
	}
	return ""
}

// axesOf returns the analysis axes stage 1 recorded, if any.
func axesOf(state map[string]any) []string {
	switch v := state["axes"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stateString(state map[string]any, key string) string {
	s, _ := state[key].(string)
	return s
}

func stateFloat(state map[string]any, key string) (float64, bool) {
	switch v := state[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func stateInt(state map[string]any, key string) int {
	f, _ := stateFloat(state, key)
	return int(f)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// containsAny reports whether s (lowercased) contains any of the terms.
func containsAny(s string, terms []string) bool {
	ls := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(ls, t) {
			return true
		}
	}
	return false
}

// matchingTerms returns the subset of terms present in s (lowercased).
func matchingTerms(s string, terms []string) []string {
	ls := strings.ToLower(s)
	var hits []string
	for _, t := range terms {
		if strings.Contains(ls, t) {
			hits = append(hits, t)
		}
	}
	return hits
}

// shortID returns the first uuid segment, enough to label teams and traces.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// lastPatchKind reads the kind of the most recent mutation on a cell, so
// patch refs report create vs edit accurately on upserting writes.
func lastPatchKind(cell *memory.Cell) memory.PatchKind {
	if len(cell.PatchHistory) == 0 {
		return memory.PatchKindEdit
	}
	return cell.PatchHistory[len(cell.PatchHistory)-1].Kind
}
