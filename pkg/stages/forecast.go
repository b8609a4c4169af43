package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/models"
)

// ─────────────────────────────────────────────────────────────────
// Stage 5 — branch_forecast
// ─────────────────────────────────────────────────────────────────

// BranchForecast consults the knowledge algorithms bound to stage 5 and
// projects alternative branches from their outputs; with no KA bound it
// falls back to one rule-based branch per analysis axis. The branch set is
// forked onto the session anchor so the lineage records the divergence
// point.
type BranchForecast struct {
	meta
}

func (s *BranchForecast) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	var kaResults []*ka.Result
	if in.Plan != nil && in.KAs != nil {
		kaResults = in.Plan.RunStage(ctx, in.KAs, s.number, in.Payload, map[string]any{
			"stage":      s.number,
			"session_id": in.SessionID,
			"axes":       axesOf(in.State),
		})
	}

	branches := make([]map[string]any, 0, len(kaResults))
	kaNames := make([]string, 0, len(kaResults))
	var confSum, entropySum float64
	succeeded := 0
	for _, r := range kaResults {
		kaNames = append(kaNames, r.KA)
		if r.Output == nil {
			continue
		}
		branches = append(branches, map[string]any{
			"source":     "ka:" + r.KA,
			"projection": r.Output,
			"confidence": r.Confidence,
		})
		confSum += r.Confidence
		entropySum += r.Entropy
		succeeded++
	}

	if len(branches) == 0 {
		axes := axesOf(in.State)
		if len(axes) == 0 {
			axes = []string{"semantic"}
		}
		if len(axes) > 3 {
			axes = axes[:3]
		}
		for i, axis := range axes {
			branches = append(branches, map[string]any{
				"branch_id":            fmt.Sprintf("b%d", i+1),
				"premise":              "projection along the " + axis + " axis",
				"projected_confidence": 0.6 + 0.1*float64(i),
			})
		}
	}

	confidence, entropy := 0.8, 0.45
	if succeeded > 0 {
		confidence = clamp(0.72+0.2*(confSum/float64(succeeded)), 0.1, 0.97)
		entropy = clamp(entropySum/float64(succeeded), 0.05, 0.9)
	}

	var forks []models.ForkRef
	var patches []models.PatchRef
	if in.Memory != nil {
		anchor := SessionAnchor(in.SessionID)
		forkValue := map[string]any{
			"branches": branches,
			"stage":    s.number,
		}
		cell, ferr := in.Memory.Fork(anchor, forkValue, map[string]any{
			"persona": "forecast",
			"stage":   s.number,
		}, "branch_forecast")
		switch {
		case ferr == nil:
			forks = append(forks, models.ForkRef{
				Coordinate:   anchor.Encode(),
				CellID:       cell.CellID,
				ParentCellID: cell.ParentCellID,
				Reason:       "branch_forecast",
			})
		case errors.Is(ferr, memory.ErrNotFound):
			// Step-mode runs can reach stage 5 without an anchor; create
			// one instead of forking.
			created, serr := in.Memory.Set(anchor, forkValue, map[string]any{
				"persona": "forecast",
				"stage":   s.number,
			}, "forecast")
			if serr == nil {
				patches = append(patches, models.PatchRef{
					Coordinate: anchor.Encode(),
					CellID:     created.CellID,
					Kind:       string(memory.PatchKindCreate),
					Persona:    "forecast",
				})
			}
		default:
			if in.Logger != nil {
				in.Logger.Warn("Branch fork failed", "error", ferr)
			}
		}
	}

	in.State["branch_count"] = len(branches)
	in.State["forks_total"] = stateInt(in.State, "forks_total") + len(forks)

	return &models.StageResult{
		Output: map[string]any{
			"branches":     branches,
			"branch_count": len(branches),
			"ka_consulted": kaNames,
		},
		Confidence: confidence,
		Escalate:   true,
		Entropy:    entropy,
		Patches:    patches,
		Forks:      forks,
		Trace: map[string]any{
			"branch_count": len(branches),
			"ka_consulted": kaNames,
		},
	}, nil
}

// ─────────────────────────────────────────────────────────────────
// Stage 6 — recursive_refinement
// ─────────────────────────────────────────────────────────────────

// RecursiveRefinement folds the prior stage's output into a tighter
// summary, lifting confidence by a fixed step over the previous stage's
// score. Each pass drops entropy and bumps the refinement round counter.
type RecursiveRefinement struct {
	meta
}

func (s *RecursiveRefinement) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	prev, ok := stateFloat(in.State, "prev_confidence")
	if !ok {
		prev = 0.7
	}
	rounds := stateInt(in.State, "refinement_rounds") + 1
	in.State["refinement_rounds"] = rounds

	carried := make([]string, 0, len(in.Payload))
	for k := range in.Payload {
		carried = append(carried, k)
	}
	sort.Strings(carried)

	confidence := clamp(prev+0.08, 0.1, 0.97)
	refined := fmt.Sprintf("refinement round %d over %d carried fields (confidence %.3f -> %.3f)",
		rounds, len(carried), prev, confidence)

	var patches []models.PatchRef
	if in.Memory != nil {
		coord := SessionAnchor(in.SessionID)
		coord.Node = "refined"
		cell, werr := in.Memory.Patch(coord, map[string]any{
			"summary": refined,
			"round":   rounds,
		}, map[string]any{"persona": "refinement", "stage": s.number}, "refinement")
		if werr != nil {
			if in.Logger != nil {
				in.Logger.Warn("Refinement cell patch failed", "error", werr)
			}
		} else {
			patches = append(patches, models.PatchRef{
				Coordinate: coord.Encode(),
				CellID:     cell.CellID,
				Kind:       string(lastPatchKind(cell)),
				Persona:    "refinement",
			})
		}
	}

	return &models.StageResult{
		Output: map[string]any{
			"refined_summary":   refined,
			"refinement_rounds": rounds,
			"confidence_delta":  confidence - prev,
			"carried_fields":    carried,
		},
		Confidence: confidence,
		Escalate:   true,
		Entropy:    clamp(0.4-0.05*float64(rounds), 0.05, 0.4),
		Patches:    patches,
		Trace: map[string]any{
			"round": rounds,
			"delta": confidence - prev,
		},
	}, nil
}
