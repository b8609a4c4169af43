package stages

import (
	"context"
	"fmt"

	"github.com/strata-sim/strata/pkg/models"
)

// ─────────────────────────────────────────────────────────────────
// Stage 3 — research_agents
// ─────────────────────────────────────────────────────────────────

// ResearchAgents spawns a research team of three or four persona agents,
// runs them against the query in parallel and folds their consensus into
// the session's research cell.
type ResearchAgents struct {
	meta
}

func (s *ResearchAgents) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	if in.Agents == nil {
		return nil, fmt.Errorf("research_agents: agent manager unavailable")
	}
	query := queryOf(in)
	if query == "" {
		return nil, fmt.Errorf("research_agents: no query to research")
	}

	axes := axesOf(in.State)
	count := 3
	if len(axes) >= 3 {
		count = 4
	}

	ids := in.Agents.SpawnResearch(count, axes, map[string]any{"session_id": in.SessionID}, nil)
	teamID, err := in.Agents.CreateTeam(ids, "research-"+shortID(in.SessionID))
	if err != nil {
		return nil, fmt.Errorf("research_agents: %w", err)
	}

	tr, err := in.Agents.RunTeam(ctx, teamID, query, map[string]any{"stage": s.number})
	if err != nil {
		return nil, fmt.Errorf("research_agents: %w", err)
	}

	findings := make([]map[string]any, 0, len(tr.AgentResults))
	for _, r := range tr.AgentResults {
		findings = append(findings, map[string]any{
			"agent_id":   r.AgentID,
			"persona":    r.Persona,
			"finding":    r.Finding,
			"confidence": r.Confidence,
		})
	}

	in.State["research_consensus"] = tr.Consensus
	in.State["research_agreement"] = tr.Agreement

	output := map[string]any{
		"findings":    findings,
		"consensus":   tr.Consensus,
		"strength":    tr.Strength,
		"agreement":   tr.Agreement,
		"team_id":     teamID,
		"agent_count": len(ids),
	}

	var patches []models.PatchRef
	if in.Memory != nil {
		coord := SessionAnchor(in.SessionID)
		coord.Node = "research"
		cell, werr := in.Memory.Patch(coord, map[string]any{
			"consensus": tr.Consensus,
			"agreement": tr.Agreement,
			"findings":  len(findings),
		}, map[string]any{"persona": "research", "stage": s.number}, "research")
		if werr != nil {
			if in.Logger != nil {
				in.Logger.Warn("Research cell patch failed", "error", werr)
			}
		} else {
			patches = append(patches, models.PatchRef{
				Coordinate: coord.Encode(),
				CellID:     cell.CellID,
				Kind:       string(lastPatchKind(cell)),
				Persona:    "research",
			})
		}
	}

	return &models.StageResult{
		Output:        output,
		Confidence:    clamp(tr.Consensus+0.05*tr.Strength, 0.1, 0.99),
		Escalate:      true,
		Entropy:       clamp(1-tr.Strength, 0.05, 0.9),
		Patches:       patches,
		AgentsSpawned: ids,
		Trace: map[string]any{
			"team_id":   teamID,
			"consensus": tr.Consensus,
			"failed":    tr.Failed,
		},
	}, nil
}

// ─────────────────────────────────────────────────────────────────
// Stage 4 — pov_triangulation
// ─────────────────────────────────────────────────────────────────

// POVTriangulation spawns stakeholder point-of-view agents and measures how
// far their readings diverge. High divergence raises entropy for the
// forecast stage; the divergence score itself lands in the accumulator.
type POVTriangulation struct {
	meta
}

func (s *POVTriangulation) Process(ctx context.Context, in *Input) (*models.StageResult, error) {
	if in.Agents == nil {
		return nil, fmt.Errorf("pov_triangulation: agent manager unavailable")
	}
	query := queryOf(in)
	if query == "" {
		return nil, fmt.Errorf("pov_triangulation: no query to triangulate")
	}

	axes := axesOf(in.State)
	stakeholders := []string{"proponent", "critic", "operator"}
	for _, axis := range axes {
		if axis == "normative" {
			stakeholders = append(stakeholders, "affected_party")
			break
		}
	}

	ids := in.Agents.SpawnPOV(stakeholders, axes, map[string]any{"session_id": in.SessionID})
	teamID, err := in.Agents.CreateTeam(ids, "pov-"+shortID(in.SessionID))
	if err != nil {
		return nil, fmt.Errorf("pov_triangulation: %w", err)
	}

	tr, err := in.Agents.RunTeam(ctx, teamID, query, map[string]any{"stage": s.number})
	if err != nil {
		return nil, fmt.Errorf("pov_triangulation: %w", err)
	}

	pov := make(map[string]any, len(tr.AgentResults))
	for _, r := range tr.AgentResults {
		pov[r.Persona] = map[string]any{
			"finding":    r.Finding,
			"confidence": r.Confidence,
		}
	}

	divergence := clamp(1-tr.Strength, 0, 1)
	in.State["pov_divergence"] = divergence

	output := map[string]any{
		"pov":          pov,
		"divergence":   divergence,
		"agreement":    tr.Agreement,
		"stakeholders": stakeholders,
	}

	return &models.StageResult{
		Output:        output,
		Confidence:    clamp(0.6+0.3*tr.Strength, 0.1, 0.99),
		Escalate:      true,
		Entropy:       clamp(divergence, 0.05, 0.9),
		AgentsSpawned: ids,
		Trace: map[string]any{
			"team_id":    teamID,
			"divergence": divergence,
		},
	}, nil
}
