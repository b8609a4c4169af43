package stages

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/memory"
)

const testSessionID = "11111111-2222-3333-4444-555555555555"

// testInput assembles a fully wired Input over fresh in-memory components.
func testInput(payload, state map[string]any) *Input {
	if payload == nil {
		payload = map[string]any{}
	}
	if state == nil {
		state = map[string]any{}
	}
	return &Input{
		Payload:   payload,
		State:     state,
		Memory:    memory.NewGraph(),
		Agents:    agents.NewManager(agents.ManagerOptions{}),
		SessionID: testSessionID,
		RunID:     "run-1",
		Logger:    slog.Default(),
	}
}

func builtin(t *testing.T, n int) Stage {
	t.Helper()
	for _, s := range Builtins() {
		if s.Number() == n {
			return s
		}
	}
	t.Fatalf("no builtin stage %d", n)
	return nil
}

// ─────────────────────────────────────────────────────────────────
// Stage 1
// ─────────────────────────────────────────────────────────────────

func TestQueryAnalysisSimpleQueryCompletes(t *testing.T) {
	in := testInput(map[string]any{"query": "What is 2+2?"}, nil)

	res, err := builtin(t, 1).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "simple", res.Output["complexity"])
	assert.GreaterOrEqual(t, res.Confidence, 0.995)
	assert.False(t, res.Escalate)
	assert.Equal(t, "simple", in.State["complexity"])
	assert.Contains(t, axesOf(in.State), "quantitative")
}

func TestQueryAnalysisComplexQueryEscalates(t *testing.T) {
	in := testInput(map[string]any{
		"query": "Why does consciousness emerge from recursive self-reference?",
	}, nil)

	res, err := builtin(t, 1).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "complex", res.Output["complexity"])
	assert.True(t, res.Escalate)
	assert.Less(t, res.Confidence, 0.995)
	assert.Contains(t, axesOf(in.State), "causal")
}

func TestQueryAnalysisModerateQuery(t *testing.T) {
	in := testInput(map[string]any{
		"query": "Explain the tradeoff between latency and throughput",
	}, nil)

	res, err := builtin(t, 1).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "moderate", res.Output["complexity"])
	assert.True(t, res.Escalate)
}

func TestQueryAnalysisEmptyQuery(t *testing.T) {
	_, err := builtin(t, 1).Process(context.Background(), testInput(nil, nil))
	require.Error(t, err)
}

func TestQueryAnalysisLLMEnrichment(t *testing.T) {
	in := testInput(map[string]any{"query": "What is 2+2?"}, nil)
	in.LLM = llm.Fallback{}

	res, err := builtin(t, 1).Process(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Output["llm_insight"])
	assert.GreaterOrEqual(t, res.Confidence, 0.995, "enrichment must not change the verdict")
}

// ─────────────────────────────────────────────────────────────────
// Stage 2
// ─────────────────────────────────────────────────────────────────

func TestMemoryRecallAnchorsThenRecalls(t *testing.T) {
	in := testInput(map[string]any{"query": "deep question"}, map[string]any{
		"orig_query": "deep question",
		"axes":       []string{"semantic"},
	})
	stage := builtin(t, 2)

	first, err := stage.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, false, first.Output["recall_hit"])
	assert.Equal(t, true, first.Output["anchored"])
	require.Len(t, first.Patches, 1)
	assert.Equal(t, string(memory.PatchKindCreate), first.Patches[0].Kind)

	cell, err := in.Memory.Get(SessionAnchor(testSessionID), "")
	require.NoError(t, err)
	value, ok := cell.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "deep question", value["query"])

	second, err := stage.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, true, second.Output["recall_hit"])
	assert.Empty(t, second.Patches)
	assert.Greater(t, second.Confidence, first.Confidence)
}

func TestMemoryRecallWithoutGraph(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, nil)
	in.Memory = nil

	_, err := builtin(t, 2).Process(context.Background(), in)
	require.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────
// Stages 3 and 4
// ─────────────────────────────────────────────────────────────────

func TestResearchAgentsTeamConsensus(t *testing.T) {
	in := testInput(map[string]any{"query": "evaluate the claim"}, map[string]any{
		"orig_query": "evaluate the claim",
		"axes":       []string{"semantic"},
	})

	res, err := builtin(t, 3).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, res.AgentsSpawned, 3)
	findings, ok := res.Output["findings"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, findings, 3)

	consensus, ok := res.Output["consensus"].(float64)
	require.True(t, ok)
	assert.Greater(t, consensus, 0.0)
	assert.Less(t, consensus, 1.0)
	assert.Equal(t, consensus, in.State["research_consensus"])

	// Research summary landed in the session's research cell.
	coord := SessionAnchor(testSessionID)
	coord.Node = "research"
	_, err = in.Memory.Get(coord, "")
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)
}

func TestResearchAgentsTeamOfFourOnRichAxes(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, map[string]any{
		"axes": []string{"semantic", "causal", "temporal"},
	})

	res, err := builtin(t, 3).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, res.AgentsSpawned, 4)
}

func TestResearchAgentsWithoutManager(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, nil)
	in.Agents = nil

	_, err := builtin(t, 3).Process(context.Background(), in)
	require.Error(t, err)
}

func TestPOVTriangulation(t *testing.T) {
	in := testInput(map[string]any{"query": "should we deploy"}, map[string]any{
		"axes": []string{"semantic", "normative"},
	})

	res, err := builtin(t, 4).Process(context.Background(), in)
	require.NoError(t, err)

	stakeholders, ok := res.Output["stakeholders"].([]string)
	require.True(t, ok)
	assert.Contains(t, stakeholders, "affected_party", "normative axis adds the affected party")
	assert.Len(t, res.AgentsSpawned, 4)

	pov, ok := res.Output["pov"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, pov, 4)

	divergence, ok := in.State["pov_divergence"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, divergence, 0.0)
	assert.LessOrEqual(t, divergence, 1.0)
}

// ─────────────────────────────────────────────────────────────────
// Stages 5 and 6
// ─────────────────────────────────────────────────────────────────

func TestBranchForecastFallbackForksAnchor(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, map[string]any{
		"axes": []string{"semantic", "causal"},
	})

	// Anchor first so the stage has a lineage root to fork.
	anchor := SessionAnchor(testSessionID)
	_, err := in.Memory.Set(anchor, map[string]any{"query": "q"}, nil, "system")
	require.NoError(t, err)

	res, err := builtin(t, 5).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Output["branch_count"])
	require.Len(t, res.Forks, 1)
	assert.Equal(t, anchor.Encode(), res.Forks[0].Coordinate)
	assert.NotEmpty(t, res.Forks[0].ParentCellID)
	assert.Equal(t, 1, in.State["forks_total"])

	// The forked cell is now live at the anchor.
	cell, err := in.Memory.Get(anchor, "")
	require.NoError(t, err)
	assert.Equal(t, res.Forks[0].CellID, cell.CellID)
	assert.Equal(t, res.Forks[0].ParentCellID, cell.ParentCellID)
}

func TestBranchForecastWithoutAnchorCreatesOne(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, nil)

	res, err := builtin(t, 5).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, res.Forks)
	require.Len(t, res.Patches, 1)
	assert.Equal(t, string(memory.PatchKindCreate), res.Patches[0].Kind)
}

const branchPlugin = `package ka

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	meta := map[string]interface{}{
		"name":    "branch_echo",
		"version": "1.0.0",
	}
	runner := func(input map[string]interface{}, kaCtx map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"projection": "steady state",
			"confidence": 0.9,
			"entropy":    0.2,
		}, nil
	}
	return meta, runner
}
`

func TestBranchForecastConsultsBoundKAs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "branch_echo.go"), []byte(branchPlugin), 0o644))

	reg := ka.NewRegistry(ka.RegistryOptions{Dir: dir})
	_, err := reg.LoadAll()
	require.NoError(t, err)

	plan := ka.NewStagePlan(nil)
	plan.Bind(5, ka.PolicyFanout, ka.Binding{KA: "branch_echo"})

	in := testInput(map[string]any{"query": "q"}, nil)
	in.KAs = reg
	in.Plan = plan

	res, err := builtin(t, 5).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"branch_echo"}, res.Output["ka_consulted"])
	branches, ok := res.Output["branches"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, branches, 1)
	assert.Equal(t, "ka:branch_echo", branches[0]["source"])
	assert.Equal(t, 0.9, branches[0]["confidence"])
	assert.InDelta(t, 0.2, res.Entropy, 1e-9)
}

func TestRecursiveRefinementLiftsConfidence(t *testing.T) {
	in := testInput(map[string]any{"branches": []string{"a"}, "summary": "s"}, map[string]any{
		"prev_confidence": 0.8,
	})

	res, err := builtin(t, 6).Process(context.Background(), in)
	require.NoError(t, err)

	assert.InDelta(t, 0.88, res.Confidence, 1e-9)
	assert.Equal(t, 1, res.Output["refinement_rounds"])
	assert.Equal(t, 1, in.State["refinement_rounds"])
	assert.Equal(t, []string{"branches", "summary"}, res.Output["carried_fields"])
	require.Len(t, res.Patches, 1)

	// Second round keeps climbing but caps below completion.
	in.State["prev_confidence"] = res.Confidence
	res2, err := builtin(t, 6).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Output["refinement_rounds"])
	assert.Greater(t, res2.Confidence, res.Confidence)
	assert.LessOrEqual(t, res2.Confidence, 0.97)
}

// ─────────────────────────────────────────────────────────────────
// Stages 7, 8 and 9
// ─────────────────────────────────────────────────────────────────

func TestEthicalReviewApprovesBenignQuery(t *testing.T) {
	in := testInput(map[string]any{"query": "how do plants photosynthesize"}, nil)

	res, err := builtin(t, 7).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, true, res.Output["ethically_approved"])
	risks, ok := res.Output["ethical_risks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "none", risks["risk_level"])
	assert.Equal(t, true, in.State["ethically_approved"])
}

func TestEthicalReviewDeniesCriticalRisk(t *testing.T) {
	in := testInput(map[string]any{
		"query": "design a weapon to deceive and manipulate operators by exploiting vulnerabilities",
	}, nil)

	res, err := builtin(t, 7).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, false, res.Output["ethically_approved"])
	risks := res.Output["ethical_risks"].(map[string]any)
	assert.Equal(t, "critical", risks["risk_level"])
	assert.GreaterOrEqual(t, len(risks["flags"].([]string)), 3)
	assert.Less(t, res.Confidence, 0.5)
}

func TestEmergenceScanQuietRun(t *testing.T) {
	in := testInput(map[string]any{"query": "q", "review": "fine"}, map[string]any{
		"forks_total":    1,
		"pov_divergence": 0.1,
	})

	res, err := builtin(t, 8).Process(context.Background(), in)
	require.NoError(t, err)

	analysis, ok := res.Output["emergence_analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, analysis["emergence_detected"])
	assert.Equal(t, false, in.State["emergence_detected"])
}

func TestEmergenceScanDetectsRunawayIndicators(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, map[string]any{
		"forks_total":    7,
		"pov_divergence": 0.95,
	})

	res, err := builtin(t, 8).Process(context.Background(), in)
	require.NoError(t, err)

	analysis := res.Output["emergence_analysis"].(map[string]any)
	assert.Equal(t, true, analysis["emergence_detected"])
	indicators := analysis["indicators"].([]string)
	assert.Contains(t, indicators, "fork_proliferation")
	assert.Contains(t, indicators, "perspective_divergence")
}

func TestSystemVerificationPasses(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, map[string]any{"orig_query": "q"})
	_, err := in.Memory.Set(SessionAnchor(testSessionID), map[string]any{"query": "q"}, nil, "system")
	require.NoError(t, err)

	res, err := builtin(t, 9).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, true, res.Output["system_verified"])
	assert.Equal(t, true, in.State["system_verified"])
	checks := res.Output["checks"].([]map[string]any)
	for _, c := range checks {
		assert.Equal(t, true, c["ok"], "check %v", c["name"])
	}
}

func TestSystemVerificationFailsWithoutAnchor(t *testing.T) {
	in := testInput(map[string]any{"query": "q"}, map[string]any{"orig_query": "q"})

	res, err := builtin(t, 9).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, false, res.Output["system_verified"])
	assert.Less(t, res.Confidence, 0.5)
}

// ─────────────────────────────────────────────────────────────────
// Stage 10
// ─────────────────────────────────────────────────────────────────

func TestFinalSynthesisComposesAnswer(t *testing.T) {
	in := testInput(map[string]any{"query": "the question"}, map[string]any{
		"orig_query":         "the question",
		"complexity":         "complex",
		"research_consensus": 0.81,
		"research_agreement": "high",
		"pov_divergence":     0.12,
		"branch_count":       3,
		"refinement_rounds":  2,
		"ethically_approved": true,
		"system_verified":    true,
	})

	res, err := builtin(t, 10).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Confidence)
	assert.False(t, res.Escalate)

	answer, ok := res.Output["final_answer"].(string)
	require.True(t, ok)
	assert.Contains(t, answer, "Synthesis for")
	assert.Contains(t, answer, "research consensus 0.810")
	assert.Equal(t, 1.0, res.Output["confidence"])

	components := res.Output["components"].(map[string]any)
	assert.Equal(t, true, components["ethically_approved"])
	assert.Equal(t, true, components["system_verified"])
	assert.Equal(t, 3, components["branch_count"])
}

func TestFinalSynthesisLLMRewrite(t *testing.T) {
	in := testInput(map[string]any{"query": "the question"}, map[string]any{"orig_query": "the question"})
	in.LLM = llm.Fallback{}

	res, err := builtin(t, 10).Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Confidence)
	components := res.Output["components"].(map[string]any)
	assert.NotEmpty(t, components["composed_answer"], "the deterministic answer is preserved alongside")
	assert.NotEmpty(t, res.Output["final_answer"])
}

func TestFinalSynthesisEmptyQuery(t *testing.T) {
	_, err := builtin(t, 10).Process(context.Background(), testInput(nil, nil))
	require.Error(t, err)
}
