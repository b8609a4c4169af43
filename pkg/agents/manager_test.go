package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/audit"
)

func TestSpawnResearchCyclesPersonaPool(t *testing.T) {
	m := NewManager(ManagerOptions{})

	ids := m.SpawnResearch(8, []string{"technical", "ethical"}, nil, []string{"quantum", "policy"})
	require.Len(t, ids, 8)

	pool := PersonaPool()
	for i, id := range ids {
		agent, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, pool[i%len(pool)], agent.Persona, "agent %d cycles the pool", i)
		assert.Equal(t, RoleResearch, agent.Role)
		assert.True(t, agent.Active)
		assert.Equal(t, []string{"technical", "ethical"}, agent.Axes)
	}

	first, _ := m.Get(ids[0])
	second, _ := m.Get(ids[1])
	third, _ := m.Get(ids[2])
	assert.Equal(t, "quantum", first.Specialization)
	assert.Equal(t, "policy", second.Specialization)
	assert.Empty(t, third.Specialization)

	assert.Empty(t, m.SpawnResearch(0, nil, nil, nil))
}

func TestSpawnPOVOnePerStakeholder(t *testing.T) {
	m := NewManager(ManagerOptions{})

	ids := m.SpawnPOV([]string{"regulator", "customer", "operator"}, []string{"risk"}, nil)
	require.Len(t, ids, 3)

	personas := make([]string, 0, 3)
	for _, id := range ids {
		agent, err := m.Get(id)
		require.NoError(t, err)
		personas = append(personas, agent.Persona)
		assert.Equal(t, RolePOV, agent.Role)
	}
	assert.Equal(t, []string{"regulator", "customer", "operator"}, personas)
}

func TestAgentProcessIsDeterministic(t *testing.T) {
	m := NewManager(ManagerOptions{})
	ids := m.SpawnResearch(2, []string{"technical"}, nil, nil)

	agent, err := m.Get(ids[0])
	require.NoError(t, err)

	first, err := agent.Process(context.Background(), "evaluate the rollout plan", nil)
	require.NoError(t, err)
	second, err := agent.Process(context.Background(), "evaluate the rollout plan", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Finding, second.Finding)
	assert.GreaterOrEqual(t, first.Confidence, 0.05)
	assert.LessOrEqual(t, first.Confidence, 0.99)

	other, err := m.Get(ids[1])
	require.NoError(t, err)
	otherResult, err := other.Process(context.Background(), "evaluate the rollout plan", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Confidence, otherResult.Confidence, "personas disagree")
}

func TestAgentProcessValidation(t *testing.T) {
	m := NewManager(ManagerOptions{})
	ids := m.SpawnResearch(1, nil, nil, nil)
	agent, err := m.Get(ids[0])
	require.NoError(t, err)

	_, err = agent.Process(context.Background(), "   ", nil)
	assert.Error(t, err)

	require.NoError(t, m.Deactivate(ids[0]))
	inactive, err := m.Get(ids[0])
	require.NoError(t, err)
	_, err = inactive.Process(context.Background(), "question", nil)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestCreateTeamValidation(t *testing.T) {
	m := NewManager(ManagerOptions{})
	ids := m.SpawnResearch(2, nil, nil, nil)

	_, err := m.CreateTeam(nil, "empty")
	assert.Error(t, err)

	_, err = m.CreateTeam([]string{ids[0], "ghost"}, "bad")
	assert.Error(t, err)

	teamID, err := m.CreateTeam(ids, "")
	require.NoError(t, err)
	assert.NotEmpty(t, teamID)
}

func TestRunTeamConsensus(t *testing.T) {
	trail := audit.New(audit.Options{})
	m := NewManager(ManagerOptions{Trail: trail})

	ids := m.SpawnResearch(4, []string{"technical", "social"}, nil, nil)
	teamID, err := m.CreateTeam(ids, "research-team")
	require.NoError(t, err)

	result, err := m.RunTeam(context.Background(), teamID, "assess distributed consensus tradeoffs", nil)
	require.NoError(t, err)

	require.Len(t, result.AgentResults, 4)
	assert.Zero(t, result.Failed)

	var sum float64
	for _, r := range result.AgentResults {
		sum += r.Confidence
	}
	mean := sum / 4
	assert.InDelta(t, mean, result.Consensus, 1e-9, "consensus is the mean confidence")

	var variance float64
	for _, r := range result.AgentResults {
		d := r.Confidence - mean
		variance += d * d
	}
	variance /= 4
	assert.InDelta(t, max(0, 1-variance), result.Strength, 1e-9)

	switch {
	case result.Consensus >= 0.8:
		assert.Equal(t, "high", result.Agreement)
	case result.Consensus >= 0.5:
		assert.Equal(t, "medium", result.Agreement)
	default:
		assert.Equal(t, "low", result.Agreement)
	}

	decisions := trail.Query(audit.Filter{EventType: audit.EventAgentDecision})
	assert.Len(t, decisions, 4)
}

func TestRunTeamElidesFailedAgents(t *testing.T) {
	m := NewManager(ManagerOptions{})
	ids := m.SpawnResearch(3, nil, nil, nil)
	teamID, err := m.CreateTeam(ids, "partial")
	require.NoError(t, err)

	require.NoError(t, m.Deactivate(ids[1]))

	result, err := m.RunTeam(context.Background(), teamID, "keep going without the middle agent", nil)
	require.NoError(t, err)
	assert.Len(t, result.AgentResults, 2)
	assert.Equal(t, 1, result.Failed)

	for _, r := range result.AgentResults {
		assert.NotEqual(t, ids[1], r.AgentID)
	}
}

func TestRunTeamErrors(t *testing.T) {
	m := NewManager(ManagerOptions{})
	_, err := m.RunTeam(context.Background(), "ghost-team", "input", nil)
	assert.Error(t, err)

	ids := m.SpawnResearch(1, nil, nil, nil)
	teamID, err := m.CreateTeam(ids, "dead")
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(ids[0]))

	_, err = m.RunTeam(context.Background(), teamID, "input", nil)
	assert.Error(t, err, "all agents elided leaves no result")
}

func TestDeactivateIdleAndCleanup(t *testing.T) {
	m := NewManager(ManagerOptions{})
	ids := m.SpawnResearch(3, nil, nil, nil)
	teamID, err := m.CreateTeam(ids, "sweep")
	require.NoError(t, err)

	// Nothing is idle yet.
	assert.Zero(t, m.DeactivateIdle(time.Minute))

	// Everything is idle against a zero threshold.
	assert.Equal(t, 3, m.DeactivateIdle(0))
	assert.Empty(t, m.ActiveAgents())

	removed := m.CleanupInactive()
	assert.Equal(t, 3, removed)

	_, err = m.Get(ids[0])
	assert.Error(t, err)
	_, err = m.RunTeam(context.Background(), teamID, "input", nil)
	assert.Error(t, err, "empty teams are dropped by cleanup")
}

func TestStats(t *testing.T) {
	m := NewManager(ManagerOptions{})
	research := m.SpawnResearch(3, nil, nil, nil)
	m.SpawnPOV([]string{"regulator"}, nil, nil)
	require.NoError(t, m.Deactivate(research[2]))
	_, err := m.CreateTeam(research[:2], "t")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 4, stats.TotalSpawned)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
	assert.Equal(t, 1, stats.Teams)
	assert.Equal(t, 1, stats.ByRole[RolePOV])
	assert.Equal(t, 2, stats.ByRole[RoleResearch])
	assert.Equal(t, 1, stats.ByPersona["analyst"])
	assert.Equal(t, 1, stats.ByPersona["regulator"])
}
