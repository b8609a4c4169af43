package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-sim/strata/pkg/audit"
	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/models"
)

// Team is an ordered group of agents that can be run as one unit.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentIDs  []string  `json:"agent_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// TeamResult aggregates one team run. Consensus is the mean confidence of
// the agents that completed; Strength is max(0, 1-variance); Agreement is
// high at >= 0.8 consensus, medium at >= 0.5, low below.
type TeamResult struct {
	TeamID       string    `json:"team_id"`
	AgentResults []*Result `json:"agent_results"`
	Consensus    float64   `json:"consensus"`
	Strength     float64   `json:"strength"`
	Agreement    string    `json:"agreement"`
	Failed       int       `json:"failed"`
}

// Manager owns every spawned agent and team. All state is in-memory under
// one mutex; agent processing itself runs outside the lock.
type Manager struct {
	mu      sync.Mutex
	agents  map[string]*Agent
	teams   map[string]*Team
	spawned int

	enrich llm.Client
	trail  *audit.Log
	logger *slog.Logger
}

// ManagerOptions configures a Manager. Both fields are optional.
type ManagerOptions struct {
	// Enrich, when set, lets agents append provider-generated context to
	// their findings.
	Enrich llm.Client
	// Trail receives agent_decision entries for every completed agent run.
	Trail *audit.Log
}

// NewManager creates an empty agent manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		agents: make(map[string]*Agent),
		teams:  make(map[string]*Team),
		enrich: opts.Enrich,
		trail:  opts.Trail,
		logger: slog.With("component", "agents"),
	}
}

// SpawnResearch creates count agents cycling through the fixed persona
// pool. Specializations, when provided, are assigned positionally.
func (m *Manager) SpawnResearch(count int, axes []string, extra map[string]any, specializations []string) []string {
	if count <= 0 {
		return nil
	}
	ids := make([]string, 0, count)
	m.mu.Lock()
	for i := range count {
		persona := personaPool[i%len(personaPool)]
		spec := ""
		if i < len(specializations) {
			spec = specializations[i]
		}
		agent := m.newAgentLocked(persona, RoleResearch, spec, axes, extra)
		ids = append(ids, agent.ID)
	}
	m.mu.Unlock()

	m.logger.Info("Research agents spawned", "count", count, "axes", axes)
	return ids
}

// SpawnPOV creates one agent per stakeholder type. The stakeholder name
// becomes the agent persona.
func (m *Manager) SpawnPOV(stakeholders []string, axes []string, extra map[string]any) []string {
	ids := make([]string, 0, len(stakeholders))
	m.mu.Lock()
	for _, stakeholder := range stakeholders {
		persona := Persona{Name: stakeholder, Bias: povBias(stakeholder), Focus: "stakeholder position"}
		agent := m.newAgentLocked(persona, RolePOV, "", axes, extra)
		ids = append(ids, agent.ID)
	}
	m.mu.Unlock()

	m.logger.Info("POV agents spawned", "stakeholders", stakeholders)
	return ids
}

// newAgentLocked builds and registers one agent. Caller holds the mutex.
func (m *Manager) newAgentLocked(persona Persona, role, specialization string, axes []string, extra map[string]any) *Agent {
	now := time.Now().UTC()
	agent := &Agent{
		ID:             uuid.New().String(),
		Persona:        persona.Name,
		Role:           role,
		Specialization: specialization,
		Axes:           append([]string(nil), axes...),
		Active:         true,
		CreatedAt:      now,
		LastActive:     now,
		bias:           persona.Bias,
		focus:          persona.Focus,
		enrich:         m.enrich,
		context:        models.CloneMap(extra),
	}
	if coord, err := coordinate.FromAny(extra["coordinate"]); err == nil {
		agent.Coordinate = coord
	}
	m.agents[agent.ID] = agent
	m.spawned++
	return agent
}

// povBias derives a small stable bias from the stakeholder name so distinct
// stakeholders score distinctly.
func povBias(stakeholder string) float64 {
	var sum int
	for _, r := range stakeholder {
		sum += int(r)
	}
	return (float64(sum%11) - 5) * 0.01
}

// CreateTeam groups existing active agents under one team id.
func (m *Manager) CreateTeam(agentIDs []string, name string) (string, error) {
	if len(agentIDs) == 0 {
		return "", fmt.Errorf("team needs at least one agent")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range agentIDs {
		if _, ok := m.agents[id]; !ok {
			return "", fmt.Errorf("unknown agent %s", id)
		}
	}
	team := &Team{
		ID:        uuid.New().String(),
		Name:      name,
		AgentIDs:  append([]string(nil), agentIDs...),
		CreatedAt: time.Now().UTC(),
	}
	if team.Name == "" {
		team.Name = fmt.Sprintf("team-%d", len(m.teams)+1)
	}
	m.teams[team.ID] = team
	return team.ID, nil
}

// RunTeam fans the input out to every team member in parallel and
// aggregates the findings. A failing agent is logged and elided; the team
// completes on the survivors. It fails only when the team is unknown or no
// agent produced a result.
func (m *Manager) RunTeam(ctx context.Context, teamID, input string, extra map[string]any) (*TeamResult, error) {
	m.mu.Lock()
	team, ok := m.teams[teamID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown team %s", teamID)
	}
	// Snapshot member clones so Process never races concurrent
	// activation changes.
	members := make([]*Agent, 0, len(team.AgentIDs))
	for _, id := range team.AgentIDs {
		if agent, ok := m.agents[id]; ok {
			clone := *agent
			clone.Axes = append([]string(nil), agent.Axes...)
			members = append(members, &clone)
		}
	}
	m.mu.Unlock()

	type indexed struct {
		idx    int
		result *Result
		err    error
	}
	results := make(chan indexed, len(members))
	var wg sync.WaitGroup
	for i, agent := range members {
		wg.Add(1)
		go func(idx int, a *Agent) {
			defer wg.Done()
			res, err := a.Process(ctx, input, extra)
			results <- indexed{idx: idx, result: res, err: err}
		}(i, agent)
	}
	wg.Wait()
	close(results)

	ordered := make([]*Result, len(members))
	failed := 0
	for item := range results {
		if item.err != nil {
			failed++
			m.logger.Warn("Agent elided from team result",
				"team_id", teamID,
				"agent_id", members[item.idx].ID,
				"error", item.err)
			continue
		}
		ordered[item.idx] = item.result
	}

	now := time.Now().UTC()
	completed := make([]*Result, 0, len(members))
	m.mu.Lock()
	for i, res := range ordered {
		if res == nil {
			continue
		}
		completed = append(completed, res)
		if agent, ok := m.agents[members[i].ID]; ok {
			agent.LastActive = now
		}
	}
	m.mu.Unlock()

	if len(completed) == 0 {
		return nil, fmt.Errorf("team %s produced no results", teamID)
	}

	consensus, strength := consensusOf(completed)
	teamResult := &TeamResult{
		TeamID:       teamID,
		AgentResults: completed,
		Consensus:    consensus,
		Strength:     strength,
		Agreement:    agreementLevel(consensus),
		Failed:       failed,
	}
	m.auditDecisions(teamResult)
	return teamResult, nil
}

// consensusOf computes (mean confidence, max(0, 1-variance)).
func consensusOf(results []*Result) (float64, float64) {
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	mean := sum / float64(len(results))

	var variance float64
	for _, r := range results {
		d := r.Confidence - mean
		variance += d * d
	}
	variance /= float64(len(results))

	return mean, max(0, 1-variance)
}

func agreementLevel(consensus float64) string {
	switch {
	case consensus >= 0.8:
		return "high"
	case consensus >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// auditDecisions records one agent_decision entry per completed result.
func (m *Manager) auditDecisions(tr *TeamResult) {
	if m.trail == nil {
		return
	}
	for _, res := range tr.AgentResults {
		conf := res.Confidence
		_, err := m.trail.Log(audit.Record{
			EventType:  audit.EventAgentDecision,
			Persona:    res.Persona,
			Confidence: &conf,
			Details: map[string]any{
				"agent_id":  res.AgentID,
				"team_id":   tr.TeamID,
				"finding":   res.Finding,
				"agreement": tr.Agreement,
			},
		})
		if err != nil {
			m.logger.Warn("Failed to audit agent decision", "error", err)
		}
	}
}

// Get returns a copy of the agent.
func (m *Manager) Get(id string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("unknown agent %s", id)
	}
	clone := *agent
	clone.Axes = append([]string(nil), agent.Axes...)
	return &clone, nil
}

// Deactivate marks the agent inactive. Inactive agents fail Process and are
// removed by CleanupInactive.
func (m *Manager) Deactivate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("unknown agent %s", id)
	}
	agent.Active = false
	return nil
}

// ActiveAgents returns copies of every active agent.
func (m *Manager) ActiveAgents() []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if !agent.Active {
			continue
		}
		clone := *agent
		clone.Axes = append([]string(nil), agent.Axes...)
		out = append(out, &clone)
	}
	return out
}

// DeactivateIdle deactivates active agents whose last activity is older
// than maxIdle. It returns the number deactivated.
func (m *Manager) DeactivateIdle(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, agent := range m.agents {
		if agent.Active && agent.LastActive.Before(cutoff) {
			agent.Active = false
			n++
		}
	}
	return n
}

// CleanupInactive removes deactivated agents (and any teams left with no
// members). It returns the number of agents removed.
func (m *Manager) CleanupInactive() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, agent := range m.agents {
		if !agent.Active {
			delete(m.agents, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	for teamID, team := range m.teams {
		kept := team.AgentIDs[:0]
		for _, id := range team.AgentIDs {
			if _, ok := m.agents[id]; ok {
				kept = append(kept, id)
			}
		}
		team.AgentIDs = kept
		if len(kept) == 0 {
			delete(m.teams, teamID)
		}
	}
	return removed
}

// Stats summarizes manager state.
type Stats struct {
	TotalSpawned int            `json:"total_spawned"`
	Active       int            `json:"active"`
	Inactive     int            `json:"inactive"`
	Teams        int            `json:"teams"`
	ByPersona    map[string]int `json:"by_persona"`
	ByRole       map[string]int `json:"by_role"`
}

// Stats returns a snapshot of counts by persona and role.
func (m *Manager) Stats() *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{
		TotalSpawned: m.spawned,
		Teams:        len(m.teams),
		ByPersona:    make(map[string]int),
		ByRole:       make(map[string]int),
	}
	for _, agent := range m.agents {
		if agent.Active {
			stats.Active++
			stats.ByPersona[agent.Persona]++
			stats.ByRole[agent.Role]++
		} else {
			stats.Inactive++
		}
	}
	return stats
}
