// Package agents manages the persona sub-workers that stages spawn for
// research fan-out and stakeholder point-of-view triangulation, and the
// teams that aggregate their findings into a consensus.
package agents

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/llm"
)

// Persona describes one entry in the fixed research persona pool. Bias
// shifts the heuristic confidence so that different personas genuinely
// disagree about the same input.
type Persona struct {
	Name  string
	Bias  float64
	Focus string
}

// personaPool is cycled by SpawnResearch. Order matters: the first agent of
// every research team is an analyst.
var personaPool = []Persona{
	{Name: "analyst", Bias: 0.03, Focus: "structural decomposition"},
	{Name: "skeptic", Bias: -0.06, Focus: "counterevidence and failure modes"},
	{Name: "synthesizer", Bias: 0.05, Focus: "cross-domain synthesis"},
	{Name: "historian", Bias: -0.01, Focus: "precedent and prior art"},
	{Name: "futurist", Bias: 0.04, Focus: "second-order consequences"},
	{Name: "guardian", Bias: -0.04, Focus: "risk surfaces and containment"},
}

// PersonaPool returns the names of the fixed research personas in spawn
// order.
func PersonaPool() []string {
	names := make([]string, len(personaPool))
	for i, p := range personaPool {
		names[i] = p.Name
	}
	return names
}

// Roles an agent can hold.
const (
	RoleResearch = "research"
	RolePOV      = "pov"
)

// Agent is a spawned persona worker. Agents are cheap, in-memory and
// single-process; they live until deactivated and swept.
type Agent struct {
	ID             string                `json:"id"`
	Persona        string                `json:"persona"`
	Role           string                `json:"role"`
	Specialization string                `json:"specialization,omitempty"`
	Axes           []string              `json:"axes,omitempty"`
	Coordinate     coordinate.Coordinate `json:"coordinate"`
	Active         bool                  `json:"active"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActive     time.Time             `json:"last_active"`

	bias    float64
	focus   string
	enrich  llm.Client
	context map[string]any
}

// Result is one agent's finding for a single input.
type Result struct {
	AgentID    string         `json:"agent_id"`
	Persona    string         `json:"persona"`
	Role       string         `json:"role"`
	Finding    string         `json:"finding"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ErrInactive is returned by Process on a deactivated agent; RunTeam elides
// such agents from the team result.
var ErrInactive = errors.New("agent is inactive")

// Process evaluates the input from this agent's point of view. Scoring is a
// deterministic persona-weighted heuristic; when an LLM client is attached
// the finding text is enriched, but a provider failure never fails the
// agent.
func (a *Agent) Process(ctx context.Context, input string, extra map[string]any) (*Result, error) {
	if !a.Active {
		return nil, ErrInactive
	}
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("agent input is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	confidence := a.score(input, extra)
	finding := fmt.Sprintf("%s view (%s): %s", a.Persona, a.focus, summarize(input))

	metadata := map[string]any{
		"axes":     append([]string(nil), a.Axes...),
		"enriched": false,
	}
	if a.Specialization != "" {
		metadata["specialization"] = a.Specialization
	}

	if a.enrich != nil {
		resp, err := a.enrich.Generate(ctx, llm.Request{
			System:    fmt.Sprintf("You are a %s focused on %s. Answer in one short paragraph.", a.Persona, a.focus),
			Prompt:    input,
			MaxTokens: 256,
		})
		if err == nil && resp.Text != "" {
			finding = finding + " | " + resp.Text
			metadata["enriched"] = true
			metadata["model"] = resp.Model
		}
	}

	return &Result{
		AgentID:    a.ID,
		Persona:    a.Persona,
		Role:       a.Role,
		Finding:    finding,
		Confidence: confidence,
		Metadata:   metadata,
	}, nil
}

// score computes the deterministic heuristic confidence. The shape is
// base rate, persona bias, signal from axes and context coverage, a
// complexity penalty for long inputs, and a stable per-(agent,input)
// jitter so equal-bias personas still differ.
func (a *Agent) score(input string, extra map[string]any) float64 {
	confidence := 0.72 + a.bias

	words := len(strings.Fields(input))
	switch {
	case words > 120:
		confidence -= 0.08
	case words > 60:
		confidence -= 0.04
	case words < 8:
		confidence += 0.03
	}

	if n := len(a.Axes); n > 0 {
		confidence += 0.015 * float64(min(n, 4))
	}
	merged := make(map[string]any, len(a.context)+len(extra))
	for k := range a.context {
		merged[k] = struct{}{}
	}
	for k := range extra {
		merged[k] = struct{}{}
	}
	confidence += 0.01 * float64(min(len(merged), 5))

	h := fnv.New32a()
	h.Write([]byte(a.Persona))
	h.Write([]byte(input))
	confidence += (float64(h.Sum32()%9) - 4) * 0.005

	return clamp(confidence, 0.05, 0.99)
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

// summarize trims an input down to a one-line conclusion fragment.
func summarize(input string) string {
	fields := strings.Fields(input)
	if len(fields) > 24 {
		fields = fields[:24]
		return strings.Join(fields, " ") + "..."
	}
	return strings.Join(fields, " ")
}
