package ka

import (
	"context"
	"sort"
	"sync"
)

// Policy decides how a stage's bound KAs are dispatched.
type Policy string

const (
	// PolicyPriority tries bindings highest priority first and accepts the
	// first success.
	PolicyPriority Policy = "priority"
	// PolicyFanout runs every binding in parallel; the stage aggregates.
	PolicyFanout Policy = "fanout"
)

// Binding attaches one KA to a stage with a dispatch priority.
type Binding struct {
	KA       string `json:"ka" yaml:"ka"`
	Priority int    `json:"priority" yaml:"priority"`
}

// PlanEntry is the config-facing shape of one stage's bindings.
type PlanEntry struct {
	Stage    int       `json:"stage" yaml:"stage"`
	Policy   Policy    `json:"policy" yaml:"policy"`
	Bindings []Binding `json:"kas" yaml:"kas"`
}

// StagePlan maps stage numbers to ordered KA bindings. The executor and
// stage processors consult this table, never the registry directly, to
// decide which KAs a stage may invoke.
type StagePlan struct {
	mu       sync.RWMutex
	bindings map[int][]Binding
	policies map[int]Policy
}

// NewStagePlan builds a plan from config entries. Bindings are stored in
// descending priority order; ties keep config order.
func NewStagePlan(entries []PlanEntry) *StagePlan {
	plan := &StagePlan{
		bindings: make(map[int][]Binding),
		policies: make(map[int]Policy),
	}
	for _, entry := range entries {
		plan.Bind(entry.Stage, entry.Policy, entry.Bindings...)
	}
	return plan
}

// Bind replaces the bindings for one stage.
func (p *StagePlan) Bind(stage int, policy Policy, bindings ...Binding) {
	ordered := append([]Binding(nil), bindings...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	if policy != PolicyFanout {
		policy = PolicyPriority
	}
	p.mu.Lock()
	p.bindings[stage] = ordered
	p.policies[stage] = policy
	p.mu.Unlock()
}

// BindingsFor returns the stage's bindings, highest priority first.
func (p *StagePlan) BindingsFor(stage int) []Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Binding(nil), p.bindings[stage]...)
}

// PolicyFor returns the stage's dispatch policy, defaulting to priority.
func (p *StagePlan) PolicyFor(stage int) Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if policy, ok := p.policies[stage]; ok {
		return policy
	}
	return PolicyPriority
}

// Stages returns the stage numbers that have bindings, sorted.
func (p *StagePlan) Stages() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stages := make([]int, 0, len(p.bindings))
	for stage := range p.bindings {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	return stages
}

// RunStage dispatches the stage's bound KAs against the registry under the
// stage's policy. Priority policy returns a single winning result, or every
// failed attempt when nothing succeeded. Fanout returns all results in
// binding order. A stage without bindings returns nil.
func (p *StagePlan) RunStage(ctx context.Context, reg *Registry, stage int, input, kaCtx map[string]any) []*Result {
	bindings := p.BindingsFor(stage)
	if len(bindings) == 0 {
		return nil
	}

	if p.PolicyFor(stage) == PolicyFanout {
		results := make([]*Result, len(bindings))
		var wg sync.WaitGroup
		for i, b := range bindings {
			wg.Add(1)
			go func(idx int, name string) {
				defer wg.Done()
				results[idx] = reg.Call(ctx, name, input, kaCtx)
			}(i, b.KA)
		}
		wg.Wait()
		return results
	}

	var failures []*Result
	for _, b := range bindings {
		res := reg.Call(ctx, b.KA, input, kaCtx)
		if res.Output != nil {
			return []*Result{res}
		}
		failures = append(failures, res)
	}
	return failures
}
