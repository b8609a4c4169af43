package stages

import (
	"fmt"
	"sort"
	"sync"
)

// MaxStageNumber is the highest stage the pipeline recognizes.
const MaxStageNumber = 10

// Registry maps stage numbers to implementations. The executor resolves
// stages through it; a missing number is skipped with a warning rather than
// failing the run.
type Registry struct {
	mu     sync.RWMutex
	stages map[int]Stage
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[int]Stage)}
}

// NewDefaultRegistry returns a Registry preloaded with the ten built-in
// stages.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range Builtins() {
		// Built-in numbers are disjoint; Register cannot fail here.
		_ = r.Register(s)
	}
	return r
}

// Register adds a stage. Numbers outside 1..MaxStageNumber and duplicate
// registrations are rejected.
func (r *Registry) Register(s Stage) error {
	if s == nil {
		return fmt.Errorf("stage is nil")
	}
	n := s.Number()
	if n < 1 || n > MaxStageNumber {
		return fmt.Errorf("stage number %d out of range 1..%d", n, MaxStageNumber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.stages[n]; ok {
		return fmt.Errorf("stage %d already registered as %q", n, existing.Name())
	}
	r.stages[n] = s
	return nil
}

// Replace swaps the stage at its number regardless of prior registration.
// Used by tests and by deployments that override a single built-in.
func (r *Registry) Replace(s Stage) error {
	if s == nil {
		return fmt.Errorf("stage is nil")
	}
	n := s.Number()
	if n < 1 || n > MaxStageNumber {
		return fmt.Errorf("stage number %d out of range 1..%d", n, MaxStageNumber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[n] = s
	return nil
}

// Get resolves a stage by number.
func (r *Registry) Get(n int) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[n]
	return s, ok
}

// List returns all registered stages in ascending number order.
func (r *Registry) List() []Stage {
	r.mu.RLock()
	out := make([]Stage, 0, len(r.stages))
	for _, s := range r.stages {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number() < out[j].Number() })
	return out
}

// Max returns the highest registered stage number, or 0 when empty.
func (r *Registry) Max() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for n := range r.stages {
		if n > max {
			max = n
		}
	}
	return max
}
