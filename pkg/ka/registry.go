// Package ka loads knowledge-algorithm plugins from a directory of
// interpreted Go source files and dispatches stage calls to them. Each
// plugin runs inside its own yaegi interpreter, so a broken plugin can be
// skipped (or crash at call time) without taking anything else with it.
package ka

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/strata-sim/strata/pkg/audit"
)

// Runner is the dispatch signature every plugin's Register must return.
type Runner func(input map[string]interface{}, kaCtx map[string]interface{}) (map[string]interface{}, error)

// RegisterFunc is the entry point every plugin must declare:
//
//	package ka
//	func Register() (map[string]interface{}, ...runner...)
//
// The first return is the plugin meta (must include "name"); the second is
// the runner invoked on dispatch.
type RegisterFunc func() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error))

// Result is the uniform outcome of one KA dispatch. Failed dispatches carry
// a nil Output, zero Confidence and full Entropy.
type Result struct {
	KA         string         `json:"ka"`
	Output     map[string]any `json:"output"`
	Confidence float64        `json:"confidence"`
	Entropy    float64        `json:"entropy"`
	Trace      string         `json:"trace"`
	DurationMs int64          `json:"duration_ms"`
}

// plugin is one loaded table entry.
type plugin struct {
	name   string
	path   string
	meta   map[string]any
	runner Runner
}

// Registry is the process-global plugin table. Reload rebuilds the whole
// table; callers must resolve by name on every dispatch and never hold a
// runner across calls.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	plugins map[string]*plugin

	callTimeout time.Duration
	trail       *audit.Log
	observe     func(ka string, ok bool)
	logger      *slog.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Dir is the plugin source directory.
	Dir string
	// CallTimeout bounds each dispatch; zero means the 5s default.
	CallTimeout time.Duration
	// Trail receives ka_execution_* entries. Nil disables audit logging.
	Trail *audit.Log
	// Observe, when set, is called once per dispatch with the outcome.
	// Main wires this to the ka_calls counter.
	Observe func(ka string, ok bool)
}

const defaultCallTimeout = 5 * time.Second

// NewRegistry creates an empty registry; call LoadAll to populate it.
func NewRegistry(opts RegistryOptions) *Registry {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Registry{
		dir:         opts.Dir,
		plugins:     make(map[string]*plugin),
		callTimeout: timeout,
		trail:       opts.Trail,
		observe:     opts.Observe,
		logger:      slog.With("component", "ka"),
	}
}

// LoadAll scans the plugin directory and builds a fresh table. Plugins that
// fail to evaluate or register are logged and skipped. It returns the names
// loaded, sorted.
func (r *Registry) LoadAll() ([]string, error) {
	if r.dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		r.logger.Warn("Plugin directory does not exist", "dir", r.dir)
		r.swap(make(map[string]*plugin))
		return nil, nil
	}

	paths, err := filepath.Glob(filepath.Join(r.dir, "*.go"))
	if err != nil {
		return nil, fmt.Errorf("scanning plugin directory: %w", err)
	}
	sort.Strings(paths)

	table := make(map[string]*plugin, len(paths))
	for _, path := range paths {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		p, err := loadPlugin(path)
		if err != nil {
			r.logger.Warn("Skipping plugin", "path", path, "error", err)
			continue
		}
		if prior, ok := table[p.name]; ok {
			r.logger.Warn("Duplicate plugin name, keeping first",
				"name", p.name, "kept", prior.path, "skipped", path)
			continue
		}
		table[p.name] = p
		r.logger.Info("Plugin loaded", "name", p.name, "path", path)
	}

	r.swap(table)
	return r.Names(), nil
}

// Reload is LoadAll under a different intent: it fully rebuilds the table,
// invalidating every previously resolved runner.
func (r *Registry) Reload() ([]string, error) {
	names, err := r.LoadAll()
	if err != nil {
		return nil, err
	}
	r.logger.Info("Plugin registry reloaded", "count", len(names))
	return names, nil
}

func (r *Registry) swap(table map[string]*plugin) {
	r.mu.Lock()
	r.plugins = table
	r.mu.Unlock()
}

// loadPlugin evaluates one source file in a dedicated interpreter and pulls
// out its Register entry point.
func loadPlugin(path string) (*plugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluating source: %w", err)
	}

	v, err := i.Eval("ka.Register")
	if err != nil {
		return nil, fmt.Errorf("Register entry point not found: %w", err)
	}
	register, ok := v.Interface().(func() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)))
	if !ok {
		return nil, fmt.Errorf("Register has the wrong signature")
	}

	meta, runner := register()
	if runner == nil {
		return nil, fmt.Errorf("Register returned a nil runner")
	}
	name, _ := meta["name"].(string)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".go")
	}
	return &plugin{name: name, path: path, meta: meta, runner: runner}, nil
}

// Names returns the loaded plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Meta returns the plugin's registration meta.
func (r *Registry) Meta(name string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(p.meta))
	for k, v := range p.meta {
		out[k] = v
	}
	return out, true
}

// Call dispatches one KA by name. It never fails: a missing plugin, a
// runner error, a panic or a timeout all come back as the canned crash
// result (nil output, zero confidence, full entropy).
func (r *Registry) Call(ctx context.Context, name string, input, kaCtx map[string]any) *Result {
	r.mu.RLock()
	p, ok := r.plugins[name]
	r.mu.RUnlock()

	r.auditStart(name)
	start := time.Now()

	if !ok {
		return r.failed(name, start, "plugin not loaded")
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	type outcome struct {
		out map[string]interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%v", rec)}
			}
		}()
		out, err := p.runner(input, kaCtx)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return r.failed(name, start, o.err.Error())
		}
		return r.succeeded(name, start, o.out)
	case <-ctx.Done():
		return r.failed(name, start, ctx.Err().Error())
	}
}

// succeeded shapes a runner's output map into a Result, lifting the
// well-known confidence/entropy/trace keys when the plugin provides them.
func (r *Registry) succeeded(name string, start time.Time, out map[string]any) *Result {
	res := &Result{
		KA:         name,
		Output:     out,
		Confidence: 0.5,
		Entropy:    0.5,
		Trace:      name + " completed",
		DurationMs: time.Since(start).Milliseconds(),
	}
	if c, ok := numeric(out["confidence"]); ok {
		res.Confidence = c
	}
	if e, ok := numeric(out["entropy"]); ok {
		res.Entropy = e
	}
	if t, ok := out["trace"].(string); ok && t != "" {
		res.Trace = t
	}

	r.logger.Debug("KA call succeeded", "ka", name, "confidence", res.Confidence)
	if r.observe != nil {
		r.observe(name, true)
	}
	if r.trail != nil {
		conf := res.Confidence
		if _, err := r.trail.Log(audit.Record{
			EventType:  audit.EventKAExecutionSuccess,
			Confidence: &conf,
			Details:    map[string]any{"ka": name, "duration_ms": res.DurationMs},
		}); err != nil {
			r.logger.Warn("Failed to audit KA success", "error", err)
		}
	}
	return res
}

// failed builds the canned crash result.
func (r *Registry) failed(name string, start time.Time, msg string) *Result {
	res := &Result{
		KA:         name,
		Output:     nil,
		Confidence: 0,
		Entropy:    1,
		Trace:      fmt.Sprintf("%s crashed: %s", name, msg),
		DurationMs: time.Since(start).Milliseconds(),
	}
	r.logger.Warn("KA call failed", "ka", name, "reason", msg)
	if r.observe != nil {
		r.observe(name, false)
	}
	if r.trail != nil {
		if _, err := r.trail.Log(audit.Record{
			EventType: audit.EventKAExecutionFailure,
			Details:   map[string]any{"ka": name, "trace": res.Trace},
		}); err != nil {
			r.logger.Warn("Failed to audit KA failure", "error", err)
		}
	}
	return res
}

func (r *Registry) auditStart(name string) {
	if r.trail == nil {
		return
	}
	if _, err := r.trail.Log(audit.Record{
		EventType: audit.EventKAExecutionStart,
		Details:   map[string]any{"ka": name},
	}); err != nil {
		r.logger.Warn("Failed to audit KA start", "error", err)
	}
}

// numeric coerces JSON-shaped numbers.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
