package ka

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/audit"
)

const echoPlugin = `package ka

import "strings"

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	meta := map[string]interface{}{
		"name":        "echo",
		"version":     "1.0.0",
		"description": "echoes its payload upper-cased",
	}
	runner := func(input map[string]interface{}, kaCtx map[string]interface{}) (map[string]interface{}, error) {
		payload, _ := input["payload"].(string)
		return map[string]interface{}{
			"echo":       strings.ToUpper(payload),
			"confidence": 0.9,
			"entropy":    0.2,
			"trace":      "echo ok",
		}, nil
	}
	return meta, runner
}
`

const noRegisterPlugin = `package ka

func Helper() int { return 42 }
`

const badSignaturePlugin = `package ka

func Register() string { return "nope" }
`

func writePlugin(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadAllAndCall(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo.go", echoPlugin)

	reg := NewRegistry(RegistryOptions{Dir: dir})
	names, err := reg.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, names)

	meta, ok := reg.Meta("echo")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", meta["version"])

	res := reg.Call(context.Background(), "echo", map[string]any{"payload": "hello"}, nil)
	require.NotNil(t, res.Output)
	assert.Equal(t, "HELLO", res.Output["echo"])
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 0.2, res.Entropy)
	assert.Equal(t, "echo ok", res.Trace)
}

func TestLoadAllSkipsBrokenPlugins(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo.go", echoPlugin)
	writePlugin(t, dir, "helper.go", noRegisterPlugin)
	writePlugin(t, dir, "wrong.go", badSignaturePlugin)
	writePlugin(t, dir, "syntax.go", "package ka\nfunc {")

	reg := NewRegistry(RegistryOptions{Dir: dir})
	names, err := reg.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, names, "only the valid plugin loads")
}

func TestLoadAllMissingDirectory(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: filepath.Join(t.TempDir(), "absent")})
	names, err := reg.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCallMissingPlugin(t *testing.T) {
	trail := audit.New(audit.Options{})
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir(), Trail: trail})
	_, err := reg.LoadAll()
	require.NoError(t, err)

	res := reg.Call(context.Background(), "ghost", nil, nil)
	assert.Nil(t, res.Output)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 1.0, res.Entropy)
	assert.Contains(t, res.Trace, "ghost crashed:")

	assert.Len(t, trail.Query(audit.Filter{EventType: audit.EventKAExecutionStart}), 1)
	assert.Len(t, trail.Query(audit.Filter{EventType: audit.EventKAExecutionFailure}), 1)
}

// inject registers a native runner directly, bypassing the interpreter, so
// failure paths stay deterministic.
func inject(reg *Registry, name string, runner Runner) {
	reg.mu.Lock()
	reg.plugins[name] = &plugin{name: name, meta: map[string]any{"name": name}, runner: runner}
	reg.mu.Unlock()
}

func TestCallPanicReturnsCannedResult(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "bomb", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		panic("kaboom")
	})

	res := reg.Call(context.Background(), "bomb", nil, nil)
	assert.Nil(t, res.Output)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 1.0, res.Entropy)
	assert.Contains(t, res.Trace, "bomb crashed: kaboom")
}

func TestCallErrorReturnsCannedResult(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "flaky", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("backend unavailable")
	})

	res := reg.Call(context.Background(), "flaky", nil, nil)
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Trace, "flaky crashed: backend unavailable")
}

func TestCallTimeout(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir(), CallTimeout: 20 * time.Millisecond})
	inject(reg, "slow", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		time.Sleep(500 * time.Millisecond)
		return map[string]interface{}{}, nil
	})

	start := time.Now()
	res := reg.Call(context.Background(), "slow", nil, nil)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "call returns at the timeout, not the sleep")
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Trace, "slow crashed:")
}

func TestCallDefaultsWhenKeysAbsent(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "bare", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"value": 7}, nil
	})

	res := reg.Call(context.Background(), "bare", nil, nil)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Equal(t, 0.5, res.Entropy)
	assert.Equal(t, "bare completed", res.Trace)
}

func TestReloadRebuildsTable(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo.go", echoPlugin)

	reg := NewRegistry(RegistryOptions{Dir: dir})
	_, err := reg.LoadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"echo"}, reg.Names())

	require.NoError(t, os.Remove(filepath.Join(dir, "echo.go")))
	second := `package ka

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	return map[string]interface{}{"name": "other"},
		func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"confidence": 1.0}, nil
		}
}
`
	writePlugin(t, dir, "other.go", second)

	names, err := reg.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, names)

	res := reg.Call(context.Background(), "echo", nil, nil)
	assert.Contains(t, res.Trace, "echo crashed:", "stale names fail after reload")
}

func TestStagePlanPriority(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "primary", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("down")
	})
	inject(reg, "secondary", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"confidence": 0.8, "source": "secondary"}, nil
	})

	plan := NewStagePlan([]PlanEntry{{
		Stage:  5,
		Policy: PolicyPriority,
		Bindings: []Binding{
			{KA: "secondary", Priority: 1},
			{KA: "primary", Priority: 9},
		},
	}})

	require.Equal(t, []Binding{{KA: "primary", Priority: 9}, {KA: "secondary", Priority: 1}},
		plan.BindingsFor(5), "bindings sorted by descending priority")

	results := plan.RunStage(context.Background(), reg, 5, nil, nil)
	require.Len(t, results, 1, "first success wins")
	assert.Equal(t, "secondary", results[0].KA)
	assert.Equal(t, "secondary", results[0].Output["source"])
}

func TestStagePlanPriorityAllFail(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "a", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("down")
	})

	plan := NewStagePlan(nil)
	plan.Bind(2, PolicyPriority, Binding{KA: "a", Priority: 1}, Binding{KA: "missing", Priority: 0})

	results := plan.RunStage(context.Background(), reg, 2, nil, nil)
	require.Len(t, results, 2, "every failed attempt is reported")
	for _, res := range results {
		assert.Nil(t, res.Output)
	}
}

func TestStagePlanFanout(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Dir: t.TempDir()})
	inject(reg, "alpha", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"confidence": 0.7}, nil
	})
	inject(reg, "beta", func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("down")
	})

	plan := NewStagePlan(nil)
	plan.Bind(8, PolicyFanout, Binding{KA: "alpha", Priority: 2}, Binding{KA: "beta", Priority: 1})

	results := plan.RunStage(context.Background(), reg, 8, nil, nil)
	require.Len(t, results, 2, "fanout runs everything")
	assert.Equal(t, "alpha", results[0].KA)
	assert.NotNil(t, results[0].Output)
	assert.Equal(t, "beta", results[1].KA)
	assert.Nil(t, results[1].Output)
}

func TestStagePlanUnboundStage(t *testing.T) {
	plan := NewStagePlan(nil)
	assert.Nil(t, plan.RunStage(context.Background(), NewRegistry(RegistryOptions{}), 3, nil, nil))
	assert.Equal(t, PolicyPriority, plan.PolicyFor(3))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "echo.go", echoPlugin)

	reg := NewRegistry(RegistryOptions{Dir: dir})
	_, err := reg.LoadAll()
	require.NoError(t, err)

	reloaded := make(chan []string, 4)
	watcher, err := NewWatcher(reg, func(names []string) { reloaded <- names })
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	second := `package ka

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	return map[string]interface{}{"name": "late"},
		func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"confidence": 0.6}, nil
		}
}
`
	writePlugin(t, dir, "late.go", second)

	select {
	case names := <-reloaded:
		assert.Contains(t, names, "echo")
		assert.Contains(t, names, "late")
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded")
	}
	assert.Contains(t, reg.Names(), "late")
}
