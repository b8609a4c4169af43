package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCountersAppearInExposition(t *testing.T) {
	m := New(Options{})

	m.RecordSimulation("COMPLETED")
	m.RecordSimulation("COMPLETED")
	m.RecordSimulation("CONTAINED")
	m.RecordStage(3, "COMPLETED", 120*time.Millisecond)
	m.RecordViolation("critical")
	m.RecordKACall("branch_projection", true)
	m.RecordKACall("branch_projection", false)

	body := scrape(t, m)
	assert.Contains(t, body, `strata_simulations_total{status="COMPLETED"} 2`)
	assert.Contains(t, body, `strata_simulations_total{status="CONTAINED"} 1`)
	assert.Contains(t, body, `strata_stage_executions_total{stage="3",status="COMPLETED"} 1`)
	assert.Contains(t, body, `strata_stage_duration_seconds_count{stage="3"} 1`)
	assert.Contains(t, body, `strata_compliance_violations_total{severity="critical"} 1`)
	assert.Contains(t, body, `strata_ka_calls_total{ka="branch_projection",status="ok"} 1`)
	assert.Contains(t, body, `strata_ka_calls_total{ka="branch_projection",status="crashed"} 1`)
}

func TestGaugesPollTheirCallbacks(t *testing.T) {
	clients := 3
	m := New(Options{
		WSClients:      func() int { return clients },
		ActiveAgents:   func() int { return 7 },
		ActiveSessions: func() int { return 2 },
	})

	body := scrape(t, m)
	assert.Contains(t, body, "strata_ws_clients 3")
	assert.Contains(t, body, "strata_active_agents 7")
	assert.Contains(t, body, "strata_sessions_active 2")

	// Gauges read the live value at scrape time, not a recorded snapshot.
	clients = 5
	body = scrape(t, m)
	assert.Contains(t, body, "strata_ws_clients 5")
}

func TestNilCallbacksLeaveGaugesUnregistered(t *testing.T) {
	m := New(Options{WSClients: func() int { return 1 }})

	body := scrape(t, m)
	assert.Contains(t, body, "strata_ws_clients 1")
	assert.NotContains(t, body, "strata_active_agents")
	assert.NotContains(t, body, "strata_sessions_active")
}

func TestNilReceiverRecordsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSimulation("COMPLETED")
		m.RecordStage(1, "COMPLETED", time.Second)
		m.RecordViolation("warning")
		m.RecordKACall("echo", true)
	})
}
