package cleanup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/events"
	"github.com/strata-sim/strata/pkg/models"
	"github.com/strata-sim/strata/pkg/session"
)

// retention builds a config with explicit windows. Zero durations make every
// candidate eligible immediately, so sweeps are deterministic without
// backdating timestamps.
func retention(sessionTTL, agentIdle, wsMaxAge time.Duration) *config.RetentionConfig {
	return &config.RetentionConfig{
		SessionTTL:     config.Duration(sessionTTL),
		AgentIdleAfter: config.Duration(agentIdle),
		WSClientMaxAge: config.Duration(wsMaxAge),
		SweepInterval:  config.Duration(time.Hour),
	}
}

func TestService_DeletesExpiredTerminalSessions(t *testing.T) {
	store := session.NewStore()

	finished := store.Create("completed run", "")
	finished.Status = models.SessionStatusCompleted
	require.NoError(t, store.Update(finished))

	contained := store.Create("contained run", "")
	contained.Status = models.SessionStatusContained
	require.NoError(t, store.Update(contained))

	live := store.Create("still running", "")
	live.Status = models.SessionStatusRunning
	require.NoError(t, store.Update(live))

	svc := NewService(retention(0, time.Minute, time.Minute), store, nil, nil)
	svc.runAll()

	assert.False(t, store.SessionExists(finished.ID))
	assert.False(t, store.SessionExists(contained.ID))
	assert.True(t, store.SessionExists(live.ID), "non-terminal sessions are never swept")
	assert.Equal(t, 1, store.Len())
}

func TestService_PreservesRecentTerminalSessions(t *testing.T) {
	store := session.NewStore()

	finished := store.Create("completed run", "")
	finished.Status = models.SessionStatusCompleted
	require.NoError(t, store.Update(finished))

	svc := NewService(retention(time.Hour, time.Minute, time.Minute), store, nil, nil)
	svc.runAll()

	assert.True(t, store.SessionExists(finished.ID), "terminal session inside the TTL is preserved")
}

func TestService_SweepsIdleAgents(t *testing.T) {
	store := session.NewStore()
	mgr := agents.NewManager(agents.ManagerOptions{})
	ids := mgr.SpawnResearch(3, nil, nil, nil)
	require.Len(t, ids, 3)

	svc := NewService(retention(time.Hour, 0, time.Minute), store, mgr, nil)
	svc.runAll()

	// Idle agents are deactivated and then removed in the same sweep.
	assert.Empty(t, mgr.ActiveAgents())
	stats := mgr.Stats()
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Inactive)
}

func TestService_DropsStaleWSClients(t *testing.T) {
	store := session.NewStore()
	sess := store.Create("watched run", "")

	hub := events.NewHub(events.HubOptions{Sessions: store, WriteTimeout: 2 * time.Second})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		_ = hub.HandleConnection(r.Context(), conn, sess.ID, "sweep-client")
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return hub.ActiveClients() == 1 },
		2*time.Second, 10*time.Millisecond, "client never registered")

	svc := NewService(retention(time.Hour, time.Minute, 0), store, nil, hub)
	svc.runAll()

	require.Eventually(t, func() bool { return hub.ActiveClients() == 0 },
		2*time.Second, 10*time.Millisecond, "stale client was not dropped")
}

func TestService_NilTargetsAreSkipped(t *testing.T) {
	store := session.NewStore()

	// Nil config falls back to defaults; nil agents and hub are simply skipped.
	svc := NewService(nil, store, nil, nil)
	svc.runAll()

	assert.Panics(t, func() { NewService(nil, nil, nil, nil) })
}

func TestService_StartStop(t *testing.T) {
	store := session.NewStore()
	finished := store.Create("completed run", "")
	finished.Status = models.SessionStatusCompleted
	require.NoError(t, store.Update(finished))

	svc := NewService(retention(0, time.Minute, time.Minute), store, nil, nil)
	svc.Start(context.Background())
	svc.Start(context.Background()) // second Start is a no-op

	// The first sweep runs on startup, before the ticker fires.
	require.Eventually(t, func() bool { return !store.SessionExists(finished.ID) },
		2*time.Second, 10*time.Millisecond)

	svc.Stop()
}
