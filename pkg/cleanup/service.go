// Package cleanup enforces retention on the in-memory stores: terminal
// sessions past their TTL, idle persona agents and WebSocket clients whose
// heartbeats stopped.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/events"
	"github.com/strata-sim/strata/pkg/session"
)

// Service runs the periodic retention sweep. Every pass is idempotent; a
// sweep that finds nothing to remove is free.
type Service struct {
	config   *config.RetentionConfig
	sessions *session.Store
	agents   *agents.Manager
	hub      *events.Hub
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. The agent manager and the hub
// may be nil; their sweeps are skipped.
func NewService(cfg *config.RetentionConfig, sessions *session.Store, mgr *agents.Manager, hub *events.Hub) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	if sessions == nil {
		panic("cleanup.NewService: sessions must not be nil")
	}
	return &Service{
		config:   cfg,
		sessions: sessions,
		agents:   mgr,
		hub:      hub,
		logger:   slog.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"session_ttl", time.Duration(s.config.SessionTTL).String(),
		"agent_idle_after", time.Duration(s.config.AgentIdleAfter).String(),
		"ws_client_max_age", time.Duration(s.config.WSClientMaxAge).String(),
		"sweep_interval", time.Duration(s.config.SweepInterval).String())
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll()

	ticker := time.NewTicker(time.Duration(s.config.SweepInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll()
		}
	}
}

func (s *Service) runAll() {
	s.sweepSessions()
	s.sweepAgents()
	s.sweepClients()
}

func (s *Service) sweepSessions() {
	cutoff := time.Now().UTC().Add(-time.Duration(s.config.SessionTTL))
	if n := s.sessions.DeleteTerminalBefore(cutoff); n > 0 {
		s.logger.Info("Retention: deleted terminal sessions", "count", n)
	}
}

func (s *Service) sweepAgents() {
	if s.agents == nil {
		return
	}
	if n := s.agents.DeactivateIdle(time.Duration(s.config.AgentIdleAfter)); n > 0 {
		s.logger.Info("Retention: deactivated idle agents", "count", n)
	}
	if n := s.agents.CleanupInactive(); n > 0 {
		s.logger.Info("Retention: removed inactive agents", "count", n)
	}
}

func (s *Service) sweepClients() {
	if s.hub == nil {
		return
	}
	if n := s.hub.CleanupStale(time.Duration(s.config.WSClientMaxAge)); n > 0 {
		s.logger.Info("Retention: dropped stale WebSocket clients", "count", n)
	}
}
