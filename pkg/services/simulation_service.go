package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strata-sim/strata/pkg/compliance"
	"github.com/strata-sim/strata/pkg/models"
	"github.com/strata-sim/strata/pkg/pipeline"
	"github.com/strata-sim/strata/pkg/queue"
	"github.com/strata-sim/strata/pkg/session"
)

// Run modes accepted by StartSimulation.
const (
	ModeAuto  = "auto"
	ModeAsync = "async"
	ModeStep  = "step"
)

// StartSimulationInput contains the domain-level data for one simulation
// start. Transformed from the HTTP request by the handler.
type StartSimulationInput struct {
	Query     string
	UserID    string
	Mode      string         // "auto" (default), "async" or "step"
	MaxStages int            // 0 means the full pipeline
	Context   map[string]any // optional payload threaded into stage 1
}

// StartSimulationOutput is the outcome of StartSimulation. Session is
// always set; Result only for auto mode, where the run finished before the
// call returned.
type StartSimulationOutput struct {
	Mode    string
	Session *models.Session
	Result  *models.RunResult
}

// StepSimulationInput identifies the session to advance and, optionally,
// the stage the caller expects to run next.
type StepSimulationInput struct {
	SessionID string
	Stage     int // 0 means "whatever comes next"
}

// StepResult pairs the session after the step with the layer the step
// committed. Layer is nil when the stage number was a registry hole or the
// budget failed the run before the stage started.
type StepResult struct {
	Session *models.Session
	Layer   *models.LayerState
}

// SimulationService drives simulation lifecycle operations against the
// pipeline executor and the worker pool.
type SimulationService struct {
	executor *pipeline.Executor
	sessions *session.Store
	pool     *queue.WorkerPool
	logger   *slog.Logger
}

// NewSimulationService creates a new SimulationService. The pool may be nil
// when async mode is not served.
func NewSimulationService(executor *pipeline.Executor, sessions *session.Store, pool *queue.WorkerPool) *SimulationService {
	if executor == nil {
		panic("NewSimulationService: executor must not be nil")
	}
	if sessions == nil {
		panic("NewSimulationService: sessions must not be nil")
	}
	return &SimulationService{
		executor: executor,
		sessions: sessions,
		pool:     pool,
		logger:   slog.With("component", "services"),
	}
}

// StartSimulation validates the request and starts a run in the requested
// mode: auto runs synchronously, async enqueues the session for the worker
// pool, step only creates a READY session to be advanced by StepSimulation.
func (s *SimulationService) StartSimulation(ctx context.Context, input StartSimulationInput) (*StartSimulationOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, NewValidationError("query", "query is required")
	}
	if input.MaxStages < 0 {
		return nil, NewValidationError("max_stages", "must not be negative")
	}
	mode := input.Mode
	if mode == "" {
		mode = ModeAuto
	}

	req := pipeline.Request{
		Query:     input.Query,
		UserID:    input.UserID,
		MaxStages: input.MaxStages,
		Context:   input.Context,
	}

	switch mode {
	case ModeAuto:
		result, err := s.executor.Run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("running simulation: %w", err)
		}
		return &StartSimulationOutput{Mode: mode, Session: result.Session, Result: result}, nil

	case ModeAsync:
		if s.pool == nil {
			return nil, fmt.Errorf("async mode requires a worker pool")
		}
		sess, err := s.executor.CreatePending(req)
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		if err := s.pool.Enqueue(sess.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		s.logger.Info("Simulation enqueued", "session_id", sess.ID)
		return &StartSimulationOutput{Mode: mode, Session: sess}, nil

	case ModeStep:
		sess, err := s.executor.CreatePending(req)
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		return &StartSimulationOutput{Mode: mode, Session: sess}, nil

	default:
		return nil, NewValidationError("mode", fmt.Sprintf("unknown mode '%s', want auto, async or step", input.Mode))
	}
}

// StepSimulation advances a session by exactly one stage.
func (s *SimulationService) StepSimulation(ctx context.Context, input StepSimulationInput) (*StepResult, error) {
	if input.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if input.Stage < 0 {
		return nil, NewValidationError("stage", "must not be negative")
	}

	sess, layer, err := s.executor.Step(ctx, input.SessionID, input.Stage)
	if err != nil {
		return nil, translateLifecycleError(err)
	}
	return &StepResult{Session: sess, Layer: layer}, nil
}

// GetSession returns a session by id.
func (s *SimulationService) GetSession(sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, translateLifecycleError(err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *SimulationService) ListSessions() []*models.Session {
	return s.sessions.List()
}

// PauseSimulation asks a session to stop before its next stage.
func (s *SimulationService) PauseSimulation(sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	sess, err := s.executor.Pause(sessionID)
	if err != nil {
		return nil, translateLifecycleError(err)
	}
	return sess, nil
}

// ResumeSimulation re-enters the stage loop for a paused session and drives
// it synchronously to its next stopping point.
func (s *SimulationService) ResumeSimulation(ctx context.Context, sessionID string) (*models.RunResult, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	result, err := s.executor.Resume(ctx, sessionID)
	if err != nil {
		return nil, translateLifecycleError(err)
	}
	return result, nil
}

// ContainSimulation forces a session into CONTAINED and returns the minted
// certificate.
func (s *SimulationService) ContainSimulation(sessionID, reason string) (*compliance.Certificate, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, NewValidationError("reason", "reason is required")
	}
	cert, err := s.executor.Contain(sessionID, reason)
	if err != nil {
		return nil, translateLifecycleError(err)
	}
	s.logger.Warn("Session contained via API", "session_id", sessionID, "reason", reason)
	return cert, nil
}

// translateLifecycleError maps executor and store sentinels onto the
// service error taxonomy the API layer understands.
func translateLifecycleError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, session.ErrTerminal):
		return ErrTerminalSession
	case errors.Is(err, pipeline.ErrStageOutOfOrder),
		errors.Is(err, pipeline.ErrPastFinalStage):
		return fmt.Errorf("%w: %v", ErrNotSteppable, err)
	case errors.Is(err, pipeline.ErrSessionRunning),
		errors.Is(err, pipeline.ErrNotPaused),
		errors.Is(err, pipeline.ErrNotReady):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
