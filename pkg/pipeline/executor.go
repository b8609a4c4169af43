// Package pipeline drives sessions through the ten-stage reasoning loop.
// The executor owns every commit into the session store: stages hand back
// results, the executor derives the layer status, runs the compliance
// check, publishes frames and decides when a run is terminal. Stages never
// touch the session record themselves.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/audit"
	"github.com/strata-sim/strata/pkg/compliance"
	"github.com/strata-sim/strata/pkg/events"
	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/metrics"
	"github.com/strata-sim/strata/pkg/models"
	"github.com/strata-sim/strata/pkg/session"
	"github.com/strata-sim/strata/pkg/stages"
)

const (
	// DefaultMaxSimulationTime is the per-session wall-clock budget. It is
	// checked before each stage, never mid-stage: a long stage runs to
	// completion.
	DefaultMaxSimulationTime = 300 * time.Second

	// DefaultConfidenceThreshold is the global completion bar. A stage that
	// does not escalate and scores at or above it ends the run COMPLETED.
	DefaultConfidenceThreshold = 0.995
)

// State accumulator keys the executor owns. Stages read orig_query and
// axes; everything else is bookkeeping.
const (
	stateStartTime   = "start_time"
	stateSessionID   = "session_id"
	stateRunID       = "run_id"
	stateOrigQuery   = "orig_query"
	stateAxes        = "axes"
	stateContext     = "context"
	stateMaxStages   = "max_stages"
	stateLastOutput  = "last_output"
	stateError       = "error"
	stateContainment = "containment"
)

// Request is one pipeline invocation.
type Request struct {
	Query     string
	UserID    string
	MaxStages int
	Context   map[string]any
}

// Options wires an Executor. Sessions, Stages and Memory are required; the
// rest degrade to no-ops when absent so tests can wire only what they
// exercise.
type Options struct {
	Sessions   *session.Store
	Stages     *stages.Registry
	Memory     *memory.Graph
	Agents     *agents.Manager
	KAs        *ka.Registry
	Plan       *ka.StagePlan
	Compliance *compliance.Engine
	Trail      *audit.Log
	Events     *events.Publisher
	Metrics    *metrics.Metrics
	LLM        llm.Client

	// MaxSimulationTime overrides the per-session budget; zero keeps the
	// default.
	MaxSimulationTime time.Duration
	// ConfidenceThreshold overrides the completion bar; zero keeps the
	// default.
	ConfidenceThreshold float64
	// MaxStages caps how many stages any run may execute. Zero means the
	// full pipeline; per-request limits clamp to this cap.
	MaxStages int
}

// Executor advances sessions stage by stage. One executor serves the whole
// process; concurrent runs on distinct sessions are independent.
type Executor struct {
	sessions   *session.Store
	stages     *stages.Registry
	memory     *memory.Graph
	agents     *agents.Manager
	kas        *ka.Registry
	plan       *ka.StagePlan
	compliance *compliance.Engine
	trail      *audit.Log
	events     *events.Publisher
	metrics    *metrics.Metrics
	llm        llm.Client

	budget    time.Duration
	threshold float64
	maxStages int
	logger    *slog.Logger
}

// New builds an Executor from Options, applying defaults.
func New(opts Options) *Executor {
	budget := opts.MaxSimulationTime
	if budget <= 0 {
		budget = DefaultMaxSimulationTime
	}
	threshold := opts.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	client := opts.LLM
	if client == nil {
		client = llm.Fallback{}
	}
	maxStages := opts.MaxStages
	if maxStages <= 0 || maxStages > stages.MaxStageNumber {
		maxStages = stages.MaxStageNumber
	}
	return &Executor{
		sessions:   opts.Sessions,
		stages:     opts.Stages,
		memory:     opts.Memory,
		agents:     opts.Agents,
		kas:        opts.KAs,
		plan:       opts.Plan,
		compliance: opts.Compliance,
		trail:      opts.Trail,
		events:     opts.Events,
		metrics:    opts.Metrics,
		llm:        client,
		budget:     budget,
		threshold:  threshold,
		maxStages:  maxStages,
		logger:     slog.With("component", "pipeline"),
	}
}

// ─────────────────────────────────────────────────────────────────
// Entry points
// ─────────────────────────────────────────────────────────────────

// Run creates a session for the request and drives it through the loop
// synchronously. This is the auto-mode entry point.
func (e *Executor) Run(ctx context.Context, req Request) (*models.RunResult, error) {
	sess := e.sessions.Create(req.Query, req.UserID)
	if err := e.begin(sess, req); err != nil {
		return nil, err
	}
	return e.loop(ctx, sess.ID)
}

// CreatePending registers a READY session carrying the request's limits so
// a later RunSession, Resume or Step picks them up. The async and step
// entry modes create their sessions here.
func (e *Executor) CreatePending(req Request) (*models.Session, error) {
	sess := e.sessions.Create(req.Query, req.UserID)
	if req.MaxStages > 0 {
		sess.State[stateMaxStages] = e.stageLimit(req.MaxStages)
	}
	if len(req.Context) > 0 {
		sess.State[stateContext] = models.CloneMap(req.Context)
	}
	if req.MaxStages > 0 || len(req.Context) > 0 {
		if err := e.sessions.Update(sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// RunSession drives an existing READY session through the full loop. The
// async worker path creates the session up front and calls this when a
// worker picks it up.
func (e *Executor) RunSession(ctx context.Context, id string, req Request) (*models.RunResult, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status.Terminal():
		return nil, session.ErrTerminal
	case sess.Status == models.SessionStatusRunning:
		return nil, ErrSessionRunning
	case sess.Status != models.SessionStatusReady:
		return nil, ErrNotReady
	}
	if err := e.begin(sess, req); err != nil {
		return nil, err
	}
	return e.loop(ctx, id)
}

// Step advances a READY or PAUSED session by exactly one stage using the
// same commit rules as the loop. stage, when non-zero, must name the next
// stage; it lets callers assert what they expect to run. After a
// non-terminal step the session is left PAUSED.
func (e *Executor) Step(ctx context.Context, id string, stage int) (*models.Session, *models.LayerState, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.Terminal() {
		return nil, nil, session.ErrTerminal
	}
	if sess.Status == models.SessionStatusRunning {
		return nil, nil, ErrSessionRunning
	}

	next := sess.CurrentStage + 1
	if stage != 0 && stage != next {
		if stage > stages.MaxStageNumber {
			return nil, nil, ErrPastFinalStage
		}
		return nil, nil, ErrStageOutOfOrder
	}
	limit := intFromState(sess.State, stateMaxStages, e.maxStages)
	if next > limit {
		return nil, nil, ErrPastFinalStage
	}

	if _, seeded := sess.State[stateStartTime]; !seeded {
		if err := e.begin(sess, Request{}); err != nil {
			return nil, nil, err
		}
	} else {
		sess.Status = models.SessionStatusRunning
		if err := e.sessions.Update(sess); err != nil {
			return nil, nil, err
		}
	}

	if e.overBudget(sess) {
		e.failBudget(sess, next)
		return sess, nil, nil
	}

	st, ok := e.stages.Get(next)
	if !ok {
		// Registry hole: skip the number, same as the loop.
		e.logger.Warn("Stage not registered, skipping", "stage", next, "session_id", id)
		sess.CurrentStage = next
		sess.Status = models.SessionStatusPaused
		if err := e.sessions.Update(sess); err != nil {
			return nil, nil, err
		}
		return sess, nil, nil
	}

	_, layer, terminal, err := e.advance(ctx, sess, st, e.workingInput(sess), prevConfidence(sess))
	if err != nil {
		return nil, nil, err
	}
	if !terminal {
		sess.Status = models.SessionStatusPaused
		if err := e.sessions.Update(sess); err != nil {
			if !errors.Is(err, session.ErrTerminal) {
				return nil, nil, err
			}
			// A terminal transition raced the pause-back; surface the
			// store's view.
			if stored, gerr := e.sessions.Get(id); gerr == nil {
				sess = stored
			}
		}
	}
	return sess, layer, nil
}

// Pause asks a running (or not-yet-started) session to stop before its
// next stage. The loop observes the status at its next re-read; a stage in
// flight is never interrupted.
func (e *Executor) Pause(id string) (*models.Session, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, session.ErrTerminal
	}
	if sess.Status == models.SessionStatusPaused {
		return sess, nil
	}

	sess.Status = models.SessionStatusPaused
	if err := e.sessions.Update(sess); err != nil {
		if errors.Is(err, session.ErrTerminal) {
			// The run finished before the pause landed.
			return nil, session.ErrTerminal
		}
		return nil, err
	}
	e.logger.Info("Pause requested", "session_id", id, "current_stage", sess.CurrentStage)
	return sess, nil
}

// Resume re-enters the stage loop for a paused session and drives it
// synchronously to its next stopping point.
func (e *Executor) Resume(ctx context.Context, id string) (*models.RunResult, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, session.ErrTerminal
	}
	if sess.Status != models.SessionStatusPaused {
		return nil, ErrNotPaused
	}

	if _, seeded := sess.State[stateStartTime]; !seeded {
		// Paused before the first stage ever ran; seed as a fresh run.
		if err := e.begin(sess, Request{}); err != nil {
			return nil, err
		}
	} else {
		sess.Status = models.SessionStatusRunning
		if err := e.sessions.Update(sess); err != nil {
			return nil, err
		}
	}
	e.logger.Info("Simulation resumed", "session_id", id, "from_stage", sess.CurrentStage)
	return e.loop(ctx, id)
}

// Contain forces the session into CONTAINED, minting an operator
// certificate. A loop in flight observes the terminal status at its next
// store write and stops without emitting a second terminal transition.
func (e *Executor) Contain(id, reason string) (*compliance.Certificate, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, session.ErrTerminal
	}

	var cert *compliance.Certificate
	if e.compliance != nil {
		cert = e.compliance.ForceContain(sess.CurrentStage, id, reason)
	}

	sess.Status = models.SessionStatusContained
	if cert != nil {
		sess.State[stateContainment] = cert.Map()
	} else {
		sess.State[stateContainment] = map[string]any{"reason": reason}
	}
	if err := e.sessions.Update(sess); err != nil {
		if errors.Is(err, session.ErrTerminal) {
			return nil, session.ErrTerminal
		}
		return nil, err
	}

	certID := ""
	if cert != nil {
		certID = cert.CertID
	}
	e.events.ContainmentTriggered(id, sess.CurrentStage, certID, nil)
	e.logger.Warn("Simulation contained by operator",
		"session_id", id, "reason", reason, "cert_id", certID)
	e.finish(sess)
	return cert, nil
}

// ─────────────────────────────────────────────────────────────────
// The loop
// ─────────────────────────────────────────────────────────────────

// begin flips a session to RUNNING, seeds the state accumulator and
// announces the run. The passed session is mutated and stored.
func (e *Executor) begin(sess *models.Session, req Request) error {
	now := time.Now().UTC()
	sess.Status = models.SessionStatusRunning
	sess.State[stateStartTime] = float64(now.UnixNano()) / 1e9
	sess.State[stateSessionID] = sess.ID
	sess.State[stateRunID] = sess.RunID
	sess.State[stateOrigQuery] = sess.InputQuery
	sess.State[stateAxes] = []string{}
	if req.MaxStages > 0 {
		sess.State[stateMaxStages] = e.stageLimit(req.MaxStages)
	} else if _, seeded := sess.State[stateMaxStages]; !seeded {
		sess.State[stateMaxStages] = e.stageLimit(0)
	}
	if len(req.Context) > 0 {
		sess.State[stateContext] = models.CloneMap(req.Context)
	}
	if err := e.sessions.Update(sess); err != nil {
		return err
	}

	if e.trail != nil {
		_, err := e.trail.Log(audit.Record{
			EventType:    audit.EventSimulationStart,
			SimulationID: sess.ID,
			Details: map[string]any{
				"query":   sess.InputQuery,
				"user_id": sess.UserID,
				"run_id":  sess.RunID,
			},
		})
		if err != nil {
			return fmt.Errorf("auditing simulation start: %w", err)
		}
	}

	e.events.SimulationStarted(sess.ID, sess.RunID, sess.InputQuery)
	e.logger.Info("Simulation started",
		"session_id", sess.ID,
		"run_id", sess.RunID,
		"max_stages", sess.State[stateMaxStages])
	return nil
}

// loop advances the session stage by stage until a terminal transition,
// a pause, the stage limit or the budget stops it. While running it is the
// only writer of the session; pause and containment arrive through the
// store and are picked up at the re-read before each stage.
func (e *Executor) loop(ctx context.Context, id string) (*models.RunResult, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	limit := intFromState(sess.State, stateMaxStages, e.maxStages)
	input := e.workingInput(sess)
	prev := prevConfidence(sess)

	for n := sess.CurrentStage + 1; n <= limit; n++ {
		stored, err := e.sessions.Get(id)
		if err != nil {
			return nil, err
		}
		if stored.Status == models.SessionStatusPaused {
			e.logger.Info("Simulation paused", "session_id", id, "next_stage", n)
			return e.result(stored), nil
		}
		if stored.Status.Terminal() {
			// Operator containment landed between stages. The transition
			// owner already emitted the terminal bookkeeping.
			return e.result(stored), nil
		}

		if e.overBudget(sess) {
			e.failBudget(sess, n)
			return e.result(sess), nil
		}

		st, ok := e.stages.Get(n)
		if !ok {
			e.logger.Warn("Stage not registered, skipping", "stage", n, "session_id", id)
			sess.CurrentStage = n
			if err := e.sessions.Update(sess); err != nil {
				if errors.Is(err, session.ErrTerminal) {
					return e.refreshed(id, sess)
				}
				return nil, err
			}
			continue
		}

		res, _, terminal, err := e.advance(ctx, sess, st, input, prev)
		if err != nil {
			return nil, err
		}
		if terminal {
			return e.result(sess), nil
		}

		// Step i: the stage output becomes the next stage's payload.
		input = res.Output
		prev = res.Confidence
	}

	// Loop exhausted without an in-loop terminal transition: COMPLETED if
	// some stage produced output, FAILED otherwise.
	if sess.Status == models.SessionStatusRunning {
		if out, ok := sess.State[stateLastOutput].(map[string]any); ok && out != nil {
			sess.Status = models.SessionStatusCompleted
			sess.FinalOutput = models.CloneMap(out)
		} else {
			sess.Status = models.SessionStatusFailed
			sess.State[stateError] = "no stage produced output before the stage limit"
		}
		if err := e.sessions.Update(sess); err != nil {
			if errors.Is(err, session.ErrTerminal) {
				return e.refreshed(id, sess)
			}
			return nil, err
		}
		e.finish(sess)
	}
	return e.result(sess), nil
}

// advance executes one stage against the session and commits the outcome:
// layer append, store write, frame broadcasts, audit entries, compliance
// check and the completion decision. It reports terminal=true when the
// session reached a terminal status.
func (e *Executor) advance(ctx context.Context, sess *models.Session, st stages.Stage, input map[string]any, prev float64) (*models.StageResult, *models.LayerState, bool, error) {
	n := st.Number()
	e.events.LayerStarted(sess.ID, n, st.Name())

	startedAt := time.Now().UTC()
	res, raised := e.invoke(ctx, st, input, sess)
	if raised != nil {
		e.logger.Error("Stage raised", "stage", n, "session_id", sess.ID, "error", raised)
		res = failureResult(n, raised)
	}

	layer := buildLayer(st, res, raised, prev, startedAt)
	sess.Layers = append(sess.Layers, layer)
	sess.CurrentStage = n
	sess.State[stateLastOutput] = res.Output

	// A pause that landed while the stage was running must survive the
	// layer commit; the loop observes it at its next re-read.
	if stored, err := e.sessions.Get(sess.ID); err == nil && stored.Status == models.SessionStatusPaused {
		sess.Status = models.SessionStatusPaused
	}

	if err := e.sessions.Update(sess); err != nil {
		if errors.Is(err, session.ErrTerminal) {
			// Containment raced the commit; the store's terminal copy wins
			// and this stage's layer is discarded.
			if stored, gerr := e.sessions.Get(sess.ID); gerr == nil {
				*sess = *stored
			}
			return res, nil, true, nil
		}
		return nil, nil, false, err
	}

	e.broadcastLayer(sess, layer, res)
	if err := e.auditLayer(sess, layer, res, raised); err != nil {
		// An audit trail that stops accepting writes leaves the global
		// record inconsistent; the run cannot credibly continue.
		e.logger.Error("Audit write failed, terminating run", "session_id", sess.ID, "error", err)
		sess.Status = models.SessionStatusFailed
		sess.State[stateError] = fmt.Sprintf("audit write failed: %v", err)
		if uerr := e.sessions.Update(sess); uerr != nil && !errors.Is(uerr, session.ErrTerminal) {
			return nil, nil, false, uerr
		}
		e.finish(sess)
		return res, layer, true, nil
	}
	e.metrics.RecordStage(n, strings.ToLower(string(layer.Status)), time.Duration(layer.DurationMs)*time.Millisecond)

	if cert, violations := e.checkCompliance(sess, layer, res); cert != nil {
		layer.Status = models.LayerStatusContained
		sess.Status = models.SessionStatusContained
		sess.State[stateContainment] = cert.Map()
		if err := e.sessions.Update(sess); err != nil && !errors.Is(err, session.ErrTerminal) {
			return nil, nil, false, err
		}
		e.events.LayerContained(sess.ID, n, cert.CertID)
		e.events.ContainmentTriggered(sess.ID, n, cert.CertID, violationTypes(violations))
		e.logger.Warn("Containment triggered",
			"session_id", sess.ID, "stage", n, "cert_id", cert.CertID)
		e.finish(sess)
		return res, layer, true, nil
	}

	if !res.Escalate && res.Confidence >= e.threshold {
		sess.Status = models.SessionStatusCompleted
		sess.FinalOutput = models.CloneMap(res.Output)
		if err := e.sessions.Update(sess); err != nil && !errors.Is(err, session.ErrTerminal) {
			return nil, nil, false, err
		}
		e.events.ConfidenceThreshold(sess.ID, n, res.Confidence, e.threshold)
		e.finish(sess)
		return res, layer, true, nil
	}

	return res, layer, false, nil
}

// invoke runs one stage with panic isolation.
func (e *Executor) invoke(ctx context.Context, st stages.Stage, payload map[string]any, sess *models.Session) (res *models.StageResult, raised error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			raised = fmt.Errorf("stage %d panicked: %v", st.Number(), rec)
		}
	}()

	in := &stages.Input{
		Payload:   payload,
		State:     sess.State,
		Memory:    e.memory,
		Agents:    e.agents,
		KAs:       e.kas,
		Plan:      e.plan,
		LLM:       e.llm,
		SessionID: sess.ID,
		RunID:     sess.RunID,
		Logger:    e.logger.With("stage", st.Number()),
	}

	res, raised = st.Process(ctx, in)
	if raised == nil && res == nil {
		raised = fmt.Errorf("stage %d returned no result", st.Number())
	}
	if raised == nil {
		res.Normalize(st.ConfidenceThreshold())
	}
	return res, raised
}

// broadcastLayer emits the per-stage frames after the commit: memory and
// agent side effects first, then the layer outcome.
func (e *Executor) broadcastLayer(sess *models.Session, layer *models.LayerState, res *models.StageResult) {
	for _, p := range res.Patches {
		e.events.MemoryPatched(sess.ID, p.Coordinate, p.Kind)
	}
	for _, f := range res.Forks {
		e.events.MemoryForked(sess.ID, f.ParentCellID, f.CellID)
	}
	for _, id := range res.AgentsSpawned {
		persona, role := e.agentIdentity(id)
		e.events.AgentSpawned(sess.ID, id, persona, role)
	}

	e.events.LayerCompleted(sess.ID, layer.Stage, layer.StageName, layer.Confidence.Score, string(layer.Status))
	if layer.Escalation {
		e.events.LayerEscalated(sess.ID, layer.Stage, layer.Confidence.Score, escalationReason(layer, res))
	}
}

// auditLayer writes the per-stage trail entries: memory mutations, the
// pass record and, when escalated, the escalation record.
func (e *Executor) auditLayer(sess *models.Session, layer *models.LayerState, res *models.StageResult, raised error) error {
	if e.trail == nil {
		return nil
	}
	n := layer.Stage
	conf := layer.Confidence.Score

	for _, p := range res.Patches {
		_, err := e.trail.Log(audit.Record{
			EventType:    audit.EventMemoryPatch,
			SimulationID: sess.ID,
			Stage:        &n,
			Persona:      p.Persona,
			Details: map[string]any{
				"coordinate": p.Coordinate,
				"cell_id":    p.CellID,
				"kind":       p.Kind,
			},
		})
		if err != nil {
			return err
		}
	}
	for _, f := range res.Forks {
		_, err := e.trail.Log(audit.Record{
			EventType:    audit.EventFork,
			SimulationID: sess.ID,
			Stage:        &n,
			ForkedFrom:   f.ParentCellID,
			Details: map[string]any{
				"coordinate": f.Coordinate,
				"cell_id":    f.CellID,
				"reason":     f.Reason,
			},
		})
		if err != nil {
			return err
		}
	}

	details := map[string]any{
		"stage_name":  layer.StageName,
		"status":      string(layer.Status),
		"escalate":    layer.Escalation,
		"duration_ms": layer.DurationMs,
	}
	if raised != nil {
		details["error"] = raised.Error()
	}
	if _, err := e.trail.Log(audit.Record{
		EventType:    audit.EventSimulationPass,
		SimulationID: sess.ID,
		Stage:        &n,
		Confidence:   &conf,
		Details:      details,
	}); err != nil {
		return err
	}

	if layer.Escalation {
		if _, err := e.trail.Log(audit.Record{
			EventType:    audit.EventEscalation,
			SimulationID: sess.ID,
			Stage:        &n,
			Confidence:   &conf,
			Details:      map[string]any{"reason": escalationReason(layer, res)},
		}); err != nil {
			return err
		}
	}
	return nil
}

// checkCompliance runs the rule set against the stage output. The memory
// integrity rule reads mutation counts the output map does not carry, so
// they are injected here.
func (e *Executor) checkCompliance(sess *models.Session, layer *models.LayerState, res *models.StageResult) (*compliance.Certificate, []*compliance.Violation) {
	if e.compliance == nil {
		return nil, nil
	}

	details := models.CloneMap(res.Output)
	if details == nil {
		details = map[string]any{}
	}
	details["patches_applied"] = len(res.Patches)
	details["forks_created"] = len(res.Forks)

	conf := res.Confidence
	cert, violations := e.compliance.CheckAndLog(layer.Stage, sess.ID, details, &conf, "")
	for _, v := range violations {
		e.events.ComplianceViolation(sess.ID, v.Stage, v.Type, string(v.Severity), v.Message)
		e.metrics.RecordViolation(string(v.Severity))
	}
	return cert, violations
}

// finish emits the terminal bookkeeping for a session this executor just
// transitioned: the simulation_end trail entry, the terminal frames and
// the run counter. Exactly one caller per session performs the terminal
// transition and therefore calls finish.
func (e *Executor) finish(sess *models.Session) {
	conf := prevConfidence(sess)

	if e.trail != nil {
		_, err := e.trail.Log(audit.Record{
			EventType:    audit.EventSimulationEnd,
			SimulationID: sess.ID,
			Confidence:   &conf,
			Details: map[string]any{
				"status":           string(sess.Status),
				"stages_completed": len(sess.Layers),
				"run_id":           sess.RunID,
			},
		})
		if err != nil {
			e.logger.Warn("Failed to audit simulation end", "session_id", sess.ID, "error", err)
		}
	}

	if sess.Status == models.SessionStatusFailed {
		msg, _ := sess.State[stateError].(string)
		if msg == "" {
			msg = "simulation failed"
		}
		e.events.SimulationError(sess.ID, msg)
	}
	e.events.SimulationCompleted(sess.ID, len(sess.Layers), conf, sess.FinalOutput)
	e.metrics.RecordSimulation(strings.ToLower(string(sess.Status)))

	e.logger.Info("Simulation finished",
		"session_id", sess.ID,
		"status", sess.Status,
		"stages", len(sess.Layers),
		"confidence", conf)
}

// failBudget marks the session FAILED because the wall-clock budget ran
// out before the given stage.
func (e *Executor) failBudget(sess *models.Session, nextStage int) {
	sess.Status = models.SessionStatusFailed
	sess.State[stateError] = fmt.Sprintf("simulation budget of %s exhausted before stage %d", e.budget, nextStage)
	if err := e.sessions.Update(sess); err != nil && !errors.Is(err, session.ErrTerminal) {
		e.logger.Error("Failed to store budget failure", "session_id", sess.ID, "error", err)
	}
	e.logger.Warn("Simulation budget exhausted", "session_id", sess.ID, "next_stage", nextStage)
	e.finish(sess)
}

// ─────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────

// stageLimit clamps a requested max_stages into 1..MaxStageNumber; zero or
// negative means the full pipeline.
func (e *Executor) stageLimit(maxStages int) int {
	if maxStages <= 0 || maxStages > e.maxStages {
		return e.maxStages
	}
	return maxStages
}

// overBudget reports whether the session's wall clock exceeded the budget.
func (e *Executor) overBudget(sess *models.Session) bool {
	started, ok := floatFromState(sess.State, stateStartTime)
	if !ok {
		return false
	}
	return time.Since(time.Unix(0, int64(started*1e9))) > e.budget
}

// workingInput rebuilds the payload the next stage should see: the last
// committed output, or the seeded query payload for a fresh session.
func (e *Executor) workingInput(sess *models.Session) map[string]any {
	if out, ok := sess.State[stateLastOutput].(map[string]any); ok && out != nil {
		return out
	}
	in := map[string]any{"query": sess.InputQuery}
	if extra, ok := sess.State[stateContext].(map[string]any); ok && len(extra) > 0 {
		in["context"] = extra
	}
	return in
}

// result assembles the caller-facing view of a run. The session passed in
// is already a private clone.
func (e *Executor) result(sess *models.Session) *models.RunResult {
	var trace []*models.TraceStep
	for _, l := range sess.Layers {
		trace = append(trace, l.Trace...)
	}
	return &models.RunResult{
		RunID:       sess.RunID,
		Session:     sess,
		Trace:       trace,
		FinalOutput: sess.FinalOutput,
		State:       sess.State,
	}
}

// refreshed re-reads the session after losing a terminal-transition race
// and returns the store's view.
func (e *Executor) refreshed(id string, fallback *models.Session) (*models.RunResult, error) {
	stored, err := e.sessions.Get(id)
	if err != nil {
		return e.result(fallback), nil
	}
	return e.result(stored), nil
}

// agentIdentity resolves persona and role for a spawned agent id.
func (e *Executor) agentIdentity(id string) (string, string) {
	if e.agents == nil {
		return "", ""
	}
	a, err := e.agents.Get(id)
	if err != nil {
		return "", ""
	}
	return a.Persona, a.Role
}

// failureResult is the synthesized stand-in for a raised stage: floor
// confidence, forced escalation, the error in the trace.
func failureResult(stage int, err error) *models.StageResult {
	return &models.StageResult{
		Output:     map[string]any{"error": err.Error(), "stage": stage},
		Confidence: 0.1,
		Escalate:   true,
		Entropy:    1,
		Trace:      map[string]any{"error": err.Error()},
	}
}

// buildLayer derives the committed layer record from a stage result:
// raised stages fail, low-confidence or escalating results escalate,
// everything else completes. CONTAINED is applied later, only by the
// compliance path.
func buildLayer(st stages.Stage, res *models.StageResult, raised error, prev float64, startedAt time.Time) *models.LayerState {
	status := models.LayerStatusCompleted
	switch {
	case raised != nil:
		status = models.LayerStatusFailed
	case res.Confidence < 0.5 || res.Escalate:
		status = models.LayerStatusEscalated
	}

	completedAt := time.Now().UTC()
	layer := &models.LayerState{
		Stage:     st.Number(),
		StageName: st.Name(),
		Status:    status,
		Agents:    res.AgentsSpawned,
		Confidence: models.ConfidenceReport{
			Score:   res.Confidence,
			Delta:   res.Confidence - prev,
			Entropy: res.Entropy,
		},
		Forked:      len(res.Forks) > 0,
		Escalation:  res.Escalate,
		Patches:     res.Patches,
		Forks:       res.Forks,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
	layer.Trace = traceSteps(layer, res, raised)
	return layer
}

// traceSteps builds the in-session trace for one committed layer: the pass
// step always, an escalation step when the result forces the next stage.
func traceSteps(layer *models.LayerState, res *models.StageResult, raised error) []*models.TraceStep {
	conf := layer.Confidence.Score
	now := layer.CompletedAt

	steps := []*models.TraceStep{{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Stage:      layer.Stage,
		StageName:  layer.StageName,
		EventKind:  models.TraceSimulationPass,
		Message:    fmt.Sprintf("stage %d (%s) %s", layer.Stage, layer.StageName, strings.ToLower(string(layer.Status))),
		Confidence: &conf,
		Output:     models.CloneMap(res.Output),
	}}

	if layer.Escalation {
		steps = append(steps, &models.TraceStep{
			ID:         uuid.New().String(),
			Timestamp:  now,
			Stage:      layer.Stage,
			StageName:  layer.StageName,
			EventKind:  models.TraceEscalation,
			Message:    escalationReason(layer, res),
			Confidence: &conf,
		})
	}
	return steps
}

// escalationReason names why a layer escalated.
func escalationReason(layer *models.LayerState, res *models.StageResult) string {
	if errMsg, ok := res.Output["error"].(string); ok && errMsg != "" {
		return "stage raised: " + errMsg
	}
	return fmt.Sprintf("confidence %.4f below threshold", layer.Confidence.Score)
}

// violationTypes projects the type names out of a violation batch.
func violationTypes(violations []*compliance.Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Type)
	}
	return out
}

// prevConfidence is the last committed layer's score, zero for a fresh
// session.
func prevConfidence(sess *models.Session) float64 {
	if l := sess.LastLayer(); l != nil {
		return l.Confidence.Score
	}
	return 0
}

// intFromState reads an int-shaped state value, tolerating the float64
// shape JSON round-trips produce.
func intFromState(state map[string]any, key string, fallback int) int {
	switch v := state[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// floatFromState reads a float-shaped state value.
func floatFromState(state map[string]any, key string) (float64, bool) {
	switch v := state[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
