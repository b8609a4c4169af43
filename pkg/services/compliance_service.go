package services

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/strata-sim/strata/pkg/compliance"
)

// ViolationQueryInput narrows a violations read. Zero values mean "no
// constraint".
type ViolationQueryInput struct {
	Type         string
	Severity     string
	Stage        *int
	SimulationID string
	Resolved     *bool
	Limit        int
}

// ComplianceService exposes the compliance engine's operator surface.
type ComplianceService struct {
	engine *compliance.Engine
	logger *slog.Logger
}

// NewComplianceService creates a new ComplianceService.
func NewComplianceService(engine *compliance.Engine) *ComplianceService {
	if engine == nil {
		panic("NewComplianceService: engine must not be nil")
	}
	return &ComplianceService{
		engine: engine,
		logger: slog.With("component", "services"),
	}
}

// Status summarizes the engine state.
func (s *ComplianceService) Status() *compliance.StatusReport {
	return s.engine.Status()
}

// Violations returns recorded violations matching the filter, oldest first.
func (s *ComplianceService) Violations(input ViolationQueryInput) []*compliance.Violation {
	if input.Limit < 0 {
		input.Limit = 0
	}
	return s.engine.Violations(compliance.VioFilter{
		Type:         input.Type,
		Severity:     compliance.Severity(input.Severity),
		Stage:        input.Stage,
		SimulationID: input.SimulationID,
		Resolved:     input.Resolved,
		Limit:        input.Limit,
	})
}

// Resolve marks a violation as handled with a reviewer note.
func (s *ComplianceService) Resolve(violationID, note string) error {
	if violationID == "" {
		return NewValidationError("violation_id", "required")
	}
	if err := s.engine.Resolve(violationID, note); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return nil
}

// ResetContainment lifts the containment latch. The reason is mandatory;
// the reset lands in the audit trail.
func (s *ComplianceService) ResetContainment(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return NewValidationError("reason", "reason is required")
	}
	s.engine.ResetContainment(reason)
	s.logger.Warn("Containment reset via API", "reason", reason)
	return nil
}
