package services

import (
	"log/slog"
	"time"

	"github.com/strata-sim/strata/pkg/audit"
)

// AuditQueryInput narrows an audit log read. Zero values mean "no
// constraint".
type AuditQueryInput struct {
	EventType    string
	Stage        *int
	SimulationID string
	Persona      string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// ChainReport is the outcome of a chain verification walk.
type ChainReport struct {
	Valid   bool `json:"valid"`
	Entries int  `json:"entries"`
	// BrokenAt is the index of the first entry whose chain linkage failed
	// to verify; -1 when the chain is intact.
	BrokenAt int `json:"broken_at"`
}

// AuditService reads the process-global audit trail.
type AuditService struct {
	trail  *audit.Log
	logger *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(trail *audit.Log) *AuditService {
	if trail == nil {
		panic("NewAuditService: trail must not be nil")
	}
	return &AuditService{
		trail:  trail,
		logger: slog.With("component", "services"),
	}
}

// Query returns entries matching the filter in insertion order.
func (s *AuditService) Query(input AuditQueryInput) []*audit.Entry {
	if input.Limit < 0 {
		input.Limit = 0
	}
	if input.Offset < 0 {
		input.Offset = 0
	}
	return s.trail.Query(audit.Filter{
		EventType:    audit.EventType(input.EventType),
		Stage:        input.Stage,
		SimulationID: input.SimulationID,
		Persona:      input.Persona,
		Since:        input.Since,
		Until:        input.Until,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
}

// Bundle exports a point-in-time snapshot of one simulation's entries, or
// of the whole trail when simulationID is empty.
func (s *AuditService) Bundle(simulationID string, since time.Time) *audit.Bundle {
	return s.trail.SnapshotBundle(simulationID, since)
}

// Verify walks the hash chain and reports whether every entry still links
// to its predecessor.
func (s *AuditService) Verify() *ChainReport {
	valid, brokenAt := s.trail.VerifyChain()
	report := &ChainReport{
		Valid:    valid,
		Entries:  s.trail.Len(),
		BrokenAt: brokenAt,
	}
	if !valid {
		s.logger.Error("Audit chain verification failed", "broken_at", brokenAt)
	}
	return report
}
