package services

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/memory"
)

// CellLookupInput identifies a cell. Coordinate accepts the pipe-encoded
// string or the JSON-object form; CellID, when set, wins and retrieves any
// cell ever created, including ones a fork superseded.
type CellLookupInput struct {
	Coordinate any
	CellID     string
	Persona    string
}

// PatchCellInput carries one explicit memory patch.
type PatchCellInput struct {
	Coordinate any
	Value      any
	Meta       map[string]any
	Persona    string
}

// MemoryService exposes the shared memory graph to the API surface.
type MemoryService struct {
	graph  *memory.Graph
	logger *slog.Logger
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(graph *memory.Graph) *MemoryService {
	if graph == nil {
		panic("NewMemoryService: graph must not be nil")
	}
	return &MemoryService{
		graph:  graph,
		logger: slog.With("component", "services"),
	}
}

// GetCell returns the live cell at a coordinate, or any historical cell by
// id when CellID is set.
func (s *MemoryService) GetCell(input CellLookupInput) (*memory.Cell, error) {
	if input.CellID != "" {
		cell, err := s.graph.GetByID(input.CellID)
		if err != nil {
			return nil, translateMemoryError(err)
		}
		return cell, nil
	}

	if input.Coordinate == nil {
		return nil, NewValidationError("coordinate", "coordinate or cell_id is required")
	}
	coord, err := coordinate.FromAny(input.Coordinate)
	if err != nil {
		return nil, NewValidationError("coordinate", err.Error())
	}
	cell, err := s.graph.Get(coord, input.Persona)
	if err != nil {
		return nil, translateMemoryError(err)
	}
	return cell, nil
}

// PatchCell writes value and metadata at the coordinate, creating the cell
// when absent, and records the patch in the global patch log.
func (s *MemoryService) PatchCell(input PatchCellInput) (*memory.Cell, error) {
	if input.Coordinate == nil {
		return nil, NewValidationError("coordinate", "coordinate is required")
	}
	coord, err := coordinate.FromAny(input.Coordinate)
	if err != nil {
		return nil, NewValidationError("coordinate", err.Error())
	}
	if input.Value == nil && len(input.Meta) == 0 {
		return nil, NewValidationError("value", "value or meta is required")
	}

	cell, err := s.graph.Patch(coord, input.Value, input.Meta, input.Persona)
	if err != nil {
		return nil, fmt.Errorf("patching cell: %w", err)
	}
	return cell, nil
}

// Ancestry walks a cell's fork lineage from root to the given cell.
func (s *MemoryService) Ancestry(cellID string) ([]*memory.Cell, error) {
	if cellID == "" {
		return nil, NewValidationError("cell_id", "required")
	}
	chain, err := s.graph.Ancestry(cellID)
	if err != nil {
		return nil, translateMemoryError(err)
	}
	return chain, nil
}

// Stats returns the graph-level counters.
func (s *MemoryService) Stats() memory.Stats {
	return s.graph.Stats()
}

func translateMemoryError(err error) error {
	if errors.Is(err, memory.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
