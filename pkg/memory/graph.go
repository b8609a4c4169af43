// Package memory implements the process-global memory graph: a mapping from
// coordinate hash to the live cell at that coordinate, with a persona index,
// a chronological global patch log and fork lineage across superseded cells.
//
// All operations are externally atomic: a single mutex guards the primary
// map, the persona index and the patch log, and every mutation updates all
// three inside the same critical section. Readers receive deep clones.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/models"
)

// ErrNotFound is returned when no live cell exists at a coordinate (or the
// persona filter excludes it), and by id lookups for unknown cell ids.
var ErrNotFound = errors.New("memory cell not found")

// Stats is the graph-level counter snapshot.
type Stats struct {
	NCells    int `json:"n_cells"`
	NPersonas int `json:"n_personas"`
	NForks    int `json:"n_forks"`
	NPatches  int `json:"n_patches"`
}

// Graph is the coordinate-indexed cell store. One instance is shared by all
// sessions; cross-session knowledge accumulation is intentional.
type Graph struct {
	mu       sync.Mutex
	cells    map[string]*Cell            // coordinate hash -> live cell
	byID     map[string]*Cell            // every cell ever created, incl. superseded
	personas map[string]map[string]bool  // persona -> set of live cell ids
	patchLog []PatchRecord
	forks    int
	lastNano int64 // monotonic creation clock for cell-id derivation

	logger *slog.Logger
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		cells:    make(map[string]*Cell),
		byID:     make(map[string]*Cell),
		personas: make(map[string]map[string]bool),
		logger:   slog.With("component", "memory"),
	}
}

// Get returns the live cell at the coordinate. When persona is non-empty the
// cell must carry that persona in its metadata, otherwise the lookup reports
// ErrNotFound.
func (g *Graph) Get(coord coordinate.Coordinate, persona string) (*Cell, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	cell, ok := g.cells[coord.Hash()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, coord.Encode())
	}
	if persona != "" && cell.Persona() != persona {
		return nil, fmt.Errorf("%w: %s (persona %s)", ErrNotFound, coord.Encode(), persona)
	}
	return cell.Clone(), nil
}

// GetByID returns any cell ever created, including cells a fork has
// superseded.
func (g *Graph) GetByID(cellID string) (*Cell, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cell, ok := g.byID[cellID]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, cellID)
	}
	return cell.Clone(), nil
}

// Set creates the cell at the coordinate, or patches it in place when one
// already exists (recording an edit in the cell's history). Creation appends
// to the global patch log; in-place edits via Set touch only the cell
// history.
func (g *Graph) Set(coord coordinate.Coordinate, value any, meta map[string]any, persona string) (*Cell, error) {
	return g.write(coord, value, meta, persona, false)
}

// Patch behaves like Set but always appends to the global patch log, so
// replayers see every explicit patch in chronological order.
func (g *Graph) Patch(coord coordinate.Coordinate, value any, meta map[string]any, persona string) (*Cell, error) {
	return g.write(coord, value, meta, persona, true)
}

func (g *Graph) write(coord coordinate.Coordinate, value any, meta map[string]any, persona string, logEdit bool) (*Cell, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	hash := coord.Hash()
	now := time.Now().UTC()

	if existing, ok := g.cells[hash]; ok {
		g.applyEdit(existing, value, meta, persona, now)
		record := PatchRecord{
			Timestamp:  now,
			Kind:       PatchKindEdit,
			Coordinate: coord.Encode(),
			CellID:     existing.CellID,
			Persona:    persona,
		}
		existing.PatchHistory = append(existing.PatchHistory, record)
		if logEdit {
			g.patchLog = append(g.patchLog, record)
		}
		return existing.Clone(), nil
	}

	cell := g.createLocked(coord, hash, value, meta, persona, now)
	record := PatchRecord{
		Timestamp:  now,
		Kind:       PatchKindCreate,
		Coordinate: coord.Encode(),
		CellID:     cell.CellID,
		Persona:    persona,
	}
	cell.PatchHistory = append(cell.PatchHistory, record)
	g.patchLog = append(g.patchLog, record)
	return cell.Clone(), nil
}

// Fork creates a child cell at the coordinate, wiring lineage both ways and
// replacing the live cell. The parent stays reachable by cell id only.
func (g *Graph) Fork(coord coordinate.Coordinate, newValue any, meta map[string]any, reason string) (*Cell, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	hash := coord.Hash()
	parent, ok := g.cells[hash]
	if !ok {
		return nil, fmt.Errorf("%w: cannot fork %s", ErrNotFound, coord.Encode())
	}

	now := time.Now().UTC()
	persona := ""
	if meta != nil {
		if p, ok := meta["persona"].(string); ok {
			persona = p
		}
	}

	child := g.createLocked(coord, hash, newValue, meta, persona, now)
	child.ParentCellID = parent.CellID
	child.Lineage = append(append([]string(nil), parent.Lineage...), parent.CellID)
	parent.Children = append(parent.Children, child.CellID)

	// The parent leaves the primary map, so its persona index entry goes
	// with it (the index only references live cells).
	g.unindexPersonaLocked(parent)
	g.cells[hash] = child
	g.forks++

	record := PatchRecord{
		Timestamp:  now,
		Kind:       PatchKindFork,
		Coordinate: coord.Encode(),
		CellID:     child.CellID,
		Persona:    persona,
		Reason:     reason,
		ForkedFrom: parent.CellID,
	}
	child.PatchHistory = append(child.PatchHistory, record)
	g.patchLog = append(g.patchLog, record)

	g.logger.Debug("Forked memory cell",
		"coordinate", coord.Encode(), "parent", parent.CellID, "child", child.CellID, "reason", reason)
	return child.Clone(), nil
}

// Decay increments the cell's entropy metadata by delta and appends the step
// to its entropy log.
func (g *Graph) Decay(coord coordinate.Coordinate, delta float64) error {
	if err := coord.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	cell, ok := g.cells[coord.Hash()]
	if !ok {
		return fmt.Errorf("%w: cannot decay %s", ErrNotFound, coord.Encode())
	}
	if cell.Meta == nil {
		cell.Meta = make(map[string]any)
	}
	entropy := cell.Entropy() + delta
	cell.Meta["entropy"] = entropy
	now := time.Now().UTC()
	cell.LastModified = now
	cell.EntropyLog = append(cell.EntropyLog, EntropyEvent{Timestamp: now, Delta: delta, Entropy: entropy})
	return nil
}

// Delete removes the live cell at the coordinate from the primary map and
// the persona index. Superseded ancestors stay reachable by id.
func (g *Graph) Delete(coord coordinate.Coordinate) error {
	if err := coord.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	hash := coord.Hash()
	cell, ok := g.cells[hash]
	if !ok {
		return fmt.Errorf("%w: cannot delete %s", ErrNotFound, coord.Encode())
	}
	g.unindexPersonaLocked(cell)
	delete(g.cells, hash)
	delete(g.byID, cell.CellID)
	g.patchLog = append(g.patchLog, PatchRecord{
		Timestamp:  time.Now().UTC(),
		Kind:       PatchKindDelete,
		Coordinate: coord.Encode(),
		CellID:     cell.CellID,
		Persona:    cell.Persona(),
	})
	return nil
}

// FindByPersona returns clones of every live cell indexed under the persona.
func (g *Graph) FindByPersona(persona string) []*Cell {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.personas[persona]
	cells := make([]*Cell, 0, len(ids))
	for id := range ids {
		if cell, ok := g.byID[id]; ok {
			cells = append(cells, cell.Clone())
		}
	}
	return cells
}

// PatchLogSince returns the chronological tail of the global patch log with
// records strictly after ts. A zero ts returns the whole log.
func (g *Graph) PatchLogSince(ts time.Time) []PatchRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PatchRecord, 0, len(g.patchLog))
	for _, rec := range g.patchLog {
		if rec.Timestamp.After(ts) {
			out = append(out, rec)
		}
	}
	return out
}

// Ancestry walks the lineage of a cell from root ancestor to the cell
// itself, returning clones.
func (g *Graph) Ancestry(cellID string) ([]*Cell, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cell, ok := g.byID[cellID]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, cellID)
	}
	chain := make([]*Cell, 0, len(cell.Lineage)+1)
	for _, ancestorID := range cell.Lineage {
		if ancestor, ok := g.byID[ancestorID]; ok {
			chain = append(chain, ancestor.Clone())
		}
	}
	return append(chain, cell.Clone()), nil
}

// Stats returns the current counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Stats{
		NCells:    len(g.cells),
		NPersonas: len(g.personas),
		NForks:    g.forks,
		NPatches:  len(g.patchLog),
	}
}

// ──────────────────────────────────────────────────────────────
// Internal helpers (callers hold g.mu)
// ──────────────────────────────────────────────────────────────

func (g *Graph) createLocked(coord coordinate.Coordinate, hash string, value any, meta map[string]any, persona string, now time.Time) *Cell {
	nano := now.UnixNano()
	if nano <= g.lastNano {
		nano = g.lastNano + 1
	}
	g.lastNano = nano
	createdAt := time.Unix(0, nano).UTC()

	cellMeta := models.CloneMap(meta)
	if cellMeta == nil {
		cellMeta = make(map[string]any)
	}
	if persona != "" {
		cellMeta["persona"] = persona
	}

	cell := &Cell{
		CellID:       deriveCellID(hash, createdAt),
		Coordinate:   coord,
		Value:        models.CloneValue(value),
		Meta:         cellMeta,
		CreatedAt:    createdAt,
		LastModified: createdAt,
		Lineage:      []string{},
	}
	g.cells[hash] = cell
	g.byID[cell.CellID] = cell
	g.indexPersonaLocked(cell)
	return cell
}

func (g *Graph) applyEdit(cell *Cell, value any, meta map[string]any, persona string, now time.Time) {
	cell.Value = models.CloneValue(value)
	if meta != nil {
		if cell.Meta == nil {
			cell.Meta = make(map[string]any)
		}
		for k, v := range meta {
			cell.Meta[k] = models.CloneValue(v)
		}
	}
	if persona != "" {
		g.unindexPersonaLocked(cell)
		cell.Meta["persona"] = persona
		g.indexPersonaLocked(cell)
	}
	cell.LastModified = now
}

func (g *Graph) indexPersonaLocked(cell *Cell) {
	persona := cell.Persona()
	if persona == "" {
		return
	}
	set, ok := g.personas[persona]
	if !ok {
		set = make(map[string]bool)
		g.personas[persona] = set
	}
	set[cell.CellID] = true
}

func (g *Graph) unindexPersonaLocked(cell *Cell) {
	persona := cell.Persona()
	if persona == "" {
		return
	}
	if set, ok := g.personas[persona]; ok {
		delete(set, cell.CellID)
		if len(set) == 0 {
			delete(g.personas, persona)
		}
	}
}
