package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/models"
)

// PatchKind classifies entries in a cell's patch history and the graph's
// global patch log.
type PatchKind string

const (
	PatchKindCreate PatchKind = "create"
	PatchKindEdit   PatchKind = "edit"
	PatchKindFork   PatchKind = "fork"
	PatchKindDelete PatchKind = "delete"
)

// PatchRecord describes one mutation. Cell-local history and the global
// patch log share the shape; global records carry the coordinate encoding so
// consumers can replay without resolving cell ids.
type PatchRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       PatchKind `json:"kind"`
	Coordinate string    `json:"coordinate"`
	CellID     string    `json:"cell_id"`
	Persona    string    `json:"persona,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ForkedFrom string    `json:"forked_from,omitempty"`
}

// EntropyEvent is one decay step applied to a cell.
type EntropyEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Delta     float64   `json:"delta"`
	Entropy   float64   `json:"entropy"`
}

// Cell is the unit of storage: a value at a coordinate with metadata, fork
// lineage and an append-only patch history. The live cell at a coordinate is
// the one the graph's primary map points at; superseded ancestors stay
// reachable by cell id.
type Cell struct {
	CellID       string                `json:"memory_cell_id"`
	Coordinate   coordinate.Coordinate `json:"coordinate"`
	Value        any                   `json:"value"`
	Meta         map[string]any        `json:"meta"`
	CreatedAt    time.Time             `json:"created_at"`
	LastModified time.Time             `json:"last_modified"`
	ParentCellID string                `json:"parent_cell_id,omitempty"`
	Lineage      []string              `json:"lineage"`
	Children     []string              `json:"children,omitempty"`
	PatchHistory []PatchRecord         `json:"patch_history"`
	EntropyLog   []EntropyEvent        `json:"entropy_log,omitempty"`
}

// Persona returns the persona recorded in the cell's metadata, if any.
func (c *Cell) Persona() string {
	if c.Meta == nil {
		return ""
	}
	if p, ok := c.Meta["persona"].(string); ok {
		return p
	}
	return ""
}

// Entropy returns the accumulated entropy recorded in the cell's metadata.
func (c *Cell) Entropy() float64 {
	if c.Meta == nil {
		return 0
	}
	switch v := c.Meta["entropy"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Clone returns a deep copy so readers never alias the graph's canonical
// cell.
func (c *Cell) Clone() *Cell {
	if c == nil {
		return nil
	}
	out := *c
	out.Value = models.CloneValue(c.Value)
	out.Meta = models.CloneMap(c.Meta)
	out.Lineage = append([]string(nil), c.Lineage...)
	out.Children = append([]string(nil), c.Children...)
	out.PatchHistory = append([]PatchRecord(nil), c.PatchHistory...)
	out.EntropyLog = append([]EntropyEvent(nil), c.EntropyLog...)
	return &out
}

// deriveCellID builds the globally unique cell id from the coordinate hash
// and the creation timestamp.
func deriveCellID(coordHash string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", coordHash, createdAt.UnixNano())))
	return "cell-" + hex.EncodeToString(sum[:])[:24]
}
