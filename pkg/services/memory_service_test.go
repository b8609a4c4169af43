package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/coordinate"
	"github.com/strata-sim/strata/pkg/memory"
)

const testEncodedCoord = "PL09|5415|||||||||||"

func TestMemoryServicePatchAndGet(t *testing.T) {
	graph := memory.NewGraph()
	svc := NewMemoryService(graph)

	_, err := svc.GetCell(CellLookupInput{Coordinate: testEncodedCoord})
	assert.ErrorIs(t, err, ErrNotFound)

	cell, err := svc.PatchCell(PatchCellInput{
		Coordinate: testEncodedCoord,
		Value:      map[string]any{"fact": "demand is seasonal"},
		Meta:       map[string]any{"source": "analysis"},
		Persona:    "analyst",
	})
	require.NoError(t, err)
	require.NotEmpty(t, cell.CellID)

	t.Run("lookup by string coordinate", func(t *testing.T) {
		got, err := svc.GetCell(CellLookupInput{Coordinate: testEncodedCoord})
		require.NoError(t, err)
		assert.Equal(t, cell.CellID, got.CellID)
	})

	t.Run("lookup by object coordinate", func(t *testing.T) {
		got, err := svc.GetCell(CellLookupInput{
			Coordinate: map[string]any{"pillar": "PL09", "sector": "5415"},
		})
		require.NoError(t, err)
		assert.Equal(t, cell.CellID, got.CellID)
	})

	t.Run("lookup by id", func(t *testing.T) {
		got, err := svc.GetCell(CellLookupInput{CellID: cell.CellID})
		require.NoError(t, err)
		assert.Equal(t, cell.CellID, got.CellID)

		_, err = svc.GetCell(CellLookupInput{CellID: "no-such-cell"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("persona filter", func(t *testing.T) {
		got, err := svc.GetCell(CellLookupInput{Coordinate: testEncodedCoord, Persona: "analyst"})
		require.NoError(t, err)
		assert.Equal(t, cell.CellID, got.CellID)

		_, err = svc.GetCell(CellLookupInput{Coordinate: testEncodedCoord, Persona: "skeptic"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryServiceValidation(t *testing.T) {
	svc := NewMemoryService(memory.NewGraph())

	tests := []struct {
		name  string
		field string
		call  func() error
	}{
		{
			name:  "get without coordinate or id",
			field: "coordinate",
			call: func() error {
				_, err := svc.GetCell(CellLookupInput{})
				return err
			},
		},
		{
			name:  "get with malformed coordinate",
			field: "coordinate",
			call: func() error {
				_, err := svc.GetCell(CellLookupInput{Coordinate: "not|enough|fields"})
				return err
			},
		},
		{
			name:  "get with unsupported coordinate type",
			field: "coordinate",
			call: func() error {
				_, err := svc.GetCell(CellLookupInput{Coordinate: 42})
				return err
			},
		},
		{
			name:  "patch without coordinate",
			field: "coordinate",
			call: func() error {
				_, err := svc.PatchCell(PatchCellInput{Value: "x"})
				return err
			},
		},
		{
			name:  "patch without value or meta",
			field: "value",
			call: func() error {
				_, err := svc.PatchCell(PatchCellInput{Coordinate: testEncodedCoord})
				return err
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestMemoryServiceAncestry(t *testing.T) {
	graph := memory.NewGraph()
	svc := NewMemoryService(graph)

	root, err := svc.PatchCell(PatchCellInput{Coordinate: testEncodedCoord, Value: "v1"})
	require.NoError(t, err)

	coord, err := coordinate.Parse(testEncodedCoord)
	require.NoError(t, err)
	child, err := graph.Fork(coord, "v2", nil, "alternative branch")
	require.NoError(t, err)
	grandchild, err := graph.Fork(coord, "v3", nil, "deeper branch")
	require.NoError(t, err)

	chain, err := svc.Ancestry(grandchild.CellID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, root.CellID, chain[0].CellID)
	assert.Equal(t, child.CellID, chain[1].CellID)
	assert.Equal(t, grandchild.CellID, chain[2].CellID)

	t.Run("blank id", func(t *testing.T) {
		_, err := svc.Ancestry("")
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.Ancestry("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryServiceStats(t *testing.T) {
	graph := memory.NewGraph()
	svc := NewMemoryService(graph)

	_, err := svc.PatchCell(PatchCellInput{Coordinate: testEncodedCoord, Value: "a", Persona: "analyst"})
	require.NoError(t, err)
	_, err = svc.PatchCell(PatchCellInput{
		Coordinate: map[string]any{"pillar": "PL01", "sector": "11", "location": "us-west"},
		Value:      "b",
		Persona:    "skeptic",
	})
	require.NoError(t, err)

	coord, err := coordinate.Parse(testEncodedCoord)
	require.NoError(t, err)
	_, err = graph.Fork(coord, "a2", nil, "what-if")
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.NCells)
	assert.Equal(t, 1, stats.NForks)
	assert.Equal(t, 3, stats.NPatches) // two creates + one fork
}
