package parcel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cropseq/internal/raster"
)

func TestSetAddAndOwner(t *testing.T) {
	spec := raster.GridSpec{Rows: 10, Cols: 10, CellSize: 10}
	s := NewSet(spec, raster.Window{Row: 2, Col: 2, Rows: 5, Cols: 5})

	id, err := s.Add(NewPolygon(spec, 7, []uint16{1}, block(2, 2, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, ID(1), id)
	assert.Equal(t, id, s.Owner(raster.Cell{Row: 3, Col: 3}))
	assert.Equal(t, None, s.Owner(raster.Cell{Row: 4, Col: 4}))
	assert.Equal(t, None, s.Owner(raster.Cell{Row: 0, Col: 0}), "outside window")

	_, err = s.Add(NewPolygon(spec, 8, []uint16{2}, cells(3, 3)))
	assert.True(t, errors.Is(err, ErrCellOwned))

	_, err = s.Add(NewPolygon(spec, 8, []uint16{2}, cells(9, 9)))
	assert.Error(t, err, "cells outside the dense window are rejected")

	p := s.Get(id)
	assert.Equal(t, 400.0, p.FootprintArea)
	assert.Equal(t, raster.Window{Row: 2, Col: 2, Rows: 2, Cols: 2}, p.Bounds)
}

func TestSetAbsorb(t *testing.T) {
	spec := raster.GridSpec{Rows: 10, Cols: 10, CellSize: 1}
	s := NewSet(spec, spec.Extent())
	a, err := s.Add(NewPolygon(spec, 1, []uint16{1}, block(0, 0, 2, 2)))
	require.NoError(t, err)
	b, err := s.Add(NewPolygon(spec, 2, []uint16{2}, block(0, 2, 2, 1)))
	require.NoError(t, err)
	require.NoError(t, s.RetraceAll())

	require.NoError(t, s.Absorb(a, b))
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Get(b))
	assert.Equal(t, a, s.Owner(raster.Cell{Row: 1, Col: 2}))

	p := s.Get(a)
	assert.Equal(t, 6.0, p.FootprintArea)
	assert.Nil(t, p.Geometry, "geometry is invalidated by a merge")
	assert.Equal(t, Share{Area: 4, Regions: 1}, p.Composition[1])
	assert.Equal(t, Share{Area: 2, Regions: 1}, p.Composition[2])

	require.NoError(t, s.Retrace(a))
	assert.Len(t, p.Geometry, 1)
	assert.Len(t, p.Geometry[0], 5)

	assert.True(t, errors.Is(s.Absorb(a, b), ErrUnknownPolygon))
	assert.Error(t, s.Absorb(a, a))
}

func TestSparseSet(t *testing.T) {
	spec := raster.GridSpec{Rows: 1000, Cols: 1000, CellSize: 1}
	s := NewSparseSet(spec)
	p := NewPolygon(spec, 3, []uint16{3}, cells(900, 900, 900, 901))
	p.ID = 42
	id, err := s.Add(p)
	require.NoError(t, err)
	assert.Equal(t, ID(42), id)
	assert.Equal(t, ID(42), s.Owner(raster.Cell{Row: 900, Col: 901}))

	next, err := s.Add(NewPolygon(spec, 4, []uint16{4}, cells(5, 5)))
	require.NoError(t, err)
	assert.Equal(t, ID(43), next)

	s.Remove(42)
	assert.Equal(t, None, s.Owner(raster.Cell{Row: 900, Col: 900}))
	assert.Equal(t, []ID{43}, s.IDs())
}
