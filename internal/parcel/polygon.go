package parcel

import (
	"slices"

	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/raster"
)

// ID identifies a polygon within a Set. Zero means "no polygon".
type ID int64

// None is the zero ID, used for unowned cells and the outside of a set.
const None ID = 0

// Share is how much of a polygon came from one source signature.
type Share struct {
	Area    float64
	Regions int
}

// Polygon is a connected region of cells with one crop sequence.
type Polygon struct {
	ID         ID
	Signature  uint64
	Categories []uint16

	// Footprint is sorted row-major.
	Footprint []raster.Cell
	Bounds    raster.Window

	// FootprintArea is exact: cells * cell area. Area is the planar area of
	// Geometry and differs from FootprintArea only after simplification.
	FootprintArea float64
	Area          float64
	Geometry      orb.Polygon

	// Composition records the source signatures merged into this polygon.
	Composition map[uint64]Share
}

// NewPolygon builds a polygon from a footprint. The footprint is sorted in
// place and the geometry is left empty.
func NewPolygon(spec raster.GridSpec, sig uint64, cats []uint16, footprint []raster.Cell) *Polygon {
	SortCells(footprint)
	area := float64(len(footprint)) * spec.CellArea()
	return &Polygon{
		Signature:     sig,
		Categories:    slices.Clone(cats),
		Footprint:     footprint,
		Bounds:        CellBounds(footprint),
		FootprintArea: area,
		Area:          area,
		Composition:   map[uint64]Share{sig: {Area: area, Regions: 1}},
	}
}

// Cells returns the number of cells in the footprint.
func (p *Polygon) Cells() int { return len(p.Footprint) }

// Clone returns a deep copy of p.
func (p *Polygon) Clone() *Polygon {
	q := *p
	q.Categories = slices.Clone(p.Categories)
	q.Footprint = slices.Clone(p.Footprint)
	if p.Geometry != nil {
		q.Geometry = p.Geometry.Clone()
	}
	q.Composition = make(map[uint64]Share, len(p.Composition))
	for k, v := range p.Composition {
		q.Composition[k] = v
	}
	return &q
}

// Bound returns the planar bounding box of the footprint.
func (p *Polygon) Bound(spec raster.GridSpec) orb.Bound {
	x0, y1 := spec.VertexXY(int32(p.Bounds.Row), int32(p.Bounds.Col))
	x1, y0 := spec.VertexXY(int32(p.Bounds.Row+p.Bounds.Rows), int32(p.Bounds.Col+p.Bounds.Cols))
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
}
