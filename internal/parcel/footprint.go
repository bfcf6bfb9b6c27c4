package parcel

import (
	"cmp"
	"slices"

	"github.com/banshee-data/cropseq/internal/raster"
)

// CompareCells orders cells row-major.
func CompareCells(a, b raster.Cell) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Col, b.Col)
}

// SortCells sorts cells row-major in place.
func SortCells(cells []raster.Cell) {
	slices.SortFunc(cells, CompareCells)
}

// MergeFootprints returns the sorted union of two sorted footprints.
func MergeFootprints(a, b []raster.Cell) []raster.Cell {
	out := make([]raster.Cell, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := CompareCells(a[i], b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// CellBounds returns the smallest window containing every cell.
func CellBounds(cells []raster.Cell) raster.Window {
	if len(cells) == 0 {
		return raster.Window{}
	}
	r0, c0 := cells[0].Row, cells[0].Col
	r1, c1 := r0, c0
	for _, c := range cells[1:] {
		r0, r1 = min(r0, c.Row), max(r1, c.Row)
		c0, c1 = min(c0, c.Col), max(c1, c.Col)
	}
	return raster.Window{Row: int(r0), Col: int(c0), Rows: int(r1-r0) + 1, Cols: int(c1-c0) + 1}
}

// Mask is a bitmap of cells over a window.
type Mask struct {
	Window raster.Window
	bits   []bool
}

// NewMask builds a mask over the bounds of cells.
func NewMask(cells []raster.Cell) *Mask {
	m := &Mask{Window: CellBounds(cells)}
	m.bits = make([]bool, m.Window.Len())
	for _, c := range cells {
		m.bits[m.Window.Index(c)] = true
	}
	return m
}

// Has reports whether the cell is set.
func (m *Mask) Has(c raster.Cell) bool {
	return m.Window.Contains(c) && m.bits[m.Window.Index(c)]
}

// Components splits cells into 4-connected groups. Each group is sorted
// row-major and groups are ordered by their first cell.
func Components(cells []raster.Cell) [][]raster.Cell {
	if len(cells) == 0 {
		return nil
	}
	m := NewMask(cells)
	seen := make([]bool, len(m.bits))
	sorted := slices.Clone(cells)
	SortCells(sorted)

	var comps [][]raster.Cell
	for _, start := range sorted {
		i0 := m.Window.Index(start)
		if seen[i0] {
			continue
		}
		seen[i0] = true
		queue := []raster.Cell{start}
		for qi := 0; qi < len(queue); qi++ {
			for _, n := range queue[qi].Neighbors4() {
				if !m.Has(n) {
					continue
				}
				ni := m.Window.Index(n)
				if !seen[ni] {
					seen[ni] = true
					queue = append(queue, n)
				}
			}
		}
		SortCells(queue)
		comps = append(comps, queue)
	}
	return comps
}
