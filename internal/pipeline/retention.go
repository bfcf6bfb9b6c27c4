package pipeline

import (
	"math"
	"slices"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/signature"
)

// Retention decides whether a polygon shows enough cropping to keep.
type Retention struct {
	Rule         signature.CountRule
	MinCropYears int
	// MinArea admits polygons with a single net crop year when at least
	// this large.
	MinArea float64
}

// Keep applies the rule: enough net crop years, or one net crop year over
// a large enough area.
func (r Retention) Keep(cats []uint16, area float64) bool {
	net := r.Rule.NetCropYears(cats)
	return net >= r.MinCropYears || (net >= 1 && area >= r.MinArea)
}

// needsArea reports whether the decision for cats depends on area.
func (r Retention) needsArea(cats []uint16) bool {
	net := r.Rule.NetCropYears(cats)
	return net >= 1 && net < r.MinCropYears
}

// filterRegions removes freshly vectorized polygons that fail r. A region
// cut by the tile window is measured in the full stack so every tile that
// sees it reaches the same decision.
func (r Retention) filterRegions(set *parcel.Set, stack *raster.Stack, window raster.Window) int {
	removed := 0
	limit := int(math.Ceil(r.MinArea / stack.Spec.CellArea()))
	for _, p := range set.Polygons() {
		area := p.FootprintArea
		if r.needsArea(p.Categories) && area < r.MinArea && touchesEdge(p.Bounds, window) {
			area = float64(regionCells(stack, p.Footprint[0], limit)) * stack.Spec.CellArea()
		}
		if !r.Keep(p.Categories, area) {
			set.Remove(p.ID)
			removed++
		}
	}
	return removed
}

func touchesEdge(b, w raster.Window) bool {
	return b.Row == w.Row || b.Col == w.Col ||
		b.Row+b.Rows == w.Row+w.Rows || b.Col+b.Cols == w.Col+w.Cols
}

// regionCells counts the cells edge-connected to seed that carry the same
// category in every year, stopping at limit.
func regionCells(stack *raster.Stack, seed raster.Cell, limit int) int {
	w := stack.Window()
	tuple := func(c raster.Cell) []uint16 {
		out := make([]uint16, len(stack.Grids))
		for i, g := range stack.Grids {
			out[i] = g.At(c)
		}
		return out
	}
	want := tuple(seed)
	seen := map[raster.Cell]bool{seed: true}
	queue := []raster.Cell{seed}
	for qi := 0; qi < len(queue) && len(queue) < limit; qi++ {
		for _, n := range queue[qi].Neighbors4() {
			if !w.Contains(n) || seen[n] {
				continue
			}
			seen[n] = true
			if slices.Equal(tuple(n), want) {
				queue = append(queue, n)
			}
		}
	}
	return min(len(queue), limit)
}
