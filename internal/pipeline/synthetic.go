package pipeline

import (
	"math/rand/v2"

	"github.com/banshee-data/cropseq/internal/raster"
)

// Crop codes used by the synthetic generator.
var syntheticCrops = []uint16{1, 5, 24, 36, 61, 176}

// SyntheticOptions shapes a generated stack.
type SyntheticOptions struct {
	Rows, Cols int
	Years      []int
	CellSize   float64
	// FieldCells is the typical field side in cells.
	FieldCells int
	// RoadEvery puts a nodata row and column every this many cells; 0 disables.
	RoadEvery int
	// Speckle is the chance a cell takes a random crop in one year.
	Speckle float64
	Seed    uint64
}

// Synthetic generates a rectangular-field landscape with crop rotations,
// roads and per-year speckle. The same options always produce the same stack.
func Synthetic(o SyntheticOptions) *raster.Stack {
	if o.FieldCells <= 0 {
		o.FieldCells = 10
	}
	if o.CellSize <= 0 {
		o.CellSize = 30
	}
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))
	years := len(o.Years)
	w := raster.Window{Rows: o.Rows, Cols: o.Cols}

	// Field boundaries along each axis, jittered around FieldCells.
	cuts := func(n int) []int {
		var out []int
		for x := 0; x < n; {
			out = append(out, x)
			x += max(2, o.FieldCells/2+rng.IntN(o.FieldCells+1))
		}
		return append(out, n)
	}
	rowCuts, colCuts := cuts(o.Rows), cuts(o.Cols)

	grids := make([]*raster.CategoryGrid, years)
	for y := range grids {
		grids[y] = &raster.CategoryGrid{Year: o.Years[y], Window: w, Cells: make([]uint16, w.Len())}
	}

	for ri := 0; ri+1 < len(rowCuts); ri++ {
		for ci := 0; ci+1 < len(colCuts); ci++ {
			// Each field rotates through a short crop cycle from a random phase.
			cycle := []uint16{
				syntheticCrops[rng.IntN(len(syntheticCrops))],
				syntheticCrops[rng.IntN(len(syntheticCrops))],
			}
			if rng.IntN(8) == 0 {
				cycle = []uint16{45} // barren ground
			}
			phase := rng.IntN(len(cycle))
			for r := rowCuts[ri]; r < rowCuts[ri+1]; r++ {
				for c := colCuts[ci]; c < colCuts[ci+1]; c++ {
					i := r*o.Cols + c
					for y := range grids {
						grids[y].Cells[i] = cycle[(y+phase)%len(cycle)]
					}
				}
			}
		}
	}

	for i := 0; i < w.Len(); i++ {
		r, c := i/o.Cols, i%o.Cols
		if o.RoadEvery > 0 && (r%o.RoadEvery == o.RoadEvery-1 || c%o.RoadEvery == o.RoadEvery-1) {
			for y := range grids {
				grids[y].Cells[i] = 0
			}
			continue
		}
		for y := range grids {
			if rng.Float64() < o.Speckle {
				grids[y].Cells[i] = syntheticCrops[rng.IntN(len(syntheticCrops))]
			}
		}
	}

	return &raster.Stack{
		Spec:        raster.GridSpec{Rows: o.Rows, Cols: o.Cols, OriginX: 500000, OriginY: 4500000, CellSize: o.CellSize},
		Years:       append([]int(nil), o.Years...),
		Nodata:      0,
		MaxCategory: 254,
		Grids:       grids,
	}
}
