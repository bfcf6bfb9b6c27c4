package tiling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cropseq/internal/eliminate"
	"github.com/banshee-data/cropseq/internal/neighbor"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/simplify"
)

var stripSpec = raster.GridSpec{Rows: 10, Cols: 20, CellSize: 1}

// labelledSet vectorizes label over window: one polygon per connected run
// of equal labels.
func labelledSet(t *testing.T, window raster.Window, label func(raster.Cell) uint64) *parcel.Set {
	t.Helper()
	return labelledSetIn(t, stripSpec, window, label)
}

func labelledSetIn(t *testing.T, spec raster.GridSpec, window raster.Window, label func(raster.Cell) uint64) *parcel.Set {
	t.Helper()
	byLabel := map[uint64][]raster.Cell{}
	var order []uint64
	for i := 0; i < window.Len(); i++ {
		c := window.CellAt(i)
		l := label(c)
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], c)
	}
	set := parcel.NewSet(spec, window)
	for _, l := range order {
		for _, comp := range parcel.Components(byLabel[l]) {
			_, err := set.Add(parcel.NewPolygon(spec, l, []uint16{uint16(l)}, comp))
			require.NoError(t, err)
		}
	}
	require.NoError(t, set.RetraceAll())
	return set
}

func stripTiles(t *testing.T) []Tile {
	t.Helper()
	tiles, err := Partition(stripSpec.Extent(), 10, 3)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	return tiles
}

func succeed(tiles []Tile, sets ...*parcel.Set) []TileResult {
	out := make([]TileResult, len(tiles))
	for i, tl := range tiles {
		out[i] = TileResult{Tile: tl, Outcome: OutcomeSuccess, Set: sets[i], Attempt: 1}
	}
	return out
}

func TestReconcileStitchesFieldAcrossSeam(t *testing.T) {
	tiles := stripTiles(t)
	field := func(raster.Cell) uint64 { return 7 }
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, field),
		labelledSet(t, tiles[1].Window, field))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{})
	require.NoError(t, err)

	require.Len(t, out.Polygons, 1, "one field, not two halves")
	p := out.Polygons[0]
	assert.Equal(t, parcel.ID(1), p.ID)
	assert.Equal(t, 200, p.Cells())
	assert.Equal(t, 200.0, p.FootprintArea)
	assert.Equal(t, uint64(7), p.Signature)
	assert.Equal(t, 1, out.Stitched)
	require.NotNil(t, p.Geometry)
	assert.Len(t, p.Geometry, 1)

	require.Len(t, out.Seams, 2)
	for i, rec := range out.Seams {
		assert.Equal(t, i, rec.Tile)
		assert.Equal(t, parcel.ID(1), rec.Global)
		assert.Equal(t, 100, rec.Cells)
	}
}

func TestReconcilePassThroughAtCoreEdge(t *testing.T) {
	tiles := stripTiles(t)
	halves := func(c raster.Cell) uint64 {
		if c.Col < 10 {
			return 1
		}
		return 2
	}
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, halves),
		labelledSet(t, tiles[1].Window, halves))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{})
	require.NoError(t, err)

	require.Len(t, out.Polygons, 2)
	assert.Empty(t, out.Seams, "margin slivers clip away to nothing")
	for i, p := range out.Polygons {
		assert.Equal(t, parcel.ID(i+1), p.ID)
		assert.Equal(t, uint64(i+1), p.Signature)
		assert.Equal(t, 100, p.Cells())
	}
}

func TestReconcileKeepsMismatchedSeamsApart(t *testing.T) {
	tiles := stripTiles(t)
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, func(raster.Cell) uint64 { return 1 }),
		labelledSet(t, tiles[1].Window, func(raster.Cell) uint64 { return 2 }))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, out.Polygons, 2)
	assert.Zero(t, out.Stitched)

	total := 0
	for _, p := range out.Polygons {
		total += p.Cells()
	}
	assert.Equal(t, 200, total, "cores partition the extent")
}

func TestReconcileOverlapThreshold(t *testing.T) {
	tiles := stripTiles(t)
	// Tile 0 saw the field stop at column 10; tile 1 saw it run the whole way.
	short := func(c raster.Cell) uint64 {
		if c.Col <= 10 {
			return 7
		}
		return 9
	}
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, short),
		labelledSet(t, tiles[1].Window, func(raster.Cell) uint64 { return 7 }))

	// Parents share columns 7..10 of the 7..12 overlap: 4/6 of the larger side.
	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{MinOverlapFraction: 0.9})
	require.NoError(t, err)
	assert.Zero(t, out.Stitched)

	out, err = Reconcile(stripSpec, tiles, results, ReconcileOptions{MinOverlapFraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stitched)
}

func TestReconcileGapTile(t *testing.T) {
	tiles := stripTiles(t)
	field := func(raster.Cell) uint64 { return 7 }
	results := succeed(tiles, labelledSet(t, tiles[0].Window, field), nil)
	results[1] = TileResult{Tile: tiles[1], Outcome: OutcomeGap, Reason: "corrupt"}

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, out.Polygons, 1)
	assert.Equal(t, 100, out.Polygons[0].Cells(), "gap core stays uncovered")
	assert.Equal(t, []raster.Window{tiles[1].Core}, out.Gaps)
}

func TestReconcileSimplifiesSeams(t *testing.T) {
	tiles := stripTiles(t)
	field := func(raster.Cell) uint64 { return 7 }
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, field),
		labelledSet(t, tiles[1].Window, field))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{Simplifier: &simplify.Simplifier{Tolerance: 0.9}})
	require.NoError(t, err)
	require.Len(t, out.Polygons, 1)
	assert.InDelta(t, 200.0, out.Polygons[0].Area, 1e-9)
	assert.Len(t, out.Polygons[0].Geometry[0], 5)
}

// smallWithNeighbours returns the polygons under threshold that share a
// cell edge with another output polygon.
func smallWithNeighbours(out *Output, threshold float64) []parcel.ID {
	owner := make(map[raster.Cell]parcel.ID)
	for _, p := range out.Polygons {
		for _, c := range p.Footprint {
			owner[c] = p.ID
		}
	}
	var bad []parcel.ID
	for _, p := range out.Polygons {
		if p.FootprintArea >= threshold {
			continue
		}
	cells:
		for _, c := range p.Footprint {
			for _, n := range c.Neighbors4() {
				if o, ok := owner[n]; ok && o != p.ID {
					bad = append(bad, p.ID)
					break cells
				}
			}
		}
	}
	return bad
}

func seamEngine(threshold float64) *eliminate.Engine {
	return &eliminate.Engine{Thresholds: []float64{threshold}, Policy: eliminate.PolicySurvivor}
}

func TestReconcileMergesSeamSliverIntoPassThrough(t *testing.T) {
	tiles := stripTiles(t)
	// Tile 0 ends field 7 at its core edge; tile 1 saw a different field up to
	// column 10, leaving a one-column piece inside its core.
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, func(c raster.Cell) uint64 {
			if c.Col < 10 {
				return 7
			}
			return 5
		}),
		labelledSet(t, tiles[1].Window, func(c raster.Cell) uint64 {
			if c.Col <= 10 {
				return 9
			}
			return 8
		}))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, out.Polygons, 3)
	assert.Equal(t, []parcel.ID{2}, smallWithNeighbours(out, 20))

	out, err = Reconcile(stripSpec, tiles, results, ReconcileOptions{Eliminate: seamEngine(20)})
	require.NoError(t, err)
	assert.Empty(t, smallWithNeighbours(out, 20))
	assert.Equal(t, 1, out.Eliminated)
	require.Len(t, out.Polygons, 2)

	grown, right := out.Polygons[0], out.Polygons[1]
	assert.Equal(t, parcel.ID(1), grown.ID)
	assert.Equal(t, uint64(7), grown.Signature)
	assert.Equal(t, 110.0, grown.FootprintArea)
	assert.InDelta(t, 110.0, grown.Area, 1e-9)
	require.Len(t, grown.Geometry, 1)
	assert.Equal(t, 11.0, grown.Geometry.Bound().Max[0])
	assert.Equal(t, parcel.ID(2), right.ID)
	assert.Equal(t, 90, right.Cells())

	require.Len(t, out.Seams, 1)
	assert.Equal(t, parcel.ID(1), out.Seams[0].Global)
}

func TestReconcileMergesSeamSliverIntoSeamPolygon(t *testing.T) {
	tiles := stripTiles(t)
	// Tile 1 saw a short strip along the top edge across the core boundary.
	results := succeed(tiles,
		labelledSet(t, tiles[0].Window, func(raster.Cell) uint64 { return 3 }),
		labelledSet(t, tiles[1].Window, func(c raster.Cell) uint64 {
			if c.Row == 0 && c.Col <= 10 {
				return 9
			}
			return 3
		}))

	out, err := Reconcile(stripSpec, tiles, results, ReconcileOptions{
		Simplifier: &simplify.Simplifier{Tolerance: 0.5},
		Eliminate:  seamEngine(20),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stitched)
	assert.Equal(t, 1, out.Eliminated)
	require.Len(t, out.Polygons, 1)
	p := out.Polygons[0]
	assert.Equal(t, parcel.ID(1), p.ID)
	assert.Equal(t, 200, p.Cells())
	assert.InDelta(t, 200.0, p.Area, 1e-9)
	assert.Len(t, p.Geometry[0], 5)

	require.Len(t, out.Seams, 3)
	for _, rec := range out.Seams {
		assert.Equal(t, parcel.ID(1), rec.Global)
	}
}

func TestReconcileNarrowMarginNoSmallSeamPolygons(t *testing.T) {
	spec := raster.GridSpec{Rows: 30, Cols: 30, CellSize: 1}
	tiles, err := Partition(spec.Extent(), 10, 2)
	require.NoError(t, err)
	require.Len(t, tiles, 9)

	// Each tile sees the same 6-cell blocks, shifted by its index, so the
	// blocks disagree across every core edge. Tiles eliminate on their own
	// first, as the pipeline does.
	sets := make([]*parcel.Set, len(tiles))
	for i, tl := range tiles {
		shift := int32(tl.Index)
		set := labelledSetIn(t, spec, tl.Window, func(c raster.Cell) uint64 {
			return uint64(((c.Row+shift)/6)*7+(c.Col+shift)/6) + 1
		})
		g, err := neighbor.Build(set)
		require.NoError(t, err)
		_, err = seamEngine(25).Run(context.Background(), set, g)
		require.NoError(t, err)
		require.NoError(t, set.RetraceAll())
		sets[i] = set
	}
	results := succeed(tiles, sets...)

	out, err := Reconcile(spec, tiles, results, ReconcileOptions{
		Simplifier: &simplify.Simplifier{Tolerance: 0.75},
		Eliminate:  seamEngine(25),
	})
	require.NoError(t, err)
	assert.Positive(t, out.Eliminated)
	assert.Empty(t, smallWithNeighbours(out, 25))

	total := 0
	for i, p := range out.Polygons {
		assert.Equal(t, parcel.ID(i+1), p.ID)
		require.NotEmpty(t, p.Geometry, "polygon %d", p.ID)
		total += p.Cells()
	}
	assert.Equal(t, 900, total)
	for _, rec := range out.Seams {
		assert.LessOrEqual(t, int(rec.Global), len(out.Polygons))
		assert.Positive(t, rec.Global)
	}
}

func TestReconcileLengthMismatch(t *testing.T) {
	_, err := Reconcile(stripSpec, stripTiles(t), nil, ReconcileOptions{})
	assert.Error(t, err)
}
