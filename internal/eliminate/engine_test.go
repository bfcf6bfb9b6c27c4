package eliminate

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/neighbor"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/signature"
)

func init() {
	monitoring.SetLogger(nil)
}

func block(r0, c0, rows, cols int32) []raster.Cell {
	var out []raster.Cell
	for r := r0; r < r0+rows; r++ {
		for c := c0; c < c0+cols; c++ {
			out = append(out, raster.Cell{Row: r, Col: c})
		}
	}
	return out
}

type fixture struct {
	spec raster.GridSpec
	enc  *signature.Encoder
	set  *parcel.Set
}

func newFixture(t *testing.T, rows, cols int) *fixture {
	t.Helper()
	spec := raster.GridSpec{Rows: rows, Cols: cols, CellSize: 1}
	enc, err := signature.NewEncoder(1, 9)
	require.NoError(t, err)
	return &fixture{spec: spec, enc: enc, set: parcel.NewSet(spec, spec.Extent())}
}

func (f *fixture) add(t *testing.T, cat uint16, fp []raster.Cell) parcel.ID {
	t.Helper()
	sig, err := f.enc.EncodeCategories([]uint16{cat})
	require.NoError(t, err)
	id, err := f.set.Add(parcel.NewPolygon(f.spec, sig, []uint16{cat}, fp))
	require.NoError(t, err)
	return id
}

func (f *fixture) run(t *testing.T, e *Engine) Stats {
	t.Helper()
	g, err := neighbor.Build(f.set)
	require.NoError(t, err)
	if e.Encoder == nil {
		e.Encoder = f.enc
	}
	stats, err := e.Run(context.Background(), f.set, g)
	require.NoError(t, err)
	require.NoError(t, g.Check(f.set))
	return stats
}

func TestSmallMergesIntoLargeNeighbour(t *testing.T) {
	// 50 cells under a 500-cell block, sharing 30 unit edges with it.
	f := newFixture(t, 12, 50)
	big := f.add(t, 1, block(0, 0, 10, 50))
	small := f.add(t, 2, append(block(10, 0, 1, 30), block(11, 0, 1, 20)...))
	g, err := neighbor.Build(f.set)
	require.NoError(t, err)
	require.Equal(t, 30.0, g.Weight(big, small))

	stats := f.run(t, &Engine{Thresholds: []float64{100}})
	assert.Equal(t, 1, f.set.Len())
	assert.Equal(t, 1, stats.Merges())
	p := f.set.Get(big)
	require.NotNil(t, p)
	assert.Equal(t, 550.0, p.FootprintArea)
	assert.Equal(t, []uint16{1}, p.Categories)
	assert.Equal(t, 1, stats.Tiers[0].Before-stats.Tiers[0].After)
}

func TestTargetTieBreaks(t *testing.T) {
	// A single cell between two neighbours on equal boundaries goes to the
	// larger one; with equal areas it goes to the lower id.
	f := newFixture(t, 3, 9)
	left := f.add(t, 1, block(0, 0, 1, 4))
	f.add(t, 2, block(0, 4, 1, 1))
	right := f.add(t, 3, block(0, 5, 1, 3))
	f.run(t, &Engine{Thresholds: []float64{2}})
	assert.Equal(t, 5.0, f.set.Get(left).FootprintArea)
	assert.Equal(t, 3.0, f.set.Get(right).FootprintArea)

	f = newFixture(t, 1, 7)
	first := f.add(t, 1, block(0, 0, 1, 3))
	f.add(t, 2, block(0, 3, 1, 1))
	f.add(t, 3, block(0, 4, 1, 3))
	f.run(t, &Engine{Thresholds: []float64{2}})
	assert.Equal(t, 4.0, f.set.Get(first).FootprintArea)
}

func TestLongestSharedBoundaryWins(t *testing.T) {
	f := newFixture(t, 10, 10)
	// The 6-cell corner polygon shares 3 edges with wide and with the 18-cell
	// block below it, and 2 with tall; wide wins the tie on area.
	wide := f.add(t, 1, block(0, 0, 2, 10))
	tall := f.add(t, 2, block(2, 3, 8, 7))
	f.add(t, 3, block(2, 0, 2, 3))
	f.add(t, 4, block(4, 0, 6, 3))
	f.run(t, &Engine{Thresholds: []float64{7}, Policy: PolicySurvivor})
	assert.Equal(t, 26.0, f.set.Get(wide).FootprintArea)
	assert.Equal(t, 56.0, f.set.Get(tall).FootprintArea)
}

func TestIsolatedPolygonKept(t *testing.T) {
	f := newFixture(t, 10, 10)
	f.add(t, 1, block(0, 0, 2, 2))
	f.add(t, 2, block(5, 5, 3, 3))
	stats := f.run(t, &Engine{Thresholds: []float64{100}})
	assert.Equal(t, 2, f.set.Len())
	assert.Equal(t, 2, stats.Tiers[0].Isolated)
	assert.Equal(t, 1, stats.Tiers[0].Passes)
}

func TestMergePolicies(t *testing.T) {
	build := func(t *testing.T) (*fixture, parcel.ID) {
		f := newFixture(t, 3, 12)
		big := f.add(t, 1, block(0, 0, 3, 4)) // 12 cells
		f.add(t, 2, block(0, 4, 3, 2))        // 6 cells
		f.add(t, 1, block(0, 6, 3, 1))        // 3 cells, same category as big
		f.add(t, 2, block(0, 7, 3, 2))        // 6 cells
		f.add(t, 2, block(0, 9, 3, 3))        // 9 cells
		return f, big
	}

	f, big := build(t)
	f.run(t, &Engine{Thresholds: []float64{100}, Policy: PolicyAreaWeighted})
	require.Equal(t, 1, f.set.Len())
	p := f.set.Get(big)
	// 15 cells of category 1 against 21 of category 2.
	assert.Equal(t, []uint16{2}, p.Categories)
	sig, _ := f.enc.EncodeCategories([]uint16{2})
	assert.Equal(t, sig, p.Signature)

	f, big = build(t)
	f.run(t, &Engine{Thresholds: []float64{100}, Policy: PolicySurvivor})
	assert.Equal(t, []uint16{1}, f.set.Get(big).Categories)

	f, big = build(t)
	f.run(t, &Engine{Thresholds: []float64{100}, Policy: PolicyMajority})
	assert.Equal(t, []uint16{2}, f.set.Get(big).Categories, "three category-2 regions against two")
}

func TestPolicyTieKeepsSurvivor(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.add(t, 1, block(0, 0, 1, 4))
	second := f.add(t, 2, block(0, 4, 1, 4))
	f.run(t, &Engine{Thresholds: []float64{5}, Policy: PolicyAreaWeighted})
	require.Equal(t, 1, f.set.Len())
	// The first polygon in area order merges into the second; with equal
	// areas per category the survivor keeps its own.
	p := f.set.Polygons()[0]
	assert.Equal(t, second, p.ID)
	assert.Equal(t, []uint16{2}, p.Categories)
}

func TestConstraint(t *testing.T) {
	f := newFixture(t, 1, 6)
	big := f.add(t, 1, block(0, 0, 1, 3))
	f.add(t, 2, block(0, 3, 1, 1))
	other := f.add(t, 2, block(0, 4, 1, 1))
	f.add(t, 3, block(0, 5, 1, 1))

	f.run(t, &Engine{Thresholds: []float64{2}, Constraint: SameCategoryIn(0)})
	assert.Equal(t, 3.0, f.set.Get(big).FootprintArea, "category 1 never absorbs category 2")
	assert.Equal(t, 2.0, f.set.Get(other).FootprintArea)
}

func TestEligibleLimitsCandidates(t *testing.T) {
	f := newFixture(t, 1, 8)
	big := f.add(t, 1, block(0, 0, 1, 4))
	kept := f.add(t, 2, block(0, 4, 1, 1))
	f.add(t, 3, block(0, 5, 1, 1))
	last := f.add(t, 4, block(0, 6, 1, 2))

	stats := f.run(t, &Engine{
		Thresholds: []float64{3},
		Eligible:   func(p *parcel.Polygon) bool { return p.ID != kept },
	})
	require.NotNil(t, f.set.Get(kept), "ineligible polygons stay below the threshold")
	assert.Equal(t, 1.0, f.set.Get(kept).FootprintArea)
	assert.Equal(t, 4.0, f.set.Get(big).FootprintArea)
	// The eligible cell goes to the larger of its two equal-boundary neighbours.
	assert.Equal(t, 3.0, f.set.Get(last).FootprintArea)
	assert.Equal(t, 1, stats.Merges())
	assert.Equal(t, 3, f.set.Len())
}

func TestEliminationConservesArea(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	spec := raster.GridSpec{Rows: 60, Cols: 60, CellSize: 3}
	enc, err := signature.NewEncoder(2, 4)
	require.NoError(t, err)

	stack := &raster.Stack{Spec: spec, MaxCategory: 4, Years: []int{1, 2}}
	for y := 0; y < 2; y++ {
		cells := make([]uint16, spec.Rows*spec.Cols)
		for i := range cells {
			cells[i] = uint16(1 + rng.Intn(4))
		}
		stack.Grids = append(stack.Grids, &raster.CategoryGrid{Year: y + 1, Window: spec.Extent(), Cells: cells})
	}
	grid, lookup, err := enc.Encode(stack)
	require.NoError(t, err)

	set := parcel.NewSet(spec, spec.Extent())
	seen := make([]bool, len(grid.Cells))
	for i, sig := range grid.Cells {
		if seen[i] {
			continue
		}
		seen[i] = true
		queue := []raster.Cell{grid.Window.CellAt(i)}
		for qi := 0; qi < len(queue); qi++ {
			for _, n := range queue[qi].Neighbors4() {
				if grid.Window.Contains(n) && !seen[grid.Window.Index(n)] && grid.At(n) == sig {
					seen[grid.Window.Index(n)] = true
					queue = append(queue, n)
				}
			}
		}
		cats, _ := lookup.Categories(sig)
		_, err := set.Add(parcel.NewPolygon(spec, sig, cats, queue))
		require.NoError(t, err)
	}

	before := set.Len()
	total := set.TotalArea()
	g, err := neighbor.Build(set)
	require.NoError(t, err)

	e := &Engine{Thresholds: DefaultThresholds, Encoder: enc, Lookup: lookup}
	stats, err := e.Run(context.Background(), set, g)
	require.NoError(t, err)
	require.NoError(t, g.Check(set))

	assert.Equal(t, total, set.TotalArea())
	assert.Equal(t, before-stats.Merges(), set.Len())
	for i, ts := range stats.Tiers {
		assert.LessOrEqual(t, ts.After, ts.Before, "tier %d", i)
	}
	for _, p := range set.Polygons() {
		assert.True(t, p.FootprintArea >= 10000 || len(g.Neighbors(p.ID)) == 0,
			"polygon %d of area %v survived with neighbours", p.ID, p.FootprintArea)
		assert.True(t, lookup.Has(p.Signature))
		assert.Equal(t, p.Categories, enc.Decode(p.Signature))
		require.Len(t, parcel.Components(p.Footprint), 1)
	}
}

func TestInvariantViolation(t *testing.T) {
	f := newFixture(t, 1, 6)
	f.add(t, 1, block(0, 0, 1, 3))
	gone := f.add(t, 2, block(0, 3, 1, 3))
	g, err := neighbor.Build(f.set)
	require.NoError(t, err)

	f.set.Remove(gone)
	_, err = (&Engine{Thresholds: []float64{5}, Encoder: f.enc}).Run(context.Background(), f.set, g)
	var iv *InvariantViolation
	require.True(t, errors.As(err, &iv), "expected InvariantViolation, got %v", err)
	assert.Equal(t, gone, iv.Neighbor)
}

func TestRunHonoursCancellation(t *testing.T) {
	f := newFixture(t, 1, 6)
	f.add(t, 1, block(0, 0, 1, 3))
	f.add(t, 2, block(0, 3, 1, 3))
	g, err := neighbor.Build(f.set)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Engine{Thresholds: []float64{5}, Encoder: f.enc}).Run(ctx, f.set, g)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, f.set.Len())
}

func TestValidate(t *testing.T) {
	enc, _ := signature.NewEncoder(1, 3)
	assert.Error(t, (&Engine{Thresholds: []float64{100, 100}, Encoder: enc}).Validate())
	assert.Error(t, (&Engine{Thresholds: []float64{-1}, Encoder: enc}).Validate())
	assert.Error(t, (&Engine{Thresholds: []float64{1}}).Validate())
	assert.NoError(t, (&Engine{Thresholds: []float64{1}, Policy: PolicySurvivor}).Validate())

	p, err := ParsePolicy("majority")
	require.NoError(t, err)
	assert.Equal(t, PolicyMajority, p)
	_, err = ParsePolicy("biggest")
	assert.Error(t, err)
}
