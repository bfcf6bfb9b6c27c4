package tiling

import (
	"context"
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/cropseq/internal/eliminate"
	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/neighbor"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/simplify"
)

// DefaultMinOverlapFraction is the share of the shared margin two seam
// parents must cover in common to be treated as one field.
const DefaultMinOverlapFraction = 0.5

// ReconcileOptions tunes seam stitching.
type ReconcileOptions struct {
	// MinOverlapFraction is compared against |A∩B| / max(|A in B's window|,
	// |B in A's window|) for seam parents A and B. Zero means the default.
	MinOverlapFraction float64
	// Simplifier re-simplifies seam polygons; nil leaves them as traced.
	Simplifier *simplify.Simplifier
	// Eliminate, when set, merges seam polygons left below its thresholds
	// into their neighbours. Pass-through polygons are never eliminated.
	Eliminate *eliminate.Engine
}

// SeamRecord maps one clipped piece of a tile-local seam polygon to the
// global polygon it ended up in.
type SeamRecord struct {
	Tile   int       `json:"tile"`
	Local  parcel.ID `json:"local"`
	Global parcel.ID `json:"global"`
	Cells  int       `json:"cells"`
}

// Output is the reconciled global polygon set.
type Output struct {
	// Polygons is ordered by global id.
	Polygons []*parcel.Polygon
	Seams    []SeamRecord
	// Gaps are the cores of tiles without a successful result.
	Gaps []raster.Window
	// Stitched counts unions of pieces from different tiles.
	Stitched int
	// Eliminated counts seam polygons merged into a neighbour.
	Eliminated int
	// Simplify is the report of the seam re-simplification, if any ran.
	Simplify simplify.Report
}

type piece struct {
	tile   int
	parent *parcel.Polygon
	cells  []raster.Cell
}

// entry is one unit of output in id order: a pass-through polygon or a
// seam piece.
type entry struct {
	tile  int
	pass  *parcel.Polygon
	piece int
}

// Reconcile merges per-tile results into one polygon set. results must be
// parallel to tiles.
//
// Polygons inside their tile core pass through unchanged. Seam candidates
// are clipped to the core and split into connected pieces; pieces from
// different tiles that touch across a core boundary, carry the same
// signature and whose parents overlap enough are unioned. Global ids follow
// tile order, then local id order. With ReconcileOptions.Eliminate set,
// seam polygons that are still small are merged into neighbours and the
// remaining ids are renumbered densely.
func Reconcile(spec raster.GridSpec, tiles []Tile, results []TileResult, opts ReconcileOptions) (*Output, error) {
	if len(tiles) != len(results) {
		return nil, fmt.Errorf("tiling: %d tiles but %d results", len(tiles), len(results))
	}
	minOverlap := opts.MinOverlapFraction
	if minOverlap <= 0 {
		minOverlap = DefaultMinOverlapFraction
	}

	out := &Output{}
	var pieces []piece
	var entries []entry
	for ti, res := range results {
		t := tiles[ti]
		if res.Outcome != OutcomeSuccess || res.Set == nil {
			out.Gaps = append(out.Gaps, t.Core)
			continue
		}
		for _, p := range res.Set.Polygons() {
			if !t.IsSeamCandidate(p) {
				entries = append(entries, entry{tile: ti, pass: p})
				continue
			}
			var clipped []raster.Cell
			for _, c := range p.Footprint {
				if t.Core.Contains(c) {
					clipped = append(clipped, c)
				}
			}
			for _, comp := range parcel.Components(clipped) {
				entries = append(entries, entry{tile: ti, piece: len(pieces)})
				pieces = append(pieces, piece{tile: ti, parent: p, cells: comp})
			}
		}
	}

	uf := newUnionFind(len(pieces))
	out.Stitched = stitch(tiles, pieces, uf, minOverlap)
	monitoring.SeamStitchesTotal.Add(float64(out.Stitched))

	// Assign ids in entry order and gather group footprints.
	next := parcel.ID(1)
	groupID := make(map[int]parcel.ID)
	groupCells := make(map[parcel.ID][]raster.Cell)
	var groupOrder []int
	var passed []*parcel.Polygon
	for _, e := range entries {
		if e.pass != nil {
			q := e.pass.Clone()
			q.ID = next
			next++
			passed = append(passed, q)
			out.Polygons = append(out.Polygons, q)
			continue
		}
		pc := pieces[e.piece]
		root := uf.find(e.piece)
		id, ok := groupID[root]
		if !ok {
			id = next
			next++
			groupID[root] = id
			groupOrder = append(groupOrder, root)
			out.Polygons = append(out.Polygons, nil)
		}
		groupCells[id] = append(groupCells[id], pc.cells...)
		out.Seams = append(out.Seams, SeamRecord{
			Tile:   tiles[pc.tile].Index,
			Local:  pc.parent.ID,
			Global: id,
			Cells:  len(pc.cells),
		})
	}

	seams := make(map[parcel.ID]*parcel.Polygon, len(groupOrder))
	for _, root := range groupOrder {
		id := groupID[root]
		src := pieces[root].parent
		p := parcel.NewPolygon(spec, src.Signature, src.Categories, groupCells[id])
		p.ID = id
		seams[id] = p
	}
	// Fill the placeholders left for seam groups, keeping id order.
	for i, p := range out.Polygons {
		if p == nil {
			out.Polygons[i] = seams[parcel.ID(i+1)]
		}
	}

	if len(seams) > 0 {
		rep, absorbed, err := finishSeams(spec, seams, passed, opts)
		if err != nil {
			return nil, err
		}
		out.Simplify = rep
		if len(absorbed) > 0 {
			out.Eliminated = len(absorbed)
			out.renumber(absorbed)
		}
	}
	monitoring.Diagf("[reconcile] %d polygons: %d pass-through, %d seam (%d pieces, %d stitched, %d eliminated), %d gap tiles",
		len(out.Polygons), len(passed), len(seams), len(pieces), out.Stitched, out.Eliminated, len(out.Gaps))
	return out, nil
}

// renumber drops absorbed polygons, closes the id gaps they leave and
// points seam records at the polygons their cells now belong to.
func (out *Output) renumber(absorbed map[parcel.ID]parcel.ID) {
	ids := make(map[parcel.ID]parcel.ID, len(out.Polygons))
	kept := out.Polygons[:0]
	for _, p := range out.Polygons {
		if _, gone := absorbed[p.ID]; gone {
			continue
		}
		kept = append(kept, p)
	}
	clear(out.Polygons[len(kept):])
	out.Polygons = kept
	for i, p := range out.Polygons {
		ids[p.ID] = parcel.ID(i + 1)
		p.ID = parcel.ID(i + 1)
	}
	for i := range out.Seams {
		g := out.Seams[i].Global
		if to, ok := absorbed[g]; ok {
			g = to
		}
		out.Seams[i].Global = ids[g]
	}
}

// stitch unions matching pieces and returns the number of unions.
func stitch(tiles []Tile, pieces []piece, uf *unionFind, minOverlap float64) int {
	at := make(map[raster.Cell]int)
	for i, pc := range pieces {
		for _, c := range pc.cells {
			at[c] = i
		}
	}
	type pair struct{ a, b int }
	seen := make(map[pair]bool)
	type parents struct{ a, b *parcel.Polygon }
	fraction := make(map[parents]float64)

	unions := 0
	for a, pa := range pieces {
		for _, c := range pa.cells {
			for _, n := range c.Neighbors4() {
				b, ok := at[n]
				if !ok || b <= a || pieces[b].tile == pa.tile || seen[pair{a, b}] {
					continue
				}
				seen[pair{a, b}] = true
				pb := pieces[b]
				if pa.parent.Signature != pb.parent.Signature {
					continue
				}
				key := parents{pa.parent, pb.parent}
				f, ok := fraction[key]
				if !ok {
					f = overlapFraction(pa.parent, pb.parent, tiles[pa.tile].Window, tiles[pb.tile].Window)
					fraction[key] = f
				}
				if f >= minOverlap && uf.union(a, b) {
					unions++
				}
			}
		}
	}
	return unions
}

// overlapFraction compares two seam parents inside the region both tiles saw.
func overlapFraction(a, b *parcel.Polygon, wa, wb raster.Window) float64 {
	shared := 0
	i, j := 0, 0
	for i < len(a.Footprint) && j < len(b.Footprint) {
		switch d := parcel.CompareCells(a.Footprint[i], b.Footprint[j]); {
		case d < 0:
			i++
		case d > 0:
			j++
		default:
			shared++
			i++
			j++
		}
	}
	inB, inA := 0, 0
	for _, c := range a.Footprint {
		if wb.Contains(c) {
			inB++
		}
	}
	for _, c := range b.Footprint {
		if wa.Contains(c) {
			inA++
		}
	}
	d := max(inA, inB)
	if d == 0 {
		return 0
	}
	return float64(shared) / float64(d)
}

// finishSeams traces the seam polygons and simplifies them next to the
// pass-through polygons around them, which stay fixed. It returns the id
// that each eliminated seam polygon was merged into.
func finishSeams(spec raster.GridSpec, seams map[parcel.ID]*parcel.Polygon, passed []*parcel.Polygon, opts ReconcileOptions) (simplify.Report, map[parcel.ID]parcel.ID, error) {
	var rep simplify.Report
	ctx := parcel.NewSparseSet(spec)
	idx := neighbor.NewSpatialIndex(spec.CellSize * 32)
	targets := make(map[parcel.ID]bool, len(seams))
	for id, p := range seams {
		if _, err := ctx.Add(p); err != nil {
			return rep, nil, fmt.Errorf("tiling: seam polygon %d: %w", id, err)
		}
		idx.Insert(int64(id), p.Bound(spec).Pad(spec.CellSize/2))
		targets[id] = true
	}
	for _, p := range passed {
		if len(idx.Query(p.Bound(spec))) == 0 {
			continue
		}
		if _, err := ctx.Add(p); err != nil {
			return rep, nil, fmt.Errorf("tiling: pass-through polygon %d: %w", p.ID, err)
		}
	}

	var absorbed map[parcel.ID]parcel.ID
	if opts.Eliminate != nil {
		var err error
		if absorbed, err = eliminateSeams(ctx, seams, opts.Eliminate); err != nil {
			return rep, nil, err
		}
		for id := range absorbed {
			delete(targets, id)
		}
	}

	if err := ctx.RetraceAll(); err != nil {
		return rep, nil, fmt.Errorf("tiling: retrace seams: %w", err)
	}
	if opts.Simplifier == nil || len(targets) == 0 {
		return rep, absorbed, nil
	}
	rep, err := opts.Simplifier.Run(ctx, targets)
	if err != nil {
		return rep, nil, fmt.Errorf("tiling: simplify seams: %w", err)
	}
	return rep, absorbed, nil
}

// eliminateSeams runs base over set with only seam polygons eligible. A
// pass-through polygon that absorbs seam cells keeps its simplified
// boundary and is grown by the cell edges of what it took.
func eliminateSeams(set *parcel.Set, seams map[parcel.ID]*parcel.Polygon, base *eliminate.Engine) (map[parcel.ID]parcel.ID, error) {
	type snapshot struct {
		geom      orb.Polygon
		footprint []raster.Cell
	}
	fixed := make(map[parcel.ID]snapshot)
	for _, p := range set.Polygons() {
		if seams[p.ID] == nil {
			fixed[p.ID] = snapshot{geom: p.Geometry, footprint: p.Footprint}
		}
	}

	g, err := neighbor.Build(set)
	if err != nil {
		return nil, fmt.Errorf("tiling: seam neighbours: %w", err)
	}
	eng := *base
	eng.Eligible = func(p *parcel.Polygon) bool { return seams[p.ID] != nil }
	if _, err := eng.Run(context.Background(), set, g); err != nil {
		return nil, fmt.Errorf("tiling: eliminate seams: %w", err)
	}

	absorbed := make(map[parcel.ID]parcel.ID)
	for id, p := range seams {
		if set.Get(id) == nil {
			absorbed[id] = set.Owner(p.Footprint[0])
		}
	}
	for id, snap := range fixed {
		p := set.Get(id)
		if p == nil || p.Geometry != nil || snap.geom == nil {
			continue
		}
		grown, err := parcel.Grow(set.Spec, snap.geom, subtractCells(p.Footprint, snap.footprint))
		if err != nil {
			return nil, fmt.Errorf("tiling: grow polygon %d: %w", id, err)
		}
		p.Geometry = grown
		p.Area = planar.Area(grown)
	}
	if len(absorbed) > 0 {
		monitoring.Diagf("[reconcile] %d of %d seam polygons eliminated", len(absorbed), len(seams))
	}
	return absorbed, nil
}

// subtractCells returns the cells of a not in b. Both must be sorted.
func subtractCells(a, b []raster.Cell) []raster.Cell {
	var out []raster.Cell
	for _, c := range a {
		if _, found := slices.BinarySearchFunc(b, c, parcel.CompareCells); !found {
			out = append(out, c)
		}
	}
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// union joins the sets of a and b and reports whether they were distinct.
func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
	return true
}
