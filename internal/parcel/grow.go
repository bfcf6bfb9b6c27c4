package parcel

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/raster"
)

type segment struct {
	from, to Vertex
}

func (s segment) delta() (dx, dy int64) {
	// World y decreases as rows increase.
	return int64(s.to.Col - s.from.Col), int64(s.from.Row - s.to.Row)
}

// turn is the signed angle from a to b; negative values turn right.
func turn(a, b segment) float64 {
	ax, ay := a.delta()
	bx, by := b.delta()
	return math.Atan2(float64(ax*by-ay*bx), float64(ax*bx+ay*by))
}

func straight(a, b segment) bool {
	ax, ay := a.delta()
	bx, by := b.delta()
	return ax*by == ay*bx && ax*bx+ay*by > 0
}

// latticeVertex returns the grid corner nearest to pt.
func latticeVertex(spec raster.GridSpec, pt orb.Point) Vertex {
	return Vertex{
		Row: int32(math.Round((spec.OriginY - pt[1]) / spec.CellSize)),
		Col: int32(math.Round((pt[0] - spec.OriginX) / spec.CellSize)),
	}
}

// unitSegments appends the segment a->b, split into unit edges when it runs
// along a grid line.
func unitSegments(dst []segment, a, b Vertex) []segment {
	switch {
	case a == b:
		return dst
	case a.Row == b.Row:
		step := int32(1)
		if b.Col < a.Col {
			step = -1
		}
		for v := a; v != b; {
			n := Vertex{v.Row, v.Col + step}
			dst = append(dst, segment{v, n})
			v = n
		}
		return dst
	case a.Col == b.Col:
		step := int32(1)
		if b.Row < a.Row {
			step = -1
		}
		for v := a; v != b; {
			n := Vertex{v.Row + step, v.Col}
			dst = append(dst, segment{v, n})
			v = n
		}
		return dst
	}
	return append(dst, segment{a, b})
}

// Grow returns geom enlarged by the cells in added. Every vertex of geom
// must be a grid corner and its boundary with added must run along grid
// lines. The rest of the boundary keeps its vertices, so edges geom shares
// with polygons that were simplified alongside it still match.
func Grow(spec raster.GridSpec, geom orb.Polygon, added []raster.Cell) (orb.Polygon, error) {
	if len(geom) == 0 {
		return nil, ErrEmptyFootprint
	}
	var segs []segment
	for i, r := range geom {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		n := len(r)
		if n > 1 && r[0] == r[n-1] {
			n--
		}
		vs := make([]Vertex, n)
		for k := 0; k < n; k++ {
			vs[k] = latticeVertex(spec, r[k])
		}
		if r.Orientation() != want {
			for a, b := 0, len(vs)-1; a < b; a, b = a+1, b-1 {
				vs[a], vs[b] = vs[b], vs[a]
			}
		}
		for k := range vs {
			segs = unitSegments(segs, vs[k], vs[(k+1)%len(vs)])
		}
	}

	alive := make([]bool, len(segs), len(segs)+4*len(added))
	index := make(map[segment]int, len(segs))
	for i, s := range segs {
		alive[i] = true
		index[s] = i
	}
	for _, e := range boundaryEdges(added) {
		s := segment{e.from, e.from.Step(e.dir)}
		if _, ok := index[s]; ok {
			return nil, fmt.Errorf("parcel: added cells overlap the polygon at (%d,%d)", s.from.Row, s.from.Col)
		}
		if i, ok := index[segment{s.to, s.from}]; ok && alive[i] {
			alive[i] = false
			continue
		}
		index[s] = len(segs)
		segs = append(segs, s)
		alive = append(alive, true)
	}

	out := make(map[Vertex][]int, len(segs))
	for i, s := range segs {
		if alive[i] {
			out[s.from] = append(out[s.from], i)
		}
	}
	visited := make([]bool, len(segs))
	var outer orb.Ring
	var holes []orb.Ring
	for start := range segs {
		if !alive[start] || visited[start] {
			continue
		}
		var walk []int
		var pinches map[Vertex]bool
		cur := start
		for {
			visited[cur] = true
			walk = append(walk, cur)
			to := segs[cur].to
			if len(out[to]) > 1 {
				if pinches[to] {
					return nil, ErrDisconnected
				}
				if pinches == nil {
					pinches = make(map[Vertex]bool)
				}
				pinches[to] = true
			}
			next := -1
			for _, k := range out[to] {
				// Turn right at pinch vertices, as TraceRings does.
				if next < 0 || turn(segs[cur], segs[k]) < turn(segs[cur], segs[next]) {
					next = k
				}
			}
			if next == start {
				break
			}
			if next < 0 || visited[next] {
				return nil, fmt.Errorf("parcel: grown boundary broke at vertex (%d,%d)", to.Row, to.Col)
			}
			cur = next
		}

		ring := make(orb.Ring, 0, len(walk)+1)
		for i, k := range walk {
			prev := walk[(i+len(walk)-1)%len(walk)]
			if !straight(segs[prev], segs[k]) {
				ring = append(ring, segs[k].from.Point(spec))
			}
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("parcel: grown ring through (%d,%d) collapsed", segs[start].from.Row, segs[start].from.Col)
		}
		ring = append(ring, ring[0])
		if ring.Orientation() == orb.CCW {
			if outer != nil {
				return nil, ErrDisconnected
			}
			outer = ring
			continue
		}
		holes = append(holes, ring)
	}
	if outer == nil {
		return nil, fmt.Errorf("parcel: no outer ring after growing by %d cells", len(added))
	}
	return append(orb.Polygon{outer}, holes...), nil
}
