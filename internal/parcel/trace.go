package parcel

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/raster"
)

var (
	// ErrEmptyFootprint is returned when tracing a polygon with no cells.
	ErrEmptyFootprint = errors.New("parcel: empty footprint")
	// ErrDisconnected is returned when a footprint traces to more than one outer ring.
	ErrDisconnected = errors.New("parcel: footprint is not 4-connected")
)

// Vertex is a grid corner; vertex (r, c) is the upper-left corner of cell (r, c).
type Vertex struct {
	Row, Col int32
}

// Direction of a boundary edge in grid space.
type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

// Right returns the direction after a clockwise quarter turn.
func (d Direction) Right() Direction { return (d + 1) % 4 }

// Step returns the vertex one unit along d.
func (v Vertex) Step(d Direction) Vertex {
	switch d {
	case North:
		return Vertex{v.Row - 1, v.Col}
	case East:
		return Vertex{v.Row, v.Col + 1}
	case South:
		return Vertex{v.Row + 1, v.Col}
	default:
		return Vertex{v.Row, v.Col - 1}
	}
}

// Point converts a vertex to world coordinates.
func (v Vertex) Point(spec raster.GridSpec) orb.Point {
	x, y := spec.VertexXY(v.Row, v.Col)
	return orb.Point{x, y}
}

type boundaryEdge struct {
	from Vertex
	dir  Direction
}

// boundaryEdges returns the directed unit edges separating the footprint
// from its complement, oriented so the footprint lies on the left in world
// coordinates (row increases southwards, y decreases).
func boundaryEdges(footprint []raster.Cell) []boundaryEdge {
	m := NewMask(footprint)
	edges := make([]boundaryEdge, 0, 4*len(footprint))
	for _, c := range footprint {
		n := c.Neighbors4()
		if !m.Has(n[2]) {
			edges = append(edges, boundaryEdge{Vertex{c.Row + 1, c.Col}, East})
		}
		if !m.Has(n[1]) {
			edges = append(edges, boundaryEdge{Vertex{c.Row + 1, c.Col + 1}, North})
		}
		if !m.Has(n[0]) {
			edges = append(edges, boundaryEdge{Vertex{c.Row, c.Col + 1}, West})
		}
		if !m.Has(n[3]) {
			edges = append(edges, boundaryEdge{Vertex{c.Row, c.Col}, South})
		}
	}
	return edges
}

// TraceRings links boundary edges into closed vertex rings with collinear
// vertices removed. At a vertex where two cells of the footprint meet only
// diagonally the walk turns right, which keeps each ring on the boundary of
// a single complement region. For a 4-connected footprint no ring then
// visits a vertex twice; a footprint whose parts touch only at corners
// returns ErrDisconnected.
func TraceRings(footprint []raster.Cell) ([][]Vertex, error) {
	edges := boundaryEdges(footprint)
	out := make(map[Vertex][]int, len(edges))
	for i, e := range edges {
		out[e.from] = append(out[e.from], i)
	}

	visited := make([]bool, len(edges))
	var rings [][]Vertex
	for start := range edges {
		if visited[start] {
			continue
		}
		var verts []Vertex
		var dirs []Direction
		var pinches map[Vertex]bool
		cur := start
		for {
			visited[cur] = true
			e := edges[cur]
			verts = append(verts, e.from)
			dirs = append(dirs, e.dir)

			next := -1
			to := e.from.Step(e.dir)
			cands := out[to]
			if len(cands) == 1 {
				next = cands[0]
			} else {
				// A ring that crosses the same pinch twice joins cells that
				// only touch diagonally.
				if pinches[to] {
					return nil, ErrDisconnected
				}
				if pinches == nil {
					pinches = make(map[Vertex]bool)
				}
				pinches[to] = true
				for _, k := range cands {
					if edges[k].dir == e.dir.Right() {
						next = k
					}
				}
			}
			if next == start {
				break
			}
			if next < 0 || visited[next] {
				return nil, fmt.Errorf("parcel: boundary walk broke at vertex (%d,%d)", e.from.Row, e.from.Col)
			}
			cur = next
		}

		// Keep only vertices where the direction changes.
		ring := make([]Vertex, 0, len(verts)/2)
		for i := range verts {
			prev := dirs[(i+len(dirs)-1)%len(dirs)]
			if prev != dirs[i] {
				ring = append(ring, verts[i])
			}
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

// Trace converts a 4-connected footprint into a polygon with a CCW outer
// ring followed by CW holes, in world coordinates.
func Trace(spec raster.GridSpec, footprint []raster.Cell) (orb.Polygon, error) {
	if len(footprint) == 0 {
		return nil, ErrEmptyFootprint
	}
	rings, err := TraceRings(footprint)
	if err != nil {
		return nil, err
	}

	var outer orb.Ring
	var holes []orb.Ring
	for _, vr := range rings {
		r := make(orb.Ring, 0, len(vr)+1)
		for _, v := range vr {
			r = append(r, v.Point(spec))
		}
		r = append(r, r[0])
		if r.Orientation() == orb.CCW {
			if outer != nil {
				return nil, ErrDisconnected
			}
			outer = r
			continue
		}
		holes = append(holes, r)
	}
	if outer == nil {
		return nil, fmt.Errorf("parcel: no outer ring traced for %d cells", len(footprint))
	}
	return append(orb.Polygon{outer}, holes...), nil
}
