package simplify

import (
	"slices"

	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
)

// edgeKey names a unit grid edge: from V eastwards when H, else southwards.
type edgeKey struct {
	V parcel.Vertex
	H bool
}

type arc struct {
	left, right parcel.ID
	// verts is the grid path in canonical direction with collinear vertices removed.
	verts             []parcel.Vertex
	firstDir, lastDir parcel.Direction

	base orb.LineString // verts in world coordinates
	simp orb.LineString
	tol  float64
}

func (a *arc) has(id parcel.ID) bool { return a.left == id || a.right == id }

func compareVertex(a, b parcel.Vertex) int {
	return parcel.CompareCells(raster.Cell{Row: a.Row, Col: a.Col}, raster.Cell{Row: b.Row, Col: b.Col})
}

func opposite(d parcel.Direction) parcel.Direction { return (d + 2) % 4 }

// incident returns the edge leaving v in direction d.
func incident(v parcel.Vertex, d parcel.Direction) edgeKey {
	switch d {
	case parcel.East:
		return edgeKey{V: v, H: true}
	case parcel.West:
		return edgeKey{V: parcel.Vertex{Row: v.Row, Col: v.Col - 1}, H: true}
	case parcel.South:
		return edgeKey{V: v, H: false}
	default:
		return edgeKey{V: parcel.Vertex{Row: v.Row - 1, Col: v.Col}, H: false}
	}
}

// sides returns the cells left and right of the step from v in direction d.
func sides(v parcel.Vertex, d parcel.Direction) (left, right raster.Cell) {
	r, c := v.Row, v.Col
	switch d {
	case parcel.East:
		return raster.Cell{Row: r - 1, Col: c}, raster.Cell{Row: r, Col: c}
	case parcel.West:
		return raster.Cell{Row: r, Col: c - 1}, raster.Cell{Row: r - 1, Col: c - 1}
	case parcel.South:
		return raster.Cell{Row: r, Col: c}, raster.Cell{Row: r, Col: c - 1}
	default:
		return raster.Cell{Row: r - 1, Col: c - 1}, raster.Cell{Row: r - 1, Col: c}
	}
}

var directions = [4]parcel.Direction{parcel.North, parcel.East, parcel.South, parcel.West}

type partition struct {
	edges map[edgeKey]bool // value: visited during the walk
	arcs  []*arc
	// byPolygon lists arc indexes per polygon id, ascending.
	byPolygon map[parcel.ID][]int
}

// buildPartition decomposes the boundaries of every polygon in set into arcs.
func buildPartition(set *parcel.Set) *partition {
	pt := &partition{edges: make(map[edgeKey]bool), byPolygon: make(map[parcel.ID][]int)}
	for _, p := range set.Polygons() {
		for _, c := range p.Footprint {
			n := c.Neighbors4()
			if set.Owner(n[0]) != p.ID {
				pt.edges[edgeKey{V: parcel.Vertex{Row: c.Row, Col: c.Col}, H: true}] = false
			}
			if set.Owner(n[2]) != p.ID {
				pt.edges[edgeKey{V: parcel.Vertex{Row: c.Row + 1, Col: c.Col}, H: true}] = false
			}
			if set.Owner(n[3]) != p.ID {
				pt.edges[edgeKey{V: parcel.Vertex{Row: c.Row, Col: c.Col}, H: false}] = false
			}
			if set.Owner(n[1]) != p.ID {
				pt.edges[edgeKey{V: parcel.Vertex{Row: c.Row, Col: c.Col + 1}, H: false}] = false
			}
		}
	}

	degree := func(v parcel.Vertex) int {
		n := 0
		for _, d := range directions {
			if _, ok := pt.edges[incident(v, d)]; ok {
				n++
			}
		}
		return n
	}

	// Nodes, in deterministic order.
	vertexSet := make(map[parcel.Vertex]struct{})
	for e := range pt.edges {
		vertexSet[e.V] = struct{}{}
		if e.H {
			vertexSet[parcel.Vertex{Row: e.V.Row, Col: e.V.Col + 1}] = struct{}{}
		} else {
			vertexSet[parcel.Vertex{Row: e.V.Row + 1, Col: e.V.Col}] = struct{}{}
		}
	}
	verts := make([]parcel.Vertex, 0, len(vertexSet))
	for v := range vertexSet {
		verts = append(verts, v)
	}
	slices.SortFunc(verts, compareVertex)
	isNode := make(map[parcel.Vertex]bool)
	for _, v := range verts {
		if degree(v) != 2 {
			isNode[v] = true
		}
	}

	walk := func(start parcel.Vertex, d parcel.Direction) []parcel.Vertex {
		path := []parcel.Vertex{start}
		cur := start
		for {
			pt.edges[incident(cur, d)] = true
			cur = cur.Step(d)
			path = append(path, cur)
			if isNode[cur] || cur == start {
				return path
			}
			back, found := opposite(d), false
			for _, nd := range directions {
				if nd == back {
					continue
				}
				if visited, ok := pt.edges[incident(cur, nd)]; ok && !visited {
					d, found = nd, true
					break
				}
			}
			if !found {
				return path
			}
		}
	}

	var paths [][]parcel.Vertex
	for _, v := range verts {
		if !isNode[v] {
			continue
		}
		for _, d := range directions {
			if visited, ok := pt.edges[incident(v, d)]; ok && !visited {
				paths = append(paths, walk(v, d))
			}
		}
	}
	// Remaining edges form loops without nodes; start each at its smallest vertex.
	for _, v := range verts {
		for _, d := range directions {
			if visited, ok := pt.edges[incident(v, d)]; ok && !visited {
				paths = append(paths, walk(v, d))
			}
		}
	}

	for _, path := range paths {
		for _, piece := range splitLoop(path) {
			a := newArc(set, piece)
			idx := len(pt.arcs)
			pt.arcs = append(pt.arcs, a)
			for _, id := range []parcel.ID{a.left, a.right} {
				if id != parcel.None {
					pt.byPolygon[id] = append(pt.byPolygon[id], idx)
				}
			}
		}
	}
	return pt
}

// splitLoop cuts a closed path at the vertex farthest from its start so every
// arc has two distinct endpoints. Open paths are returned unchanged.
func splitLoop(path []parcel.Vertex) [][]parcel.Vertex {
	if path[0] != path[len(path)-1] {
		return [][]parcel.Vertex{path}
	}
	s := path[0]
	best, bestD := 1, int64(-1)
	for i := 1; i < len(path)-1; i++ {
		dr, dc := int64(path[i].Row-s.Row), int64(path[i].Col-s.Col)
		d := dr*dr + dc*dc
		if d > bestD || (d == bestD && compareVertex(path[i], path[best]) < 0) {
			best, bestD = i, d
		}
	}
	return [][]parcel.Vertex{
		slices.Clone(path[:best+1]),
		slices.Clone(path[best:]),
	}
}

func stepDir(a, b parcel.Vertex) parcel.Direction {
	switch {
	case b.Row < a.Row:
		return parcel.North
	case b.Col > a.Col:
		return parcel.East
	case b.Row > a.Row:
		return parcel.South
	default:
		return parcel.West
	}
}

func newArc(set *parcel.Set, path []parcel.Vertex) *arc {
	if compareVertex(path[0], path[len(path)-1]) > 0 {
		path = slices.Clone(path)
		slices.Reverse(path)
	}
	a := &arc{
		firstDir: stepDir(path[0], path[1]),
		lastDir:  stepDir(path[len(path)-2], path[len(path)-1]),
	}
	l, r := sides(path[0], a.firstDir)
	a.left, a.right = set.Owner(l), set.Owner(r)

	a.verts = append(a.verts, path[0])
	for i := 1; i < len(path)-1; i++ {
		if stepDir(path[i-1], path[i]) != stepDir(path[i], path[i+1]) {
			a.verts = append(a.verts, path[i])
		}
	}
	a.verts = append(a.verts, path[len(path)-1])

	a.base = make(orb.LineString, len(a.verts))
	for i, v := range a.verts {
		a.base[i] = v.Point(set.Spec)
	}
	a.simp = a.base
	return a
}
