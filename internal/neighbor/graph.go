package neighbor

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/parcel"
)

// ErrGraphInvariant is wrapped by all Check failures.
var ErrGraphInvariant = errors.New("neighbor: graph invariant violated")

// bucketCells is the spatial index bucket size in raster cells.
const bucketCells = 32

// Graph is the weighted adjacency graph of a polygon set.
type Graph struct {
	g *simple.WeightedUndirectedGraph
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{g: simple.NewWeightedUndirectedGraph(0, 0)}
}

// Build constructs the graph for every live polygon in set.
func Build(set *parcel.Set) (*Graph, error) {
	cs := set.Spec.CellSize
	idx := NewSpatialIndex(bucketCells * cs)
	polys := set.Polygons()
	for _, p := range polys {
		// Padding by half a cell makes edge-sharing boxes overlap.
		idx.Insert(int64(p.ID), p.Bound(set.Spec).Pad(cs/2))
	}

	gr := NewGraph()
	var candidates int
	for _, p := range polys {
		gr.AddNode(p.ID)
	}
	for _, p := range polys {
		b, _ := idx.Bound(int64(p.ID))
		for _, qid := range idx.Query(b) {
			q := parcel.ID(qid)
			if q <= p.ID {
				continue
			}
			candidates++
			other := set.Get(q)
			if other == nil {
				return nil, fmt.Errorf("neighbor: indexed polygon %d not in set", q)
			}
			if n := SharedEdges(set, p, other); n > 0 {
				gr.SetWeight(p.ID, q, float64(n)*cs)
			}
		}
	}
	monitoring.Tracef("[neighbor] %d polygons, %d candidate pairs, %d edges", len(polys), candidates, gr.Edges())
	return gr, nil
}

// SharedEdges counts the cell edges between a and b. It scans the boundary
// cells of the smaller polygon that fall next to the other's bounds.
func SharedEdges(set *parcel.Set, a, b *parcel.Polygon) int {
	if a.Cells() > b.Cells() {
		a, b = b, a
	}
	near := b.Bounds.Expand(1)
	var n int
	for _, c := range a.Footprint {
		if !near.Contains(c) {
			continue
		}
		for _, nc := range c.Neighbors4() {
			if set.Owner(nc) == b.ID {
				n++
			}
		}
	}
	return n
}

// AddNode adds a polygon; adding an existing id is a no-op.
func (g *Graph) AddNode(id parcel.ID) {
	if g.g.Node(int64(id)) != nil {
		return
	}
	g.g.AddNode(simple.Node(id))
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id parcel.ID) bool {
	return g.g.Node(int64(id)) != nil
}

// RemoveNode deletes a polygon and its edges.
func (g *Graph) RemoveNode(id parcel.ID) {
	g.g.RemoveNode(int64(id))
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return g.g.Nodes().Len()
}

// Edges returns the number of undirected edges.
func (g *Graph) Edges() int {
	return g.g.WeightedEdges().Len()
}

// Weight returns the shared boundary length between a and b, or 0.
func (g *Graph) Weight(a, b parcel.ID) float64 {
	if a == b {
		return 0
	}
	w, ok := g.g.Weight(int64(a), int64(b))
	if !ok {
		return 0
	}
	return w
}

// SetWeight sets the edge weight, adding missing nodes. A non-positive
// weight removes the edge.
func (g *Graph) SetWeight(a, b parcel.ID, w float64) {
	if a == b {
		return
	}
	if w <= 0 {
		g.g.RemoveEdge(int64(a), int64(b))
		return
	}
	g.AddNode(a)
	g.AddNode(b)
	g.g.SetWeightedEdge(g.g.NewWeightedEdge(simple.Node(a), simple.Node(b), w))
}

// Neighbors returns the ids adjacent to id in ascending order.
func (g *Graph) Neighbors(id parcel.ID) []parcel.ID {
	if !g.HasNode(id) {
		return nil
	}
	var out []parcel.ID
	it := g.g.From(int64(id))
	for it.Next() {
		out = append(out, parcel.ID(it.Node().ID()))
	}
	slices.Sort(out)
	return out
}

// Contract folds source into target: every edge (source, n) adds its weight
// to (target, n), then source is removed. With exact footprint weights this
// equals rebuilding target's edges from scratch.
func (g *Graph) Contract(target, source parcel.ID) {
	for _, n := range g.Neighbors(source) {
		if n == target {
			continue
		}
		g.SetWeight(target, n, g.Weight(target, n)+g.Weight(source, n))
	}
	g.RemoveNode(source)
}

// Check verifies that graph nodes are exactly the live polygons of set and
// that every edge has a positive weight equal to the shared boundary length.
func (g *Graph) Check(set *parcel.Set) error {
	nodes := g.g.Nodes()
	for nodes.Next() {
		id := parcel.ID(nodes.Node().ID())
		if set.Get(id) == nil {
			return fmt.Errorf("%w: node %d is not a live polygon", ErrGraphInvariant, id)
		}
	}
	if g.Len() != set.Len() {
		return fmt.Errorf("%w: %d nodes for %d polygons", ErrGraphInvariant, g.Len(), set.Len())
	}

	edges := g.g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		a, b := parcel.ID(e.From().ID()), parcel.ID(e.To().ID())
		if a == b {
			return fmt.Errorf("%w: self edge on %d", ErrGraphInvariant, a)
		}
		want := float64(SharedEdges(set, set.Get(a), set.Get(b))) * set.Spec.CellSize
		if e.Weight() <= 0 || math.Abs(e.Weight()-want) > 1e-9*math.Max(1, want) {
			return fmt.Errorf("%w: edge %d-%d weight %v, shared boundary %v", ErrGraphInvariant, a, b, e.Weight(), want)
		}
	}
	return nil
}
