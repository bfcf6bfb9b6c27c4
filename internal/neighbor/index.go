package neighbor

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// SpatialIndex buckets bounding boxes on a regular grid. An item is stored
// in every bucket its box overlaps; a query returns items whose boxes
// intersect the query box.
type SpatialIndex struct {
	CellSize float64
	Grid     map[int64][]int64 // bucket id -> item ids
	bounds   map[int64]orb.Bound
}

// NewSpatialIndex creates an index with the given bucket size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[int64][]int64),
		bounds:   make(map[int64]orb.Bound),
	}
}

// Len returns the number of indexed items.
func (si *SpatialIndex) Len() int { return len(si.bounds) }

// Insert adds or replaces an item.
func (si *SpatialIndex) Insert(id int64, b orb.Bound) {
	if _, ok := si.bounds[id]; ok {
		si.Remove(id)
	}
	si.bounds[id] = b
	si.forBuckets(b, func(cell int64) {
		si.Grid[cell] = append(si.Grid[cell], id)
	})
}

// Remove deletes an item; unknown ids are ignored.
func (si *SpatialIndex) Remove(id int64) {
	b, ok := si.bounds[id]
	if !ok {
		return
	}
	delete(si.bounds, id)
	si.forBuckets(b, func(cell int64) {
		items := si.Grid[cell]
		if i := slices.Index(items, id); i >= 0 {
			items = slices.Delete(items, i, i+1)
		}
		if len(items) == 0 {
			delete(si.Grid, cell)
			return
		}
		si.Grid[cell] = items
	})
}

// Bound returns the stored box of an item.
func (si *SpatialIndex) Bound(id int64) (orb.Bound, bool) {
	b, ok := si.bounds[id]
	return b, ok
}

// Query returns the ids of items whose boxes intersect b, ascending.
func (si *SpatialIndex) Query(b orb.Bound) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	si.forBuckets(b, func(cell int64) {
		for _, id := range si.Grid[cell] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if si.bounds[id].Intersects(b) {
				out = append(out, id)
			}
		}
	})
	slices.Sort(out)
	return out
}

func (si *SpatialIndex) forBuckets(b orb.Bound, fn func(int64)) {
	x0 := int64(math.Floor(b.Min[0] / si.CellSize))
	x1 := int64(math.Floor(b.Max[0] / si.CellSize))
	y0 := int64(math.Floor(b.Min[1] / si.CellSize))
	y1 := int64(math.Floor(b.Max[1] / si.CellSize))
	for cx := x0; cx <= x1; cx++ {
		for cy := y0; cy <= y1; cy++ {
			fn(cellID(cx, cy))
		}
	}
}

// cellID computes a unique bucket identifier using Szudzik's pairing function.
// Handles negative coordinates correctly.
func cellID(cellX, cellY int64) int64 {
	// Map signed integers to non-negative using zigzag encoding
	var a, b int64
	if cellX >= 0 {
		a = 2 * cellX
	} else {
		a = -2*cellX - 1
	}
	if cellY >= 0 {
		b = 2 * cellY
	} else {
		b = -2*cellY - 1
	}

	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}
