package parcel

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/banshee-data/cropseq/internal/raster"
)

var (
	// ErrUnknownPolygon is returned for ids not live in the set.
	ErrUnknownPolygon = errors.New("parcel: unknown polygon")
	// ErrCellOwned is returned when adding a polygon over cells another polygon owns.
	ErrCellOwned = errors.New("parcel: cell already owned")
)

// Set is a live polygon collection with a cell-ownership index.
//
// Dense sets index ownership with one slot per cell of their window and are
// used for tiles. Sparse sets index ownership with a map and accept cells
// anywhere in the grid; reconciliation uses them for seam neighbourhoods.
type Set struct {
	Spec   raster.GridSpec
	Window raster.Window

	polys  map[ID]*Polygon
	owner  []ID
	sparse map[raster.Cell]ID
	nextID ID
}

// NewSet returns a dense set over window.
func NewSet(spec raster.GridSpec, window raster.Window) *Set {
	return &Set{
		Spec:   spec,
		Window: window,
		polys:  make(map[ID]*Polygon),
		owner:  make([]ID, window.Len()),
		nextID: 1,
	}
}

// NewSparseSet returns a set that tracks ownership in a map.
func NewSparseSet(spec raster.GridSpec) *Set {
	return &Set{
		Spec:   spec,
		Window: spec.Extent(),
		polys:  make(map[ID]*Polygon),
		sparse: make(map[raster.Cell]ID),
		nextID: 1,
	}
}

// Sparse reports whether ownership is tracked in a map.
func (s *Set) Sparse() bool { return s.sparse != nil }

// Len returns the number of live polygons.
func (s *Set) Len() int { return len(s.polys) }

// Get returns a live polygon or nil.
func (s *Set) Get(id ID) *Polygon { return s.polys[id] }

// IDs returns live ids in ascending order.
func (s *Set) IDs() []ID {
	return slices.Sorted(maps.Keys(s.polys))
}

// Polygons returns live polygons in ascending id order.
func (s *Set) Polygons() []*Polygon {
	ids := s.IDs()
	out := make([]*Polygon, len(ids))
	for i, id := range ids {
		out[i] = s.polys[id]
	}
	return out
}

// Owner returns the id owning a cell, or None.
func (s *Set) Owner(c raster.Cell) ID {
	if s.sparse != nil {
		return s.sparse[c]
	}
	if !s.Window.Contains(c) {
		return None
	}
	return s.owner[s.Window.Index(c)]
}

func (s *Set) setOwner(c raster.Cell, id ID) {
	if s.sparse != nil {
		if id == None {
			delete(s.sparse, c)
			return
		}
		s.sparse[c] = id
		return
	}
	s.owner[s.Window.Index(c)] = id
}

// Add inserts p, assigning the next free id when p.ID is None.
func (s *Set) Add(p *Polygon) (ID, error) {
	if p.ID == None {
		p.ID = s.nextID
	}
	if _, dup := s.polys[p.ID]; dup {
		return None, fmt.Errorf("parcel: duplicate polygon id %d", p.ID)
	}
	for _, c := range p.Footprint {
		if s.sparse == nil && !s.Window.Contains(c) {
			return None, fmt.Errorf("parcel: cell (%d,%d) outside set window %v", c.Row, c.Col, s.Window)
		}
		if o := s.Owner(c); o != None {
			return None, fmt.Errorf("cell (%d,%d) owned by %d: %w", c.Row, c.Col, o, ErrCellOwned)
		}
	}
	for _, c := range p.Footprint {
		s.setOwner(c, p.ID)
	}
	s.polys[p.ID] = p
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	return p.ID, nil
}

// Remove deletes a polygon and clears its cells.
func (s *Set) Remove(id ID) {
	p, ok := s.polys[id]
	if !ok {
		return
	}
	for _, c := range p.Footprint {
		if s.Owner(c) == id {
			s.setOwner(c, None)
		}
	}
	delete(s.polys, id)
}

// Absorb merges source into target: footprints and compositions are
// combined, cells change owner, and the target's geometry is cleared until
// the next Retrace. Categories and signature are left for the caller.
func (s *Set) Absorb(target, source ID) error {
	if target == source {
		return fmt.Errorf("parcel: polygon %d cannot absorb itself", target)
	}
	t, ok := s.polys[target]
	if !ok {
		return fmt.Errorf("target %d: %w", target, ErrUnknownPolygon)
	}
	src, ok := s.polys[source]
	if !ok {
		return fmt.Errorf("source %d: %w", source, ErrUnknownPolygon)
	}

	for _, c := range src.Footprint {
		s.setOwner(c, target)
	}
	t.Footprint = MergeFootprints(t.Footprint, src.Footprint)
	t.Bounds = CellBounds(t.Footprint)
	t.FootprintArea = float64(len(t.Footprint)) * s.Spec.CellArea()
	t.Area = t.FootprintArea
	t.Geometry = nil
	for sig, sh := range src.Composition {
		cur := t.Composition[sig]
		cur.Area += sh.Area
		cur.Regions += sh.Regions
		t.Composition[sig] = cur
	}
	delete(s.polys, source)
	return nil
}

// Retrace rebuilds a polygon's geometry from its footprint.
func (s *Set) Retrace(id ID) error {
	p, ok := s.polys[id]
	if !ok {
		return fmt.Errorf("retrace %d: %w", id, ErrUnknownPolygon)
	}
	g, err := Trace(s.Spec, p.Footprint)
	if err != nil {
		return fmt.Errorf("retrace %d: %w", id, err)
	}
	p.Geometry = g
	p.Area = p.FootprintArea
	return nil
}

// RetraceAll rebuilds geometry for every polygon whose geometry is empty.
func (s *Set) RetraceAll() error {
	for _, id := range s.IDs() {
		if s.polys[id].Geometry != nil {
			continue
		}
		if err := s.Retrace(id); err != nil {
			return err
		}
	}
	return nil
}

// TotalArea is the summed footprint area of all live polygons.
func (s *Set) TotalArea() float64 {
	var total float64
	for _, p := range s.polys {
		total += p.FootprintArea
	}
	return total
}
