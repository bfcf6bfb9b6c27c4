package raster

import (
	"errors"
	"testing"
)

func testStack(t *testing.T) *Stack {
	t.Helper()
	spec := GridSpec{Rows: 4, Cols: 5, OriginX: 1000, OriginY: 2000, CellSize: 30}
	w := spec.Extent()
	mk := func(year int, base uint16) *CategoryGrid {
		g := &CategoryGrid{Year: year, Window: w, Cells: make([]uint16, w.Len())}
		for i := range g.Cells {
			g.Cells[i] = base + uint16(i%3)
		}
		return g
	}
	return &Stack{
		Spec:        spec,
		Years:       []int{2019, 2020},
		MaxCategory: 10,
		Grids:       []*CategoryGrid{mk(2019, 1), mk(2020, 4)},
	}
}

func TestWindowIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want Window
	}{
		{"overlap", Window{0, 0, 10, 10}, Window{5, 5, 10, 10}, Window{5, 5, 5, 5}},
		{"contained", Window{0, 0, 10, 10}, Window{2, 3, 2, 2}, Window{2, 3, 2, 2}},
		{"disjoint", Window{0, 0, 2, 2}, Window{5, 5, 2, 2}, Window{5, 5, 0, 0}},
		{"touching", Window{0, 0, 2, 2}, Window{0, 2, 2, 2}, Window{0, 2, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Intersect(tt.b)
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWindowIndexRoundTrip(t *testing.T) {
	w := Window{Row: 7, Col: 3, Rows: 4, Cols: 6}
	for i := 0; i < w.Len(); i++ {
		c := w.CellAt(i)
		if !w.Contains(c) {
			t.Fatalf("cell %v from index %d is outside %v", c, i, w)
		}
		if got := w.Index(c); got != i {
			t.Errorf("expected index %d, got %d", i, got)
		}
	}
	if w.Contains(Cell{Row: 11, Col: 3}) {
		t.Error("row past the window must not be contained")
	}
}

func TestGridSpecVertexXY(t *testing.T) {
	spec := GridSpec{Rows: 10, Cols: 10, OriginX: 100, OriginY: 500, CellSize: 30}
	x, y := spec.VertexXY(2, 3)
	if x != 190 || y != 440 {
		t.Errorf("expected (190, 440), got (%v, %v)", x, y)
	}
	if spec.CellArea() != 900 {
		t.Errorf("expected cell area 900, got %v", spec.CellArea())
	}
}

func TestGridSpecValidate(t *testing.T) {
	if err := (GridSpec{Rows: 0, Cols: 3, CellSize: 1}).Validate(); !errors.Is(err, ErrEmptyGrid) {
		t.Errorf("expected ErrEmptyGrid, got %v", err)
	}
	if err := (GridSpec{Rows: 1, Cols: 3, CellSize: 0}).Validate(); err == nil {
		t.Error("expected error for zero cell size")
	}
}

func TestStackValidate(t *testing.T) {
	s := testStack(t)
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Grids[1].Cells = s.Grids[1].Cells[:5]
	if err := s.Validate(); !errors.Is(err, ErrNonRectangular) {
		t.Errorf("expected ErrNonRectangular, got %v", err)
	}

	s = testStack(t)
	s.Grids[1].Window = Window{Row: 1, Col: 0, Rows: 4, Cols: 5}
	if err := s.Validate(); err == nil {
		t.Error("expected error for shifted grid")
	}
}

func TestStackCrop(t *testing.T) {
	s := testStack(t)
	w := Window{Row: 1, Col: 2, Rows: 2, Cols: 3}
	c, err := s.Crop(w)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if c.Window() != w {
		t.Fatalf("expected window %v, got %v", w, c.Window())
	}
	for i := 0; i < w.Len(); i++ {
		cell := w.CellAt(i)
		for y := range s.Grids {
			if got, want := c.Grids[y].At(cell), s.Grids[y].At(cell); got != want {
				t.Errorf("year %d cell %v: expected %d, got %d", y, cell, want, got)
			}
		}
	}

	c.Grids[0].Cells[0] = 99
	if s.Grids[0].At(w.CellAt(0)) == 99 {
		t.Error("crop must not share memory with the source")
	}

	if _, err := s.Crop(Window{Row: 3, Col: 3, Rows: 3, Cols: 3}); !errors.Is(err, ErrOutsideExtent) {
		t.Errorf("expected ErrOutsideExtent, got %v", err)
	}
}
