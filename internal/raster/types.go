package raster

import (
	"errors"
	"fmt"
	"math"
)

// NodataSignature marks signature cells that carry no data in any year.
// Valid signatures are always below B^N <= MaxUint64, so this value can
// never collide with an encoded sequence.
const NodataSignature uint64 = math.MaxUint64

var (
	// ErrEmptyGrid indicates a grid or window with no cells.
	ErrEmptyGrid = errors.New("raster: grid must have at least one row and one column")
	// ErrNonRectangular indicates a cell slice whose length does not match its window.
	ErrNonRectangular = errors.New("raster: cell count does not match rows*cols")
	// ErrMisaligned indicates grids in a stack that do not share one window.
	ErrMisaligned = errors.New("raster: grids are not co-registered")
	// ErrOutsideExtent indicates a window that is not contained in the grid extent.
	ErrOutsideExtent = errors.New("raster: window outside grid extent")
)

// Cell addresses one raster cell in global grid coordinates.
type Cell struct {
	Row, Col int32
}

// Neighbors4 returns the edge-adjacent cells in the order north, east, south, west.
func (c Cell) Neighbors4() [4]Cell {
	return [4]Cell{
		{c.Row - 1, c.Col},
		{c.Row, c.Col + 1},
		{c.Row + 1, c.Col},
		{c.Row, c.Col - 1},
	}
}

// GridSpec describes the full processing grid: its size in cells, the planar
// coordinates of its upper-left corner, and the side length of one square cell.
type GridSpec struct {
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
}

// Validate checks that the spec describes a non-empty grid with positive resolution.
func (s GridSpec) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return ErrEmptyGrid
	}
	if !(s.CellSize > 0) || math.IsInf(s.CellSize, 0) {
		return fmt.Errorf("raster: cell size must be positive, got %v", s.CellSize)
	}
	return nil
}

// CellArea returns the planar area of one cell.
func (s GridSpec) CellArea() float64 {
	return s.CellSize * s.CellSize
}

// Extent returns the window covering the whole grid.
func (s GridSpec) Extent() Window {
	return Window{Row: 0, Col: 0, Rows: s.Rows, Cols: s.Cols}
}

// VertexXY converts a grid vertex (the corner shared by up to four cells) to
// planar coordinates. Vertex (row, col) is the upper-left corner of cell (row, col).
func (s GridSpec) VertexXY(row, col int32) (x, y float64) {
	return s.OriginX + float64(col)*s.CellSize, s.OriginY - float64(row)*s.CellSize
}

// Window is a rectangular block of cells in global grid coordinates.
type Window struct {
	Row  int `json:"row"`
	Col  int `json:"col"`
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Empty reports whether the window has no cells.
func (w Window) Empty() bool {
	return w.Rows <= 0 || w.Cols <= 0
}

// Len returns the number of cells in the window.
func (w Window) Len() int {
	if w.Empty() {
		return 0
	}
	return w.Rows * w.Cols
}

// Contains reports whether the cell lies inside the window.
func (w Window) Contains(c Cell) bool {
	r, col := int(c.Row), int(c.Col)
	return r >= w.Row && r < w.Row+w.Rows && col >= w.Col && col < w.Col+w.Cols
}

// ContainsWindow reports whether o lies entirely inside w.
func (w Window) ContainsWindow(o Window) bool {
	if o.Empty() {
		return true
	}
	return o.Row >= w.Row && o.Col >= w.Col &&
		o.Row+o.Rows <= w.Row+w.Rows && o.Col+o.Cols <= w.Col+w.Cols
}

// Index returns the row-major offset of a cell inside the window.
// The cell must be contained in the window.
func (w Window) Index(c Cell) int {
	return (int(c.Row)-w.Row)*w.Cols + (int(c.Col) - w.Col)
}

// CellAt is the inverse of Index.
func (w Window) CellAt(i int) Cell {
	return Cell{Row: int32(w.Row + i/w.Cols), Col: int32(w.Col + i%w.Cols)}
}

// Intersect returns the overlap of two windows; the result may be empty.
func (w Window) Intersect(o Window) Window {
	r0 := max(w.Row, o.Row)
	c0 := max(w.Col, o.Col)
	r1 := min(w.Row+w.Rows, o.Row+o.Rows)
	c1 := min(w.Col+w.Cols, o.Col+o.Cols)
	if r1 <= r0 || c1 <= c0 {
		return Window{Row: r0, Col: c0}
	}
	return Window{Row: r0, Col: c0, Rows: r1 - r0, Cols: c1 - c0}
}

// Expand grows the window by n cells on every side.
func (w Window) Expand(n int) Window {
	return Window{Row: w.Row - n, Col: w.Col - n, Rows: w.Rows + 2*n, Cols: w.Cols + 2*n}
}

func (w Window) String() string {
	return fmt.Sprintf("[r%d c%d %dx%d]", w.Row, w.Col, w.Rows, w.Cols)
}

// CategoryGrid is one year of categorical land cover over a window.
// Cells are row-major within Window.
type CategoryGrid struct {
	Year   int      `json:"year"`
	Window Window   `json:"window"`
	Cells  []uint16 `json:"cells"`
}

// Validate checks the cell slice against the window.
func (g *CategoryGrid) Validate() error {
	if g.Window.Empty() {
		return ErrEmptyGrid
	}
	if len(g.Cells) != g.Window.Len() {
		return fmt.Errorf("year %d: %w (have %d, want %d)", g.Year, ErrNonRectangular, len(g.Cells), g.Window.Len())
	}
	return nil
}

// At returns the category of a cell in global coordinates.
func (g *CategoryGrid) At(c Cell) uint16 {
	return g.Cells[g.Window.Index(c)]
}

// Crop copies the part of the grid covered by w.
func (g *CategoryGrid) Crop(w Window) (*CategoryGrid, error) {
	if !g.Window.ContainsWindow(w) || w.Empty() {
		return nil, fmt.Errorf("crop %v from %v: %w", w, g.Window, ErrOutsideExtent)
	}
	out := &CategoryGrid{Year: g.Year, Window: w, Cells: make([]uint16, w.Len())}
	for r := 0; r < w.Rows; r++ {
		src := (w.Row+r-g.Window.Row)*g.Window.Cols + (w.Col - g.Window.Col)
		copy(out.Cells[r*w.Cols:(r+1)*w.Cols], g.Cells[src:src+w.Cols])
	}
	return out, nil
}

// Stack is N co-registered category grids in year order plus the metadata
// the encoder needs: the nodata category and the declared maximum code.
type Stack struct {
	Spec        GridSpec        `json:"spec"`
	Years       []int           `json:"years"`
	Nodata      uint16          `json:"nodata"`
	MaxCategory uint16          `json:"max_category"`
	Grids       []*CategoryGrid `json:"grids"`
}

// Window returns the window shared by every grid in the stack.
func (s *Stack) Window() Window {
	if len(s.Grids) == 0 {
		return Window{}
	}
	return s.Grids[0].Window
}

// Validate checks that every grid is well formed, lies inside the spec, and
// shares the first grid's window.
func (s *Stack) Validate() error {
	if err := s.Spec.Validate(); err != nil {
		return err
	}
	if len(s.Grids) == 0 {
		return fmt.Errorf("raster: stack has no grids: %w", ErrEmptyGrid)
	}
	if len(s.Years) != 0 && len(s.Years) != len(s.Grids) {
		return fmt.Errorf("raster: %d years declared for %d grids", len(s.Years), len(s.Grids))
	}
	w := s.Grids[0].Window
	if !s.Spec.Extent().ContainsWindow(w) {
		return fmt.Errorf("stack window %v: %w", w, ErrOutsideExtent)
	}
	for _, g := range s.Grids {
		if err := g.Validate(); err != nil {
			return err
		}
		if g.Window != w {
			return fmt.Errorf("year %d window %v vs %v: %w", g.Year, g.Window, w, ErrMisaligned)
		}
	}
	return nil
}

// Crop returns a new stack restricted to w. Cell data is copied so the result
// shares no memory with s.
func (s *Stack) Crop(w Window) (*Stack, error) {
	out := &Stack{
		Spec:        s.Spec,
		Years:       append([]int(nil), s.Years...),
		Nodata:      s.Nodata,
		MaxCategory: s.MaxCategory,
		Grids:       make([]*CategoryGrid, len(s.Grids)),
	}
	for i, g := range s.Grids {
		c, err := g.Crop(w)
		if err != nil {
			return nil, err
		}
		out.Grids[i] = c
	}
	return out, nil
}

// SignatureGrid holds one signature code per cell over a window.
type SignatureGrid struct {
	Spec   GridSpec
	Window Window
	Nodata uint64
	Cells  []uint64
}

// Validate checks the cell slice against the window and the window against the spec.
func (g *SignatureGrid) Validate() error {
	if err := g.Spec.Validate(); err != nil {
		return err
	}
	if g.Window.Empty() {
		return ErrEmptyGrid
	}
	if len(g.Cells) != g.Window.Len() {
		return fmt.Errorf("signature grid: %w (have %d, want %d)", ErrNonRectangular, len(g.Cells), g.Window.Len())
	}
	if !g.Spec.Extent().ContainsWindow(g.Window) {
		return fmt.Errorf("signature grid %v: %w", g.Window, ErrOutsideExtent)
	}
	return nil
}

// At returns the signature of a cell in global coordinates.
func (g *SignatureGrid) At(c Cell) uint64 {
	return g.Cells[g.Window.Index(c)]
}
