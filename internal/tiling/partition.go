package tiling

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
)

var (
	// ErrTileSize is returned for non-positive tile sizes.
	ErrTileSize = errors.New("tiling: tile size must be positive")
	// ErrMargin is returned when the overlap margin cannot separate tiles.
	ErrMargin = errors.New("tiling: invalid overlap margin")
)

// Tile is one unit of parallel work.
type Tile struct {
	Index int
	// Row and Col locate the tile in the tile grid.
	Row, Col int
	// Core is the part of the extent this tile is authoritative for.
	Core raster.Window
	// Window is Core grown by the margin and clipped to the extent.
	Window raster.Window
}

func (t Tile) String() string {
	return fmt.Sprintf("tile %d (%d,%d) core %v", t.Index, t.Row, t.Col, t.Core)
}

// IsSeamCandidate reports whether p reaches outside the tile core.
func (t Tile) IsSeamCandidate(p *parcel.Polygon) bool {
	return !t.Core.ContainsWindow(p.Bounds)
}

// Partition cuts extent into tileCells x tileCells cores in row-major order.
// Edge cores are smaller when the extent is not a multiple of the tile size.
func Partition(extent raster.Window, tileCells, marginCells int) ([]Tile, error) {
	if tileCells <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrTileSize, tileCells)
	}
	if marginCells < 0 {
		return nil, fmt.Errorf("%w: negative margin %d", ErrMargin, marginCells)
	}
	if extent.Empty() {
		return nil, raster.ErrEmptyGrid
	}
	tileRows := (extent.Rows + tileCells - 1) / tileCells
	tileCols := (extent.Cols + tileCells - 1) / tileCells
	if tileRows*tileCols > 1 {
		if marginCells == 0 {
			return nil, fmt.Errorf("%w: margin must be positive with %d tiles", ErrMargin, tileRows*tileCols)
		}
		if tileCells <= marginCells {
			return nil, fmt.Errorf("%w: tile size %d not larger than margin %d", ErrMargin, tileCells, marginCells)
		}
	}

	tiles := make([]Tile, 0, tileRows*tileCols)
	for tr := 0; tr < tileRows; tr++ {
		for tc := 0; tc < tileCols; tc++ {
			core := raster.Window{
				Row:  extent.Row + tr*tileCells,
				Col:  extent.Col + tc*tileCells,
				Rows: tileCells,
				Cols: tileCells,
			}.Intersect(extent)
			tiles = append(tiles, Tile{
				Index:  len(tiles),
				Row:    tr,
				Col:    tc,
				Core:   core,
				Window: core.Expand(marginCells).Intersect(extent),
			})
		}
	}
	return tiles, nil
}
