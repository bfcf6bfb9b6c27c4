package tiling

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/cropseq/internal/raster"
)

func TestPartitionCoversExtentOnce(t *testing.T) {
	extent := raster.Window{Row: 5, Col: 3, Rows: 25, Cols: 23}
	tiles, err := Partition(extent, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tiles) != 9 {
		t.Fatalf("expected 9 tiles, got %d", len(tiles))
	}

	count := make(map[raster.Cell]int)
	for i, tl := range tiles {
		if tl.Index != i {
			t.Errorf("expected index %d, got %d", i, tl.Index)
		}
		if !tl.Window.ContainsWindow(tl.Core) {
			t.Errorf("tile %d: window %v does not contain core %v", i, tl.Window, tl.Core)
		}
		if !extent.ContainsWindow(tl.Window) {
			t.Errorf("tile %d: window %v leaves extent", i, tl.Window)
		}
		for k := 0; k < tl.Core.Len(); k++ {
			count[tl.Core.CellAt(k)]++
		}
	}
	if len(count) != extent.Len() {
		t.Errorf("expected %d covered cells, got %d", extent.Len(), len(count))
	}
	for c, n := range count {
		if n != 1 {
			t.Errorf("cell %v covered %d times", c, n)
		}
	}
}

func TestPartitionWindows(t *testing.T) {
	tiles, err := Partition(raster.Window{Rows: 10, Cols: 20}, 10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Tile{
		{Index: 0, Row: 0, Col: 0,
			Core:   raster.Window{Rows: 10, Cols: 10},
			Window: raster.Window{Rows: 10, Cols: 13}},
		{Index: 1, Row: 0, Col: 1,
			Core:   raster.Window{Col: 10, Rows: 10, Cols: 10},
			Window: raster.Window{Col: 7, Rows: 10, Cols: 13}},
	}
	if diff := cmp.Diff(want, tiles); diff != "" {
		t.Errorf("tiles mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionSingleTileNeedsNoMargin(t *testing.T) {
	tiles, err := Partition(raster.Window{Rows: 8, Cols: 8}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tiles) != 1 || tiles[0].Core != tiles[0].Window {
		t.Errorf("expected one tile with core == window, got %+v", tiles)
	}
}

func TestPartitionErrors(t *testing.T) {
	extent := raster.Window{Rows: 30, Cols: 30}
	tests := []struct {
		name         string
		tile, margin int
		want         error
	}{
		{"zero tile", 0, 1, ErrTileSize},
		{"negative margin", 10, -1, ErrMargin},
		{"no margin with several tiles", 10, 0, ErrMargin},
		{"tile not larger than margin", 5, 5, ErrMargin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(extent, tt.tile, tt.margin)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		cpus     int
		fraction float64
		want     int
	}{
		{8, 0.75, 6},
		{8, 1.0, 7},
		{4, 0.1, 1},
		{1, 0.5, 1},
		{16, 0.5, 8},
	}
	for _, tt := range tests {
		if got := workerCount(tt.cpus, tt.fraction); got != tt.want {
			t.Errorf("workerCount(%d, %v): expected %d, got %d", tt.cpus, tt.fraction, tt.want, got)
		}
	}
	if n := WorkerCount(1); n < 1 {
		t.Errorf("expected at least one worker, got %d", n)
	}
}
