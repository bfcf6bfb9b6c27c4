package vectorize

import (
	"fmt"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/signature"
)

// RasterizationError reports an input grid that cannot be vectorized.
type RasterizationError struct {
	Reason string
	Err    error
}

func (e *RasterizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vectorize: %s: %v", e.Reason, e.Err)
	}
	return "vectorize: " + e.Reason
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// Vectorize builds a dense polygon set over the grid's window. Ids are
// assigned from 1 in row-major order of each region's first cell.
func Vectorize(grid *raster.SignatureGrid, lookup *signature.Lookup, nodata uint64) (*parcel.Set, error) {
	if grid == nil {
		return nil, &RasterizationError{Reason: "nil grid"}
	}
	if err := grid.Validate(); err != nil {
		return nil, &RasterizationError{Reason: "invalid grid", Err: err}
	}

	w := grid.Window
	set := parcel.NewSet(grid.Spec, w)
	seen := make([]bool, len(grid.Cells))

	for i0, sig := range grid.Cells {
		if seen[i0] || sig == nodata {
			continue
		}
		cats, ok := lookup.Categories(sig)
		if !ok {
			return nil, &RasterizationError{Reason: fmt.Sprintf("signature %d at cell %v missing from lookup", sig, w.CellAt(i0))}
		}

		// BFS over edge neighbours with the same signature.
		seen[i0] = true
		queue := []raster.Cell{w.CellAt(i0)}
		for qi := 0; qi < len(queue); qi++ {
			for _, n := range queue[qi].Neighbors4() {
				if !w.Contains(n) {
					continue
				}
				ni := w.Index(n)
				if !seen[ni] && grid.Cells[ni] == sig {
					seen[ni] = true
					queue = append(queue, n)
				}
			}
		}

		p := parcel.NewPolygon(grid.Spec, sig, cats, queue)
		geom, err := parcel.Trace(grid.Spec, p.Footprint)
		if err != nil {
			return nil, &RasterizationError{Reason: fmt.Sprintf("trace region at %v", w.CellAt(i0)), Err: err}
		}
		p.Geometry = geom
		if _, err := set.Add(p); err != nil {
			return nil, &RasterizationError{Reason: "index region", Err: err}
		}
	}

	monitoring.Tracef("[vectorize] window %v: %d polygons from %d signatures", w, set.Len(), lookup.Len())
	return set, nil
}
