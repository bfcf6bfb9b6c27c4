package vectorize

import (
	"image"
	"image/draw"

	"golang.org/x/image/vector"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
)

// coverageThreshold is the minimum alpha for a cell to count as inside.
const coverageThreshold = 128

// Rasterize burns polygon geometry into a signature grid over window. Cells
// covered by no polygon hold nodata. Polygons without geometry are skipped.
// Where polygons overlap, the later one in the slice wins.
func Rasterize(polys []*parcel.Polygon, spec raster.GridSpec, window raster.Window, nodata uint64) *raster.SignatureGrid {
	out := &raster.SignatureGrid{
		Spec:   spec,
		Window: window,
		Nodata: nodata,
		Cells:  make([]uint64, window.Len()),
	}
	for i := range out.Cells {
		out.Cells[i] = nodata
	}

	for _, p := range polys {
		if len(p.Geometry) == 0 {
			continue
		}
		b := p.Geometry.Bound()
		// Pixel box of the polygon in global cell coordinates, clipped to window.
		c0 := int((b.Min[0]-spec.OriginX)/spec.CellSize) - 1
		c1 := int((b.Max[0]-spec.OriginX)/spec.CellSize) + 1
		r0 := int((spec.OriginY-b.Max[1])/spec.CellSize) - 1
		r1 := int((spec.OriginY-b.Min[1])/spec.CellSize) + 1
		box := window.Intersect(raster.Window{Row: r0, Col: c0, Rows: r1 - r0, Cols: c1 - c0})
		if box.Empty() {
			continue
		}

		r := vector.NewRasterizer(box.Cols, box.Rows)
		for _, ring := range p.Geometry {
			for i, pt := range ring {
				x := float32((pt[0]-spec.OriginX)/spec.CellSize - float64(box.Col))
				y := float32((spec.OriginY-pt[1])/spec.CellSize - float64(box.Row))
				if i == 0 {
					r.MoveTo(x, y)
				} else {
					r.LineTo(x, y)
				}
			}
			r.ClosePath()
		}

		dst := image.NewAlpha(image.Rect(0, 0, box.Cols, box.Rows))
		r.DrawOp = draw.Src
		r.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})

		for y := 0; y < box.Rows; y++ {
			for x := 0; x < box.Cols; x++ {
				if dst.Pix[y*dst.Stride+x] < coverageThreshold {
					continue
				}
				c := raster.Cell{Row: int32(box.Row + y), Col: int32(box.Col + x)}
				out.Cells[window.Index(c)] = p.Signature
			}
		}
	}
	return out
}
