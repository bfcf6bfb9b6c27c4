package tilecache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
)

// codecVersion is bumped whenever the encoded layout changes.
const codecVersion = 1

type setDTO struct {
	Version  int
	Spec     raster.GridSpec
	Window   raster.Window
	Sparse   bool
	Polygons []polygonDTO
}

type polygonDTO struct {
	ID            int64
	Signature     uint64
	Categories    []uint16
	Rows, Cols    []int32
	FootprintArea float64
	Area          float64
	Geometry      []byte
	Composition   map[uint64]parcel.Share
}

// EncodeSet serializes a polygon set.
func EncodeSet(s *parcel.Set) ([]byte, error) {
	dto := setDTO{Version: codecVersion, Spec: s.Spec, Window: s.Window, Sparse: s.Sparse()}
	for _, p := range s.Polygons() {
		d := polygonDTO{
			ID:            int64(p.ID),
			Signature:     p.Signature,
			Categories:    p.Categories,
			Rows:          make([]int32, len(p.Footprint)),
			Cols:          make([]int32, len(p.Footprint)),
			FootprintArea: p.FootprintArea,
			Area:          p.Area,
			Composition:   p.Composition,
		}
		for i, c := range p.Footprint {
			d.Rows[i], d.Cols[i] = c.Row, c.Col
		}
		if p.Geometry != nil {
			b, err := wkb.Marshal(p.Geometry)
			if err != nil {
				return nil, fmt.Errorf("tilecache: polygon %d geometry: %w", p.ID, err)
			}
			d.Geometry = b
		}
		dto.Polygons = append(dto.Polygons, d)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&dto); err != nil {
		return nil, fmt.Errorf("tilecache: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSet rebuilds a set written by EncodeSet.
func DecodeSet(b []byte) (*parcel.Set, error) {
	var dto setDTO
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&dto); err != nil {
		return nil, fmt.Errorf("tilecache: decode: %w", err)
	}
	if dto.Version != codecVersion {
		return nil, fmt.Errorf("tilecache: entry version %d, want %d", dto.Version, codecVersion)
	}

	var s *parcel.Set
	if dto.Sparse {
		s = parcel.NewSparseSet(dto.Spec)
	} else {
		s = parcel.NewSet(dto.Spec, dto.Window)
	}
	for _, d := range dto.Polygons {
		if len(d.Rows) != len(d.Cols) {
			return nil, fmt.Errorf("tilecache: polygon %d has %d rows and %d cols", d.ID, len(d.Rows), len(d.Cols))
		}
		fp := make([]raster.Cell, len(d.Rows))
		for i := range fp {
			fp[i] = raster.Cell{Row: d.Rows[i], Col: d.Cols[i]}
		}
		p := &parcel.Polygon{
			ID:            parcel.ID(d.ID),
			Signature:     d.Signature,
			Categories:    d.Categories,
			Footprint:     fp,
			Bounds:        parcel.CellBounds(fp),
			FootprintArea: d.FootprintArea,
			Area:          d.Area,
			Composition:   d.Composition,
		}
		if p.Composition == nil {
			p.Composition = map[uint64]parcel.Share{}
		}
		if len(d.Geometry) > 0 {
			g, err := wkb.Unmarshal(d.Geometry)
			if err != nil {
				return nil, fmt.Errorf("tilecache: polygon %d geometry: %w", d.ID, err)
			}
			poly, ok := g.(orb.Polygon)
			if !ok {
				return nil, fmt.Errorf("tilecache: polygon %d geometry is %s", d.ID, g.GeoJSONType())
			}
			p.Geometry = poly
		}
		if _, err := s.Add(p); err != nil {
			return nil, fmt.Errorf("tilecache: %w", err)
		}
	}
	return s, nil
}
