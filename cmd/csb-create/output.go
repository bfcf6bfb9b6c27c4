package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/cropseq/internal/pipeline"
	"github.com/banshee-data/cropseq/internal/raster"
)

// maxStackBytes bounds the size of a JSON input stack.
const maxStackBytes = 2 << 30

// loadStack reads a JSON stack: spec, years, nodata, max_category and one
// grid per year.
func loadStack(path string) (*raster.Stack, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxStackBytes {
		return nil, fmt.Errorf("input %s too large (%d bytes)", path, info.Size())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s raster.Stack
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	return &s, nil
}

// featureCollection converts parcels to GeoJSON features carrying the
// year sequence and crop counts as properties.
func featureCollection(res *pipeline.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range res.Parcels {
		f := geojson.NewFeature(p.Geometry)
		f.ID = int64(p.ID)
		f.Properties["csb_id"] = int64(p.ID)
		f.Properties["signature"] = fmt.Sprintf("%d", p.Signature)
		f.Properties["area"] = p.Area
		f.Properties["footprint_area"] = p.FootprintArea
		f.Properties["years_cropland"] = p.YearsCropland
		f.Properties["years_barren"] = p.YearsBarren
		for i, year := range res.Years {
			if i < len(p.Categories) {
				f.Properties[fmt.Sprintf("cdl%d", year)] = p.Categories[i]
			}
		}
		fc.Append(f)
	}
	return fc
}

func writeGeoJSON(path string, res *pipeline.Result) error {
	data, err := featureCollection(res).MarshalJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
