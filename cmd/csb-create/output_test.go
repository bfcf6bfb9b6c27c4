package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/pipeline"
	"github.com/banshee-data/cropseq/internal/raster"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestLoadStack(t *testing.T) {
	stack := pipeline.Synthetic(pipeline.SyntheticOptions{Rows: 8, Cols: 6, Years: []int{2020, 2021}, Seed: 3})
	data, err := json.Marshal(stack)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "stack.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := loadStack(path)
	if err != nil {
		t.Fatalf("loadStack failed: %v", err)
	}
	if got.Window() != (raster.Window{Rows: 8, Cols: 6}) {
		t.Errorf("expected 8x6 window, got %v", got.Window())
	}
	if len(got.Grids) != 2 || got.Grids[1].Year != 2021 {
		t.Errorf("unexpected grids: %d", len(got.Grids))
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"spec": {"rows": 2, "cols": 2, "cell_size": 1}, "grids": [{"year": 2020, "window": {"rows": 2, "cols": 2}, "cells": [1]}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadStack(bad); err == nil {
		t.Error("expected error for short grid")
	}
	if _, err := loadStack(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteGeoJSON(t *testing.T) {
	res := &pipeline.Result{
		Years: []int{2020, 2021},
		Parcels: []pipeline.Parcel{{
			ID: 7, Signature: 1<<63 + 1, Categories: []uint16{1, 5},
			Area: 900, FootprintArea: 900, YearsCropland: 2,
			Geometry: orb.Polygon{orb.Ring{{0, 0}, {30, 0}, {30, 30}, {0, 30}, {0, 0}}},
		}},
	}
	path := filepath.Join(t.TempDir(), "out", "csb.geojson")
	if err := writeGeoJSON(path, res); err != nil {
		t.Fatalf("writeGeoJSON failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("output is not a feature collection: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	f := fc.Features[0]
	if got := f.Properties.MustString("signature"); got != "9223372036854775809" {
		t.Errorf("expected full-precision signature, got %q", got)
	}
	if got := f.Properties.MustInt("cdl2021"); got != 5 {
		t.Errorf("expected cdl2021 = 5, got %d", got)
	}
	if got := f.Properties.MustFloat64("footprint_area"); got != 900 {
		t.Errorf("expected footprint_area 900, got %v", got)
	}
	if _, ok := f.Geometry.(orb.Polygon); !ok {
		t.Errorf("expected polygon geometry, got %T", f.Geometry)
	}
}
