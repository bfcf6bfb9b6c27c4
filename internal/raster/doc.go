// Package raster holds the in-memory grid types shared by every stage of the
// boundary generalization engine.
//
// Responsibilities: grid geometry (GridSpec), rectangular sub-windows of the
// full processing area (Window), per-year category grids and co-registered
// multi-year stacks (CategoryGrid, Stack), and signature grids (SignatureGrid).
//
// All cell coordinates are global: (row, col) in the full-area grid, with row
// increasing southwards. Windows select a part of that grid without changing
// the coordinate system, so tiles and the whole area share one addressing
// scheme and polygons from different tiles can be compared cell by cell.
//
// Dependency rule: raster depends on nothing else in this module.
// Decoding raster file formats is the caller's job.
package raster
