// Package parcel holds the polygon model the engine operates on.
//
// Every Polygon keeps two representations: its exact footprint (the set of
// global raster cells it covers) and its planar geometry, an orb.Polygon
// traced from that footprint. Merging, area and shared-boundary arithmetic
// work on footprints and are therefore exact; geometry is re-derived with
// Trace after merges and replaced by the simplifier at the end.
//
// A Set is the live collection of polygons for one unit of work together
// with a cell-ownership index, so the owner of any cell and the neighbours
// of any polygon can be found without scanning the whole set.
//
// Tracing assumes 4-connected footprints. Outer rings are counter-clockwise
// and holes clockwise in world coordinates; where a hole meets the outer
// ring (or another hole) at a single vertex the rings touch but never cross.
package parcel
