// Package vectorize converts a signature grid into polygons and back.
//
// Vectorize emits one parcel.Polygon per maximal 4-connected region of equal
// signature; nodata cells belong to no polygon. Each polygon carries its
// footprint, exact area, per-year categories from the signature lookup, and
// geometry traced from the footprint. Regions of a single cell are emitted
// like any other; size filtering is the elimination engine's job.
//
// Rasterize burns polygon geometry back into a signature grid. It is the
// inverse of Vectorize for unsimplified polygons and is used to check that
// round trip.
package vectorize
