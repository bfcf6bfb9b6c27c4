// Package eliminate merges small polygons into their neighbours in tiers of
// increasing area threshold.
//
// For each threshold T the engine runs passes until one merges nothing. A
// pass takes a snapshot of the live polygons smaller than T, ordered by area
// then id, and merges each one that is still smaller than T into the live
// neighbour sharing the longest boundary (ties: larger area, then lower id).
// Polygons with no eligible neighbour are kept.
//
// Merges update the polygon set and the neighbour graph incrementally. The
// merged polygon's per-year categories come from a MergePolicy and its
// signature is re-encoded from them.
package eliminate
