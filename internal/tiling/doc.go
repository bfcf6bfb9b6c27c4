// Package tiling splits a processing extent into overlapping tiles, runs a
// per-tile function on a bounded worker pool, and stitches the per-tile
// polygon sets back into one global set.
//
// Every tile has a core and a window. Cores partition the extent; the window
// is the core grown by the overlap margin. A tile is processed on its window
// so fields crossing the core edge are seen whole, then reconciliation keeps
// only the cells inside each core and unions matching pieces across core
// boundaries.
//
// Tiles share no mutable state while they run. The Orchestrator's collector
// and Manifest are the only structures touched by more than one goroutine.
package tiling
