// Package simplify smooths polygon boundaries without breaking the planar
// partition.
//
// Boundaries are decomposed into arcs: maximal runs of cell edges separating
// the same two polygons (or a polygon and the outside, id 0). Arc endpoints
// are nodes, where three or more boundary edges meet; closed loops are cut at
// their smallest vertex and at the vertex farthest from it. Each arc is put
// in a canonical direction and simplified exactly once with Douglas-Peucker,
// so both polygons on its sides receive identical geometry and no gaps or
// overlaps can open between neighbours.
//
// After every round the result is validated: simplified segments must not
// cross or overlap, no other arc's vertex may lie in the region an arc swept
// across, and each ring must keep its orientation and at least three distinct
// vertices. Arcs that fail have their tolerance halved and are retried; below
// MinTolerance they fall back to collinear-vertex removal, which is always
// valid. Every such reduction is reported as a TopologyError.
package simplify
