// Package neighbor builds and maintains the polygon adjacency graph.
//
// Nodes are polygon ids; an undirected edge joins two polygons that share a
// boundary of non-zero length and is weighted by that length. Polygons that
// touch only at a corner are not neighbours.
//
// Candidate pairs come from SpatialIndex, a uniform bucket grid over
// bounding boxes, so building the graph never compares every pair of
// polygons. The exact weight of a candidate pair is the number of cell edges
// the two footprints share, times the cell size.
//
// Graph wraps gonum's weighted undirected graph and adds the operations the
// elimination engine needs: accumulating weights onto a surviving polygon
// in Contract, and Check for the structural invariants.
package neighbor
