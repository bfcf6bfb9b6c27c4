// Package pipeline wires the engine together: it turns a multi-year
// category stack into generalized, globally numbered parcels.
//
// Each tile runs encode, vectorize, the optional crop-presence filter,
// neighbour graph, tiered elimination and simplification on its own window.
// Arcs touching seam candidates are pinned so tiles agree exactly where
// their outputs meet. Run partitions the stack, drives the tiles through
// the orchestrator and reconciles the seams.
//
// This is the only package that reads internal/config; everything below it
// takes plain parameters.
package pipeline
