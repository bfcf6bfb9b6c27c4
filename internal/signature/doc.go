// Package signature encodes a multi-year stack of category grids into one
// grid of 64-bit sequence signatures.
//
// A cell's signature is sum(category_i * B^i) over the years in input order,
// with B strictly greater than the largest category code. The mapping is a
// bijection between category sequences and codes below B^N, so two cells
// share a signature exactly when they share a crop sequence. Encoder.Decode
// and Encoder.EncodeCategories expose both directions so later stages can
// re-derive the signature of a merged polygon from its recomputed categories.
//
// The Lookup returned by Encode records the category tuple of every
// signature seen, plus the cropland/barren year counts used by retention
// filters and reports.
package signature
