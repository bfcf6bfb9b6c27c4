// Package sqlite persists engine runs: the run header, the tile manifest,
// seam reconciliation records and the output parcels.
//
// The schema lives in embedded golang-migrate migrations and is brought up
// to date by Open. Geometry is stored as WKB and per-year categories as a
// JSON array, so rows can be read back without the engine.
package sqlite
