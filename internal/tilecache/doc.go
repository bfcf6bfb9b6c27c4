// Package tilecache persists finished tile polygon sets so interrupted runs
// can resume and gap tiles can be reprocessed without redoing their
// neighbours.
//
// Entries are gob-encoded sets with geometry as WKB, stored under a key
// derived from the tile, the engine configuration and the input cells with
// xxhash. Any change to configuration or input therefore misses the cache.
// Memory is an in-process backend for tests and single runs; Redis shares
// entries between runs and machines.
package tilecache
