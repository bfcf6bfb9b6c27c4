package tiling

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cropseq/internal/raster"
)

// TileRecord is the manifest entry of one tile.
type TileRecord struct {
	Index    int           `json:"index"`
	Core     raster.Window `json:"core"`
	Outcome  Outcome       `json:"outcome"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Reason   string        `json:"reason,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	Polygons int           `json:"polygons"`
}

// Manifest summarizes run health: which tiles succeeded, which needed
// retries, and which are gaps to reprocess by hand.
type Manifest struct {
	Tiles     []TileRecord `json:"tiles"`
	Succeeded int          `json:"succeeded"`
	Retried   int          `json:"retried"`
	Gaps      int          `json:"gaps"`
	Pending   int          `json:"pending"`
}

func newManifest(tiles []Tile) Manifest {
	m := Manifest{Tiles: make([]TileRecord, len(tiles)), Pending: len(tiles)}
	// Unfinished tiles read as retryable until collected.
	for i, t := range tiles {
		m.Tiles[i] = TileRecord{Index: t.Index, Core: t.Core, Outcome: OutcomeRetryable}
	}
	return m
}

func (m Manifest) clone() Manifest {
	m.Tiles = slices.Clone(m.Tiles)
	return m
}

// GapTiles returns the records of tiles that produced no output.
func (m Manifest) GapTiles() []TileRecord {
	var out []TileRecord
	for _, r := range m.Tiles {
		if r.Outcome == OutcomeGap {
			out = append(out, r)
		}
	}
	return out
}

// ElapsedStats returns the mean and standard deviation of processing time
// over tiles that ran, in seconds.
func (m Manifest) ElapsedStats() (mean, std float64) {
	var xs []float64
	for _, r := range m.Tiles {
		if r.Attempts > 0 && !r.Cached {
			xs = append(xs, r.Elapsed.Seconds())
		}
	}
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
