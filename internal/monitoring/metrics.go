package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "csb_tiles_total",
		Help: "Tile attempts by outcome (success, retryable, gap)",
	}, []string{"outcome"})
	TileDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "csb_tile_duration_seconds",
		Help:    "Wall-clock time of a single tile attempt",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "csb_merges_total",
		Help: "Polygon merges performed by the elimination engine, by tier",
	}, []string{"tier"})
	TopologyReductionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csb_topology_reductions_total",
		Help: "Arcs whose simplification tolerance was reduced to preserve topology",
	})
	SeamStitchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csb_seam_stitches_total",
		Help: "Seam pieces unioned across tile boundaries",
	})
)

func init() {
	prometheus.MustRegister(TilesTotal)
	prometheus.MustRegister(TileDurationSeconds)
	prometheus.MustRegister(MergesTotal)
	prometheus.MustRegister(TopologyReductionsTotal)
	prometheus.MustRegister(SeamStitchesTotal)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
