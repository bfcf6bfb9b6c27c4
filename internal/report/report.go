package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/cropseq/internal/pipeline"
	"github.com/banshee-data/cropseq/internal/tiling"
)

// ErrNoParcels is returned when there is nothing to plot.
var ErrNoParcels = errors.New("report: no parcels")

// Summary holds run-level statistics.
type Summary struct {
	Parcels    int     `json:"parcels"`
	TotalArea  float64 `json:"total_area"`
	MeanArea   float64 `json:"mean_area"`
	MedianArea float64 `json:"median_area"`
	StdArea    float64 `json:"std_area"`
	MinArea    float64 `json:"min_area"`
	MaxArea    float64 `json:"max_area"`

	Tiles           int     `json:"tiles"`
	Succeeded       int     `json:"succeeded"`
	Cached          int     `json:"cached"`
	Retried         int     `json:"retried"`
	Gaps            int     `json:"gaps"`
	MeanTileSeconds float64 `json:"mean_tile_seconds"`
	StdTileSeconds  float64 `json:"std_tile_seconds"`
}

// Summarize computes area statistics over parcel footprints and tile
// statistics over the manifest.
func Summarize(parcels []pipeline.Parcel, m tiling.Manifest) Summary {
	s := Summary{Parcels: len(parcels), Tiles: len(m.Tiles), Retried: m.Retried, Gaps: m.Gaps}
	for _, r := range m.Tiles {
		if r.Outcome != tiling.OutcomeSuccess {
			continue
		}
		s.Succeeded++
		if r.Cached {
			s.Cached++
		}
	}
	s.MeanTileSeconds, s.StdTileSeconds = m.ElapsedStats()

	areas := Areas(parcels)
	if len(areas) == 0 {
		return s
	}
	s.TotalArea = floats.Sum(areas)
	s.MinArea, s.MaxArea = areas[0], areas[len(areas)-1]
	if len(areas) == 1 {
		s.MeanArea, s.MedianArea = areas[0], areas[0]
		return s
	}
	s.MeanArea, s.StdArea = stat.MeanStdDev(areas, nil)
	s.MedianArea = stat.Quantile(0.5, stat.Empirical, areas, nil)
	return s
}

// String formats the summary as a single log line.
func (s Summary) String() string {
	return fmt.Sprintf("%d parcels, total area %.1f, mean %.1f, median %.1f; %d/%d tiles ok (%d cached, %d retried, %d gaps)",
		s.Parcels, s.TotalArea, s.MeanArea, s.MedianArea, s.Succeeded, s.Tiles, s.Cached, s.Retried, s.Gaps)
}

// Areas returns the sorted footprint areas of parcels.
func Areas(parcels []pipeline.Parcel) []float64 {
	out := make([]float64, len(parcels))
	for i, p := range parcels {
		out[i] = p.FootprintArea
	}
	slices.Sort(out)
	return out
}

// WriteAreaHistogram renders a histogram of parcel areas to path. The image
// format follows the file extension (png, svg, pdf).
func WriteAreaHistogram(path string, parcels []pipeline.Parcel, bins int) error {
	if len(parcels) == 0 {
		return ErrNoParcels
	}
	if bins <= 0 {
		bins = 20
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Parcel area (%d parcels)", len(parcels))
	p.X.Label.Text = "Area (map units²)"
	p.Y.Label.Text = "Parcels"

	h, err := plotter.NewHist(plotter.Values(Areas(parcels)), bins)
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 76, G: 140, B: 74, A: 255}
	p.Add(h)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteManifestPage renders tile outcome counts and per-tile elapsed time
// as an HTML page.
func WriteManifestPage(w io.Writer, m tiling.Manifest) error {
	s := Summarize(nil, m)

	outcomes := charts.NewBar()
	outcomes.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tile manifest", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tile outcomes", Subtitle: fmt.Sprintf("%d tiles", s.Tiles)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	outcomes.SetXAxis([]string{"succeeded", "cached", "retried", "gap", "pending"}).
		AddSeries("tiles", []opts.BarData{
			{Value: s.Succeeded - s.Cached},
			{Value: s.Cached},
			{Value: s.Retried},
			{Value: s.Gaps},
			{Value: m.Pending},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	labels := make([]string, len(m.Tiles))
	elapsed := make([]opts.BarData, len(m.Tiles))
	for i, r := range m.Tiles {
		labels[i] = fmt.Sprintf("%d", r.Index)
		elapsed[i] = opts.BarData{Name: r.Outcome.String(), Value: r.Elapsed.Seconds()}
	}
	timing := charts.NewBar()
	timing.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Tile processing time",
			Subtitle: fmt.Sprintf("mean %.3fs, std %.3fs", s.MeanTileSeconds, s.StdTileSeconds),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tile"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	timing.SetXAxis(labels).AddSeries("elapsed", elapsed)

	page := components.NewPage()
	page.AddCharts(outcomes, timing)
	return page.Render(w)
}
