package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/config"
	"github.com/banshee-data/cropseq/internal/eliminate"
	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/neighbor"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/signature"
	"github.com/banshee-data/cropseq/internal/simplify"
	"github.com/banshee-data/cropseq/internal/tiling"
	"github.com/banshee-data/cropseq/internal/vectorize"
)

// ErrNoStack is returned when a pipeline has nothing to process.
var ErrNoStack = errors.New("pipeline: no input stack")

// Parcel is one output record.
type Parcel struct {
	ID            parcel.ID   `json:"id"`
	Signature     uint64      `json:"signature"`
	Categories    []uint16    `json:"categories"`
	Area          float64     `json:"area"`
	FootprintArea float64     `json:"footprint_area"`
	YearsCropland int         `json:"years_cropland"`
	YearsBarren   int         `json:"years_barren"`
	Geometry      orb.Polygon `json:"-"`
}

// Result is the output of a run.
type Result struct {
	RunID    string
	Spec     raster.GridSpec
	Years    []int
	Parcels  []Parcel
	Tiles    []tiling.Tile
	Manifest tiling.Manifest
	Seams    []tiling.SeamRecord
	Gaps     []raster.Window
	Stitched int
	// Eliminated counts seam polygons merged into neighbours after
	// stitching.
	Eliminated int
	// Filtered counts parcels dropped by the crop-presence rule at the
	// "after" stage. Regions dropped inside tiles are not counted.
	Filtered int
	Started  time.Time
	Finished time.Time
}

// Pipeline processes one stack under one configuration.
type Pipeline struct {
	Config *config.EngineConfig
	Stack  *raster.Stack
	// Cache, when set, lets runs reuse finished tiles.
	Cache tiling.Cache
	// Workers overrides the pool size derived from cpu_fraction.
	Workers int
	// Progress receives manifest snapshots every ProgressInterval while
	// tiles run.
	Progress         func(tiling.Manifest)
	ProgressInterval time.Duration

	encoder    *signature.Encoder
	policy     eliminate.MergePolicy
	constraint eliminate.Constraint
	retention  Retention
}

// New validates the configuration against the stack.
func New(cfg *config.EngineConfig, stack *raster.Stack) (*Pipeline, error) {
	if stack == nil {
		return nil, ErrNoStack
	}
	if cfg == nil {
		cfg = config.EmptyEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	maxCat := stack.MaxCategory
	if maxCat == 0 {
		maxCat = cfg.GetMaxCategory()
	}
	enc, err := signature.NewEncoder(len(stack.Grids), maxCat)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	policy, err := eliminate.ParsePolicy(cfg.GetMergePolicy())
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var constraint eliminate.Constraint
	if year, ok := cfg.GetPreserveYearIndex(); ok {
		if year >= len(stack.Grids) {
			return nil, fmt.Errorf("pipeline: preserve_year_index %d outside %d-year stack", year, len(stack.Grids))
		}
		constraint = eliminate.SameCategoryIn(year)
	}
	return &Pipeline{
		Config:     cfg,
		Stack:      stack,
		encoder:    enc,
		policy:     policy,
		constraint: constraint,
		retention: Retention{
			Rule:         signature.CountRule{Nodata: cfg.GetNodataCategory(), Barren: cfg.GetBarrenCategory()},
			MinCropYears: cfg.GetMinCropYears(),
			MinArea:      cfg.GetMinAreaSingleYear(),
		},
	}, nil
}

// Tiles partitions the stack window. A window that fits in one tile is
// processed whole without a margin.
func (p *Pipeline) Tiles() ([]tiling.Tile, error) {
	extent := p.Stack.Window()
	size, margin := p.Config.TileCells(p.Stack.Spec.CellSize)
	if extent.Rows <= size && extent.Cols <= size {
		return tiling.Partition(extent, max(extent.Rows, extent.Cols), 0)
	}
	return tiling.Partition(extent, size, margin)
}

func (p *Pipeline) simplifier(pinned map[parcel.ID]bool) *simplify.Simplifier {
	s := &simplify.Simplifier{Tolerance: p.Config.Tolerance()}
	if len(pinned) > 0 {
		s.Pinned = func(a, b parcel.ID) bool { return pinned[a] || pinned[b] }
	}
	return s
}

// ProcessTile builds the generalized polygon set of one tile window. It
// shares nothing mutable with other tiles.
func (p *Pipeline) ProcessTile(ctx context.Context, t tiling.Tile) (*parcel.Set, error) {
	sub, err := p.Stack.Crop(t.Window)
	if err != nil {
		return nil, fmt.Errorf("crop %v: %w", t.Window, err)
	}
	grid, lookup, err := p.encoder.Encode(sub)
	if err != nil {
		return nil, err
	}
	set, err := vectorize.Vectorize(grid, lookup, raster.NodataSignature)
	if err != nil {
		return nil, err
	}
	regions := set.Len()
	if st := lookup.Stats(p.retention.Rule); st.Signatures > 0 {
		monitoring.Tracef("[tile %d] %d signatures over %d cells, cropland years %v, barren years %v",
			t.Index, st.Signatures, st.Cells, st.CroplandYears, st.BarrenYears)
	}

	filtered := 0
	if p.Config.GetRetentionStage() == config.RetentionBefore {
		filtered = p.retention.filterRegions(set, p.Stack, t.Window)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := neighbor.Build(set)
	if err != nil {
		return nil, err
	}
	eng := &eliminate.Engine{
		Thresholds: p.Config.GetTierThresholds(),
		Policy:     p.policy,
		Encoder:    p.encoder,
		Lookup:     lookup,
		Constraint: p.constraint,
	}
	if _, err := eng.Run(ctx, set, g); err != nil {
		return nil, err
	}

	seams := make(map[parcel.ID]bool)
	for _, poly := range set.Polygons() {
		if t.IsSeamCandidate(poly) {
			seams[poly.ID] = true
		}
	}
	rep, err := p.simplifier(seams).Run(set, nil)
	if err != nil {
		return nil, err
	}

	monitoring.Diagf("[tile %d] %d regions, %d filtered, %d polygons after elimination, %d seam candidates, %d topology reductions",
		t.Index, regions, filtered, set.Len(), len(seams), len(rep.Deviations))
	return set, nil
}

// Run processes the whole stack. Only configuration errors abort it;
// failing tiles end up in Result.Gaps.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:   uuid.NewString(),
		Spec:    p.Stack.Spec,
		Years:   append([]int(nil), p.Stack.Years...),
		Started: time.Now(),
	}
	tiles, err := p.Tiles()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	res.Tiles = tiles

	workers := p.Workers
	if workers <= 0 {
		workers = tiling.WorkerCount(p.Config.GetCPUFraction())
	}
	orch := &tiling.Orchestrator{
		Workers:    workers,
		MaxRetries: p.Config.GetTileRetries(),
		Timeout:    p.Config.GetTileTimeout(),
		Cache:      p.Cache,
	}
	monitoring.Opsf("[pipeline] run %s: %d tiles over %v on %d workers, track %s",
		res.RunID, len(tiles), p.Stack.Window(), workers, p.Config.GetTrack())

	stop := p.watch(orch)
	run, err := orch.Run(ctx, tiles, p.ProcessTile)
	stop()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	res.Manifest = run.Manifest

	out, err := tiling.Reconcile(p.Stack.Spec, tiles, run.Results, tiling.ReconcileOptions{
		MinOverlapFraction: p.Config.GetMinOverlapFraction(),
		Simplifier:         p.simplifier(nil),
		Eliminate: &eliminate.Engine{
			Thresholds: p.Config.GetTierThresholds(),
			Policy:     p.policy,
			Encoder:    p.encoder,
			Constraint: p.constraint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	res.Seams, res.Gaps = out.Seams, out.Gaps
	res.Stitched, res.Eliminated = out.Stitched, out.Eliminated

	after := p.Config.GetRetentionStage() == config.RetentionAfter
	res.Parcels = make([]Parcel, 0, len(out.Polygons))
	for _, poly := range out.Polygons {
		if after && !p.retention.Keep(poly.Categories, poly.FootprintArea) {
			res.Filtered++
			continue
		}
		res.Parcels = append(res.Parcels, p.parcelOf(poly))
	}
	res.Finished = time.Now()

	monitoring.Opsf("[pipeline] run %s: %d parcels, %d stitched, %d seam merges, %d gaps, %d filtered in %v",
		res.RunID, len(res.Parcels), res.Stitched, res.Eliminated, len(res.Gaps), res.Filtered, res.Finished.Sub(res.Started).Round(time.Millisecond))
	return res, nil
}

func (p *Pipeline) parcelOf(poly *parcel.Polygon) Parcel {
	cropland, barren := p.retention.Rule.Counts(poly.Categories)
	return Parcel{
		ID:            poly.ID,
		Signature:     poly.Signature,
		Categories:    append([]uint16(nil), poly.Categories...),
		Area:          poly.Area,
		FootprintArea: poly.FootprintArea,
		YearsCropland: cropland,
		YearsBarren:   barren,
		Geometry:      poly.Geometry,
	}
}

// watch reports orchestrator progress until the returned func is called.
func (p *Pipeline) watch(orch *tiling.Orchestrator) func() {
	if p.Progress == nil {
		return func() {}
	}
	interval := p.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.Progress(orch.Manifest())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		p.Progress(orch.Manifest())
	}
}
