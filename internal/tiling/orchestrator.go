package tiling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cropseq/internal/eliminate"
	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/signature"
	"github.com/banshee-data/cropseq/internal/simplify"
	"github.com/banshee-data/cropseq/internal/vectorize"
)

// DefaultCPUFraction is the share of logical CPUs given to tile workers.
const DefaultCPUFraction = 0.75

// ReasonCancelled marks tiles that were never dispatched because the run
// was cancelled.
const ReasonCancelled = "cancelled"

// ErrTileTimeout is reported when a tile exceeds its wall-clock budget.
var ErrTileTimeout = errors.New("tiling: tile timed out")

// Outcome is the state of one tile attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeGap
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeGap:
		return "gap"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*o = OutcomeSuccess
	case "retryable":
		*o = OutcomeRetryable
	case "gap":
		*o = OutcomeGap
	default:
		return fmt.Errorf("tiling: unknown outcome %q", b)
	}
	return nil
}

// TileResult is the result of one tile attempt. Set is populated for
// OutcomeSuccess and Reason for OutcomeGap. Err holds the failure of a
// retryable attempt or of a deterministic gap.
type TileResult struct {
	Tile    Tile
	Outcome Outcome
	Set     *parcel.Set
	Err     error
	Attempt int
	Reason  string
	Elapsed time.Duration
	Cached  bool
}

// ProcessFunc builds the polygon set of one tile. It should return promptly
// once ctx is done.
type ProcessFunc func(ctx context.Context, t Tile) (*parcel.Set, error)

// Cache stores finished tile sets between runs.
type Cache interface {
	Load(ctx context.Context, t Tile) (*parcel.Set, bool, error)
	Store(ctx context.Context, t Tile, set *parcel.Set) error
}

// WorkerCount returns floor(NumCPU*fraction) capped at NumCPU-1, and at
// least 1.
func WorkerCount(fraction float64) int {
	return workerCount(runtime.NumCPU(), fraction)
}

func workerCount(cpus int, fraction float64) int {
	n := int(math.Floor(float64(cpus) * fraction))
	n = min(n, cpus-1)
	return max(n, 1)
}

// Orchestrator runs tiles on a fixed pool of workers.
type Orchestrator struct {
	// Workers is the pool size; zero means WorkerCount(DefaultCPUFraction).
	Workers int
	// MaxRetries is the number of extra attempts a failing tile gets.
	MaxRetries int
	// Timeout bounds a single attempt; zero disables the bound.
	Timeout time.Duration
	Cache   Cache

	mu       sync.Mutex
	manifest Manifest
}

// Run is the collected outcome of Orchestrator.Run.
type Run struct {
	// Results holds the final result of every tile, in tile order.
	Results  []TileResult
	Manifest Manifest
}

type job struct {
	tile    Tile
	attempt int
}

// Manifest returns a snapshot of run progress. It is safe to call while Run
// is in progress.
func (o *Orchestrator) Manifest() Manifest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.manifest.clone()
}

// Run processes every tile. Failed attempts are retried up to MaxRetries
// times and then recorded as gaps. Cancelling ctx stops dispatch; attempts
// already running finish under their own timeout and the remaining tiles
// become gaps with ReasonCancelled.
func (o *Orchestrator) Run(ctx context.Context, tiles []Tile, fn ProcessFunc) (*Run, error) {
	if fn == nil {
		return nil, errors.New("tiling: nil process function")
	}
	if o.MaxRetries < 0 {
		return nil, fmt.Errorf("tiling: negative retry limit %d", o.MaxRetries)
	}
	workers := o.Workers
	if workers <= 0 {
		workers = WorkerCount(DefaultCPUFraction)
	}
	workers = min(workers, len(tiles))

	o.mu.Lock()
	o.manifest = newManifest(tiles)
	o.mu.Unlock()

	run := &Run{Results: make([]TileResult, len(tiles))}
	if len(tiles) == 0 {
		run.Manifest = o.Manifest()
		return run, nil
	}

	// Each tile has at most one job queued or running, so the queue never
	// blocks on a retry.
	c := &collector{
		run:       run,
		queue:     make(chan job, len(tiles)),
		done:      make(chan struct{}),
		remaining: len(tiles),
		pos:       make(map[int]int, len(tiles)),
	}
	for i, t := range tiles {
		if _, dup := c.pos[t.Index]; dup {
			return nil, fmt.Errorf("tiling: duplicate tile index %d", t.Index)
		}
		c.pos[t.Index] = i
		c.queue <- job{tile: t, attempt: 1}
	}

	monitoring.Opsf("[tiling] %d tiles on %d workers, %d retries, timeout %v", len(tiles), workers, o.MaxRetries, o.Timeout)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for {
				select {
				case <-c.done:
					return nil
				case j := <-c.queue:
					o.collect(c, o.attempt(ctx, j, fn))
				}
			}
		})
	}
	_ = g.Wait()

	run.Manifest = o.Manifest()
	m := run.Manifest
	monitoring.Opsf("[tiling] finished: %d succeeded, %d retried, %d gaps", m.Succeeded, m.Retried, m.Gaps)
	return run, nil
}

// collector is the state shared by workers; it is guarded by Orchestrator.mu.
type collector struct {
	run       *Run
	queue     chan job
	done      chan struct{}
	remaining int
	// pos maps Tile.Index to its position in the tiles passed to Run.
	pos map[int]int
}

// collect records res and either requeues the tile or stores its final result.
func (o *Orchestrator) collect(c *collector, res TileResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := res.Tile
	i := c.pos[t.Index]
	rec := &o.manifest.Tiles[i]
	rec.Attempts = max(rec.Attempts, res.Attempt)
	rec.Elapsed += res.Elapsed

	if res.Outcome == OutcomeRetryable {
		if res.Attempt <= o.MaxRetries {
			if res.Attempt == 1 {
				o.manifest.Retried++
			}
			monitoring.Opsf("[tile %d] attempt %d failed, retrying: %v", t.Index, res.Attempt, res.Err)
			c.queue <- job{tile: t, attempt: res.Attempt + 1}
			return
		}
		res.Outcome = OutcomeGap
		res.Reason = res.Err.Error()
	}

	rec.Outcome = res.Outcome
	rec.Reason = res.Reason
	rec.Cached = res.Cached
	o.manifest.Pending--
	switch res.Outcome {
	case OutcomeSuccess:
		rec.Polygons = res.Set.Len()
		o.manifest.Succeeded++
		monitoring.Diagf("[tile %d] %d polygons in %v (attempt %d, cached %v)", t.Index, rec.Polygons, res.Elapsed, res.Attempt, res.Cached)
	case OutcomeGap:
		o.manifest.Gaps++
		monitoring.Opsf("[tile %d] gap after %d attempts: %s", t.Index, rec.Attempts, res.Reason)
	}
	monitoring.TilesTotal.WithLabelValues(res.Outcome.String()).Inc()
	c.run.Results[i] = res

	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
}

func (o *Orchestrator) attempt(ctx context.Context, j job, fn ProcessFunc) TileResult {
	t := j.tile
	if ctx.Err() != nil {
		return TileResult{Tile: t, Outcome: OutcomeGap, Attempt: j.attempt - 1, Reason: ReasonCancelled}
	}
	if o.Cache != nil && j.attempt == 1 {
		set, ok, err := o.Cache.Load(ctx, t)
		switch {
		case err != nil:
			monitoring.Opsf("[tile %d] cache load failed: %v", t.Index, err)
		case ok:
			return TileResult{Tile: t, Outcome: OutcomeSuccess, Set: set, Attempt: j.attempt, Cached: true}
		}
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if o.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	defer cancel()

	start := time.Now()
	set, err := call(jobCtx, t, fn)
	elapsed := time.Since(start)
	monitoring.TileDurationSeconds.Observe(elapsed.Seconds())
	if err == nil && set == nil {
		err = errors.New("tiling: process function returned no set")
	}
	if err != nil {
		if Deterministic(err) {
			return TileResult{Tile: t, Outcome: OutcomeGap, Err: err, Reason: err.Error(), Attempt: j.attempt, Elapsed: elapsed}
		}
		monitoring.TilesTotal.WithLabelValues(OutcomeRetryable.String()).Inc()
		return TileResult{Tile: t, Outcome: OutcomeRetryable, Err: err, Attempt: j.attempt, Elapsed: elapsed}
	}

	if o.Cache != nil {
		if err := o.Cache.Store(ctx, t, set); err != nil {
			monitoring.Opsf("[tile %d] cache store failed: %v", t.Index, err)
		}
	}
	return TileResult{Tile: t, Outcome: OutcomeSuccess, Set: set, Attempt: j.attempt, Elapsed: elapsed}
}

// Deterministic reports whether err comes from a failure that repeats on
// every attempt over the same input. Such tiles become gaps at once.
func Deterministic(err error) bool {
	var (
		invariant *eliminate.InvariantViolation
		rasterize *vectorize.RasterizationError
		category  *signature.CategoryRangeError
		overflow  *signature.EncodingOverflowError
		topology  *simplify.TopologyError
	)
	return errors.As(err, &invariant) ||
		errors.As(err, &rasterize) ||
		errors.As(err, &category) ||
		errors.As(err, &overflow) ||
		errors.As(err, &topology)
}

// call runs fn and gives up when ctx expires. A panicking tile is reported
// as an error.
func call(ctx context.Context, t Tile, fn ProcessFunc) (*parcel.Set, error) {
	type result struct {
		set *parcel.Set
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("tiling: %v panicked: %v", t, r)}
			}
		}()
		set, err := fn(ctx, t)
		ch <- result{set: set, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%v: %w", t, ErrTileTimeout)
		}
		return r.set, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%v: %w", t, ErrTileTimeout)
		}
		return nil, ctx.Err()
	}
}
