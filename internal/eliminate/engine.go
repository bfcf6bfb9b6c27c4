package eliminate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/neighbor"
	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/signature"
)

// DefaultThresholds are the standard tier areas in squared map units.
var DefaultThresholds = []float64{100, 1000, 10000}

// InvariantViolation reports an inconsistency between the polygon set and
// the neighbour graph. The unit of work that hit it cannot be trusted.
type InvariantViolation struct {
	Polygon  parcel.ID
	Neighbor parcel.ID
	Reason   string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("eliminate: invariant violated at polygon %d (neighbor %d): %s", e.Polygon, e.Neighbor, e.Reason)
}

// TierStats describes one threshold's passes.
type TierStats struct {
	Threshold float64
	Before    int
	After     int
	Merges    int
	Passes    int
	// Isolated counts polygons still below the threshold with no eligible neighbour.
	Isolated int
}

// Stats collects per-tier results of a Run.
type Stats struct {
	Tiers []TierStats
}

// Merges is the total merge count across tiers.
func (s Stats) Merges() int {
	var n int
	for _, t := range s.Tiers {
		n += t.Merges
	}
	return n
}

// Engine runs tiered elimination.
type Engine struct {
	Thresholds []float64
	Policy     MergePolicy
	// Encoder decodes composition signatures and re-encodes merged
	// categories. Required unless Policy is PolicySurvivor.
	Encoder *signature.Encoder
	// Lookup, when set, learns the signatures created by merges.
	Lookup     *signature.Lookup
	Constraint Constraint
	// Eligible, when set, limits the polygons that may be eliminated. Any
	// live polygon can still absorb one.
	Eligible func(p *parcel.Polygon) bool
}

// Validate checks thresholds and dependencies.
func (e *Engine) Validate() error {
	prev := 0.0
	for i, t := range e.Thresholds {
		if !(t > prev) {
			return fmt.Errorf("eliminate: threshold %d (%v) must be positive and above %v", i, t, prev)
		}
		prev = t
	}
	if e.Policy != PolicySurvivor && e.Encoder == nil {
		return fmt.Errorf("eliminate: policy %s needs an encoder", e.Policy)
	}
	return nil
}

// Run eliminates small polygons in place. The context is checked between
// passes; on cancellation the set is left consistent and Stats reflect the
// work done so far.
func (e *Engine) Run(ctx context.Context, set *parcel.Set, g *neighbor.Graph) (Stats, error) {
	var stats Stats
	if err := e.Validate(); err != nil {
		return stats, err
	}

	for _, threshold := range e.Thresholds {
		ts := TierStats{Threshold: threshold, Before: set.Len()}
		for {
			if err := ctx.Err(); err != nil {
				stats.Tiers = append(stats.Tiers, ts)
				return stats, err
			}
			ts.Passes++
			merged, isolated, err := e.pass(set, g, threshold)
			ts.Merges += merged
			if err != nil {
				stats.Tiers = append(stats.Tiers, ts)
				return stats, err
			}
			if merged == 0 {
				ts.Isolated = isolated
				break
			}
		}
		ts.After = set.Len()
		stats.Tiers = append(stats.Tiers, ts)

		monitoring.MergesTotal.WithLabelValues(strconv.FormatFloat(threshold, 'f', -1, 64)).Add(float64(ts.Merges))
		monitoring.Diagf("[eliminate] tier %v: %d -> %d polygons, %d merges in %d passes, %d isolated",
			threshold, ts.Before, ts.After, ts.Merges, ts.Passes, ts.Isolated)
	}
	return stats, nil
}

func (e *Engine) pass(set *parcel.Set, g *neighbor.Graph, threshold float64) (merged, isolated int, err error) {
	var small []*parcel.Polygon
	for _, p := range set.Polygons() {
		if p.FootprintArea < threshold && (e.Eligible == nil || e.Eligible(p)) {
			small = append(small, p)
		}
	}
	slices.SortFunc(small, func(a, b *parcel.Polygon) int {
		if c := cmp.Compare(a.FootprintArea, b.FootprintArea); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, p := range small {
		// Earlier merges in this pass may have grown p past the threshold.
		if set.Get(p.ID) == nil || p.FootprintArea >= threshold {
			continue
		}
		target, err := e.chooseTarget(set, g, p)
		if err != nil {
			return merged, isolated, err
		}
		if target == nil {
			isolated++
			continue
		}
		if err := e.merge(set, g, target, p); err != nil {
			return merged, isolated, err
		}
		merged++
	}
	return merged, isolated, nil
}

// chooseTarget returns the live neighbour with the longest shared boundary,
// preferring larger area then lower id. It returns nil for isolated polygons.
func (e *Engine) chooseTarget(set *parcel.Set, g *neighbor.Graph, p *parcel.Polygon) (*parcel.Polygon, error) {
	if !g.HasNode(p.ID) {
		return nil, &InvariantViolation{Polygon: p.ID, Reason: "live polygon missing from graph"}
	}
	var best *parcel.Polygon
	var bestW float64
	for _, n := range g.Neighbors(p.ID) {
		q := set.Get(n)
		if q == nil {
			return nil, &InvariantViolation{Polygon: p.ID, Neighbor: n, Reason: "graph edge to retired polygon"}
		}
		if e.Constraint != nil && !e.Constraint(p, q) {
			continue
		}
		w := g.Weight(p.ID, n)
		switch {
		case best == nil, w > bestW:
		case w == bestW && q.FootprintArea > best.FootprintArea:
		case w == bestW && q.FootprintArea == best.FootprintArea && q.ID < best.ID:
		default:
			continue
		}
		best, bestW = q, w
	}
	return best, nil
}

func (e *Engine) merge(set *parcel.Set, g *neighbor.Graph, target, source *parcel.Polygon) error {
	survivor := target.Categories
	if err := set.Absorb(target.ID, source.ID); err != nil {
		return &InvariantViolation{Polygon: source.ID, Neighbor: target.ID, Reason: err.Error()}
	}
	g.Contract(target.ID, source.ID)

	if e.Policy != PolicySurvivor {
		cats := e.Policy.categories(e.Encoder, target, survivor)
		sig, err := e.Encoder.EncodeCategories(cats)
		if err != nil {
			return err
		}
		target.Categories, target.Signature = cats, sig
	}
	if e.Lookup != nil && !e.Lookup.Has(target.Signature) {
		e.Lookup.Add(target.Signature, target.Categories)
	}
	monitoring.Tracef("[eliminate] merged %d (%.0f) into %d (%.0f)", source.ID, source.FootprintArea, target.ID, target.FootprintArea)
	return nil
}
