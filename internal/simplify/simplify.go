package simplify

import (
	"fmt"
	"maps"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	orbsimplify "github.com/paulmach/orb/simplify"

	"github.com/banshee-data/cropseq/internal/monitoring"
	"github.com/banshee-data/cropseq/internal/parcel"
)

const (
	// DefaultTolerance is the standard-track Douglas-Peucker tolerance in map units.
	DefaultTolerance = 60.0
	// FineTolerance is the high-fidelity track tolerance.
	FineTolerance = 10.0
)

// TopologyError describes an arc whose simplification had to be reduced.
type TopologyError struct {
	Left, Right parcel.ID
	Tolerance   float64
	Reason      string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("simplify: arc %d|%d at tolerance %g: %s", e.Left, e.Right, e.Tolerance, e.Reason)
}

// Deviation records one tolerance reduction.
type Deviation struct {
	Err  *TopologyError
	From float64
	To   float64
}

// Report summarizes a Run.
type Report struct {
	Arcs       int
	Simplified int
	Rounds     int
	Deviations []Deviation
	// Fallbacks counts arcs that ended at collinear-only removal because of violations.
	Fallbacks int
}

// Simplifier generalizes the boundaries of a polygon set.
type Simplifier struct {
	Tolerance float64
	// MinTolerance is the smallest tolerance tried before falling back to
	// collinear removal. Zero means Tolerance/64.
	MinTolerance float64
	// Pinned forces collinear-only treatment of arcs between a and b.
	Pinned func(a, b parcel.ID) bool
}

func (s *Simplifier) minTolerance() float64 {
	if s.MinTolerance > 0 {
		return s.MinTolerance
	}
	return s.Tolerance / 64
}

// Run simplifies the set in place. When targets is non-nil only those
// polygons receive new geometry; arcs shared with any other polygon are
// pinned so the untouched neighbours still match exactly.
func (s *Simplifier) Run(set *parcel.Set, targets map[parcel.ID]bool) (Report, error) {
	var rep Report
	if s.Tolerance < 0 {
		return rep, fmt.Errorf("simplify: negative tolerance %v", s.Tolerance)
	}
	isTarget := func(id parcel.ID) bool {
		return id != parcel.None && (targets == nil || targets[id])
	}

	pt := buildPartition(set)
	rep.Arcs = len(pt.arcs)
	// Arcs bordering a polygon that keeps its geometry must not move.
	frozen := func(id parcel.ID) bool { return id != parcel.None && !isTarget(id) }
	for _, a := range pt.arcs {
		a.tol = s.Tolerance
		switch {
		case !isTarget(a.left) && !isTarget(a.right):
			a.tol = 0
		case frozen(a.left) || frozen(a.right):
			a.tol = 0
		case s.Pinned != nil && s.Pinned(a.left, a.right):
			a.tol = 0
		}
	}

	var ids []parcel.ID
	for _, id := range set.IDs() {
		if isTarget(id) {
			ids = append(ids, id)
		}
	}

	minTol := s.minTolerance()
	var rings map[parcel.ID]orb.Polygon
	for {
		rep.Rounds++
		for _, a := range pt.arcs {
			a.simp = simplifyArc(a.base, a.tol)
		}

		violations := pt.crossings()
		for i, reason := range pt.sweeps() {
			if _, ok := violations[i]; !ok {
				violations[i] = reason
			}
		}
		var err error
		rings, err = pt.assemble(ids, violations)
		if err != nil {
			return rep, err
		}
		if len(violations) == 0 {
			break
		}

		changed := false
		for _, i := range slices.Sorted(maps.Keys(violations)) {
			a, reason := pt.arcs[i], violations[i]
			if a.tol == 0 {
				continue
			}
			changed = true
			next := a.tol / 2
			if next < minTol {
				next = 0
				rep.Fallbacks++
			}
			te := &TopologyError{Left: a.left, Right: a.right, Tolerance: a.tol, Reason: reason}
			rep.Deviations = append(rep.Deviations, Deviation{Err: te, From: a.tol, To: next})
			monitoring.Diagf("[simplify] %v; retrying at %g", te, next)
			monitoring.TopologyReductionsTotal.Inc()
			a.tol = next
		}
		if !changed {
			return rep, &TopologyError{Reason: fmt.Sprintf("%d violations remain with every offending arc at tolerance 0", len(violations))}
		}
	}

	for _, a := range pt.arcs {
		if len(a.simp) < len(a.base) {
			rep.Simplified++
		}
	}
	for _, id := range ids {
		p := set.Get(id)
		p.Geometry = rings[id]
		p.Area = planar.Area(p.Geometry)
	}
	monitoring.Diagf("[simplify] %d polygons, %d arcs, %d simplified, %d reductions in %d rounds",
		len(ids), rep.Arcs, rep.Simplified, len(rep.Deviations), rep.Rounds)
	return rep, nil
}

// simplifyArc applies Douglas-Peucker; tolerance 0 keeps the collinear-free base.
func simplifyArc(base orb.LineString, tol float64) orb.LineString {
	if tol <= 0 || len(base) <= 2 {
		return base
	}
	out, ok := orbsimplify.DouglasPeucker(tol).Simplify(base.Clone()).(orb.LineString)
	if !ok || len(out) < 2 {
		return base
	}
	return out
}
