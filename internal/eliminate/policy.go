package eliminate

import (
	"fmt"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/signature"
)

// MergePolicy decides the categories of a merged polygon.
type MergePolicy int

const (
	// PolicyAreaWeighted takes, per year, the category covering the most area.
	PolicyAreaWeighted MergePolicy = iota
	// PolicyMajority takes, per year, the category of the most source regions.
	PolicyMajority
	// PolicySurvivor keeps the categories of the polygon that absorbs the other.
	PolicySurvivor
)

func (p MergePolicy) String() string {
	switch p {
	case PolicyAreaWeighted:
		return "area_weighted"
	case PolicyMajority:
		return "majority"
	case PolicySurvivor:
		return "survivor"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParsePolicy accepts the names returned by String.
func ParsePolicy(s string) (MergePolicy, error) {
	switch s {
	case "area_weighted", "":
		return PolicyAreaWeighted, nil
	case "majority":
		return PolicyMajority, nil
	case "survivor":
		return PolicySurvivor, nil
	}
	return 0, fmt.Errorf("eliminate: unknown merge policy %q", s)
}

// categories computes the per-year categories of p after a merge. survivor
// holds p's categories before the merge and wins every tie.
func (pol MergePolicy) categories(enc *signature.Encoder, p *parcel.Polygon, survivor []uint16) []uint16 {
	if pol == PolicySurvivor {
		return survivor
	}

	decoded := make(map[uint64][]uint16, len(p.Composition))
	for sig := range p.Composition {
		decoded[sig] = enc.Decode(sig)
	}

	out := make([]uint16, len(survivor))
	for y := range out {
		score := make(map[uint16]float64)
		for sig, sh := range p.Composition {
			c := decoded[sig][y]
			if pol == PolicyMajority {
				score[c] += float64(sh.Regions)
			} else {
				score[c] += sh.Area
			}
		}
		best := survivor[y]
		bestScore := score[best]
		for c, s := range score {
			if s > bestScore || (s == bestScore && best != survivor[y] && c < best) {
				best, bestScore = c, s
			}
		}
		out[y] = best
	}
	return out
}

// Constraint restricts which neighbours a small polygon may merge into.
type Constraint func(small, candidate *parcel.Polygon) bool

// SameCategoryIn allows merges only between polygons that share the
// category of the given year offset.
func SameCategoryIn(year int) Constraint {
	return func(small, candidate *parcel.Polygon) bool {
		if year < 0 || year >= len(small.Categories) || year >= len(candidate.Categories) {
			return false
		}
		return small.Categories[year] == candidate.Categories[year]
	}
}
