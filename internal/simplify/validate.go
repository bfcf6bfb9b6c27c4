package simplify

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/cropseq/internal/neighbor"
)

func ref(arcIdx, i int) int64       { return int64(arcIdx)<<32 | int64(i) }
func unref(r int64) (arcIdx, i int) { return int(r >> 32), int(r & 0xffffffff) }

// bucketSize picks a spatial index bucket from the mean simplified segment extent.
func (pt *partition) bucketSize() float64 {
	var total float64
	var n int
	for _, a := range pt.arcs {
		for i := 1; i < len(a.simp); i++ {
			b := orb.Bound{Min: a.simp[i-1], Max: a.simp[i-1]}.Extend(a.simp[i])
			total += max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
			n++
		}
	}
	if n == 0 || total == 0 {
		return 1
	}
	return 2 * total / float64(n)
}

// crossings flags arcs whose simplified segments cross, touch, or overlap
// segments of any arc other than at a shared endpoint.
func (pt *partition) crossings() map[int]string {
	viol := make(map[int]string)
	idx := neighbor.NewSpatialIndex(pt.bucketSize())
	for ai, a := range pt.arcs {
		for i := 1; i < len(a.simp); i++ {
			idx.Insert(ref(ai, i), orb.Bound{Min: a.simp[i-1], Max: a.simp[i-1]}.Extend(a.simp[i]))
		}
	}
	for ai, a := range pt.arcs {
		for i := 1; i < len(a.simp); i++ {
			p1, p2 := a.simp[i-1], a.simp[i]
			self := ref(ai, i)
			b, _ := idx.Bound(self)
			for _, other := range idx.Query(b) {
				if other <= self {
					continue
				}
				bi, j := unref(other)
				q1, q2 := pt.arcs[bi].simp[j-1], pt.arcs[bi].simp[j]
				if !segmentsConflict(p1, p2, q1, q2) {
					continue
				}
				for _, k := range []int{ai, bi} {
					if pt.arcs[k].tol > 0 {
						viol[k] = "simplified segments intersect"
					}
				}
			}
		}
	}
	return viol
}

// sweeps flags arcs whose simplification moved across a vertex of another arc.
func (pt *partition) sweeps() map[int]string {
	viol := make(map[int]string)
	idx := neighbor.NewSpatialIndex(pt.bucketSize())
	for ai, a := range pt.arcs {
		for i, p := range a.simp {
			idx.Insert(ref(ai, i), orb.Bound{Min: p, Max: p})
		}
	}
	for ai, a := range pt.arcs {
		if a.tol == 0 || len(a.simp) == len(a.base) {
			continue
		}
		region := make(orb.Ring, 0, len(a.base)+len(a.simp))
		region = append(region, a.base...)
		for i := len(a.simp) - 2; i >= 0; i-- {
			region = append(region, a.simp[i])
		}
		start, end := a.base[0], a.base[len(a.base)-1]
		for _, r := range idx.Query(a.base.Bound()) {
			bi, j := unref(r)
			if bi == ai {
				continue
			}
			p := pt.arcs[bi].simp[j]
			if p == start || p == end {
				continue
			}
			if planar.RingContains(region, p) {
				viol[ai] = "simplification sweeps across another boundary"
				break
			}
		}
	}
	return viol
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(p, q, r orb.Point) bool {
	return min(p[0], r[0]) <= q[0] && q[0] <= max(p[0], r[0]) &&
		min(p[1], r[1]) <= q[1] && q[1] <= max(p[1], r[1])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// segmentsIntersect reports whether closed segments p1p2 and q1q2 share any point.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := sign(cross(q1, q2, p1))
	d2 := sign(cross(q1, q2, p2))
	d3 := sign(cross(p1, p2, q1))
	d4 := sign(cross(p1, p2, q2))
	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	return d1 == 0 && onSegment(q1, p1, q2) ||
		d2 == 0 && onSegment(q1, p2, q2) ||
		d3 == 0 && onSegment(p1, q1, p2) ||
		d4 == 0 && onSegment(p1, q2, p2)
}

// segmentsConflict allows two segments to meet only at one shared endpoint
// without running along each other.
func segmentsConflict(p1, p2, q1, q2 orb.Point) bool {
	var s, pOther, qOther orb.Point
	switch {
	case p1 == q1 && p2 == q2, p1 == q2 && p2 == q1:
		return true
	case p1 == q1:
		s, pOther, qOther = p1, p2, q2
	case p1 == q2:
		s, pOther, qOther = p1, p2, q1
	case p2 == q1:
		s, pOther, qOther = p2, p1, q2
	case p2 == q2:
		s, pOther, qOther = p2, p1, q1
	default:
		return segmentsIntersect(p1, p2, q1, q2)
	}
	if cross(s, pOther, qOther) != 0 {
		return false
	}
	// Collinear from a shared endpoint: overlap unless they point apart.
	dot := (pOther[0]-s[0])*(qOther[0]-s[0]) + (pOther[1]-s[1])*(qOther[1]-s[1])
	return dot > 0
}
