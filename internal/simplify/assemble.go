package simplify

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/banshee-data/cropseq/internal/parcel"
)

// orientedArc is an arc as seen from one polygon: traversed with that
// polygon on its left.
type orientedArc struct {
	idx               int
	rev               bool
	start, end        parcel.Vertex
	firstDir, lastDir parcel.Direction
}

func orient(a *arc, idx int, id parcel.ID) orientedArc {
	first, last := a.verts[0], a.verts[len(a.verts)-1]
	if a.left == id {
		return orientedArc{idx: idx, start: first, end: last, firstDir: a.firstDir, lastDir: a.lastDir}
	}
	return orientedArc{idx: idx, rev: true, start: last, end: first,
		firstDir: opposite(a.lastDir), lastDir: opposite(a.firstDir)}
}

func (o orientedArc) points(ls orb.LineString) orb.LineString {
	if !o.rev {
		return ls
	}
	out := ls.Clone()
	slices.Reverse(out)
	return out
}

// assemble builds the polygon of every id in ids from the current simplified
// arcs. Rings that lose their orientation or collapse below three distinct
// vertices mark their arcs in violations.
func (pt *partition) assemble(ids []parcel.ID, violations map[int]string) (map[parcel.ID]orb.Polygon, error) {
	out := make(map[parcel.ID]orb.Polygon, len(ids))
	for _, id := range ids {
		arcIdx := pt.byPolygon[id]
		oa := make([]orientedArc, len(arcIdx))
		byStart := make(map[parcel.Vertex][]int, len(arcIdx))
		for k, i := range arcIdx {
			oa[k] = orient(pt.arcs[i], i, id)
			byStart[oa[k].start] = append(byStart[oa[k].start], k)
		}

		used := make([]bool, len(oa))
		var outer orb.Ring
		var holes []orb.Ring
		for k0 := range oa {
			if used[k0] {
				continue
			}
			var chain []int
			k := k0
			for {
				used[k] = true
				chain = append(chain, k)
				next := -1
				cands := byStart[oa[k].end]
				if len(cands) == 1 {
					next = cands[0]
				} else {
					for _, c := range cands {
						if oa[c].firstDir == oa[k].lastDir.Right() {
							next = c
						}
					}
				}
				if next == k0 {
					break
				}
				if next < 0 || used[next] {
					return nil, fmt.Errorf("simplify: ring of polygon %d broke at vertex (%d,%d)", id, oa[k].end.Row, oa[k].end.Col)
				}
				k = next
			}

			base := pt.ring(oa, chain, func(a *arc) orb.LineString { return a.base })
			simp := pt.ring(oa, chain, func(a *arc) orb.LineString { return a.simp })
			orientation := base.Orientation()
			if !validRing(simp, orientation) {
				for _, c := range chain {
					if a := pt.arcs[oa[c].idx]; a.tol > 0 {
						violations[oa[c].idx] = fmt.Sprintf("ring of polygon %d degenerates", id)
					}
				}
			}
			if orientation == orb.CCW {
				if outer != nil {
					return nil, fmt.Errorf("polygon %d: %w", id, parcel.ErrDisconnected)
				}
				outer = simp
				continue
			}
			holes = append(holes, simp)
		}
		if outer == nil {
			return nil, fmt.Errorf("simplify: polygon %d has no outer ring", id)
		}
		out[id] = append(orb.Polygon{outer}, holes...)
	}
	return out, nil
}

func (pt *partition) ring(oa []orientedArc, chain []int, line func(*arc) orb.LineString) orb.Ring {
	var r orb.Ring
	for n, c := range chain {
		pts := oa[c].points(line(pt.arcs[oa[c].idx]))
		if n > 0 {
			pts = pts[1:]
		}
		r = append(r, pts...)
	}
	return r
}

func validRing(r orb.Ring, want orb.Orientation) bool {
	if len(r) < 4 || !r.Closed() {
		return false
	}
	distinct := make(map[orb.Point]struct{}, len(r))
	for _, p := range r[:len(r)-1] {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return false
	}
	return r.Orientation() == want
}
