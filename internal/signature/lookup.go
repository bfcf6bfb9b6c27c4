package signature

import (
	"slices"
)

// DefaultBarrenCategory is the land-cover code counted as barren.
const DefaultBarrenCategory uint16 = 45

// Entry is one signature's category tuple and the number of cells that carried it.
type Entry struct {
	Categories []uint16
	Cells      int
}

// Lookup maps signatures to their per-year category tuples.
// A Lookup is not safe for concurrent mutation.
type Lookup struct {
	Years   []int
	entries map[uint64]*Entry
}

// NewLookup returns an empty lookup for the given year order.
func NewLookup(years []int) *Lookup {
	return &Lookup{Years: append([]int(nil), years...), entries: make(map[uint64]*Entry)}
}

// Add records the tuple for sig. Existing entries keep their cell count.
func (l *Lookup) Add(sig uint64, cats []uint16) {
	if e, ok := l.entries[sig]; ok {
		e.Categories = append(e.Categories[:0], cats...)
		return
	}
	l.entries[sig] = &Entry{Categories: append([]uint16(nil), cats...)}
}

func (l *Lookup) count(sig uint64) {
	l.entries[sig].Cells++
}

// Has reports whether sig is known.
func (l *Lookup) Has(sig uint64) bool {
	_, ok := l.entries[sig]
	return ok
}

// Categories returns a copy of the tuple for sig.
func (l *Lookup) Categories(sig uint64) ([]uint16, bool) {
	e, ok := l.entries[sig]
	if !ok {
		return nil, false
	}
	return append([]uint16(nil), e.Categories...), true
}

// Len returns the number of distinct signatures.
func (l *Lookup) Len() int { return len(l.entries) }

// Signatures returns all known signatures in ascending order.
func (l *Lookup) Signatures() []uint64 {
	out := make([]uint64, 0, len(l.entries))
	for s := range l.entries {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// CountRule classifies years of a category sequence.
//
// YearsCropland counts years whose category is above Nodata (the original
// data uses 0 for background). YearsBarren counts years equal to Barren.
type CountRule struct {
	Nodata uint16
	Barren uint16
}

// DefaultCountRule uses 0 as background and 45 as barren.
func DefaultCountRule() CountRule {
	return CountRule{Nodata: 0, Barren: DefaultBarrenCategory}
}

// Counts returns the cropland and barren year counts for a tuple.
func (r CountRule) Counts(cats []uint16) (cropland, barren int) {
	for _, c := range cats {
		if c > r.Nodata {
			cropland++
		}
		if c == r.Barren {
			barren++
		}
	}
	return cropland, barren
}

// NetCropYears is cropland minus barren years, the quantity retention rules test.
func (r CountRule) NetCropYears(cats []uint16) int {
	c, b := r.Counts(cats)
	return c - b
}

// Stats summarizes a lookup.
type Stats struct {
	Signatures int
	Cells      int
	// CroplandYears[k] is the number of signatures with k cropland years.
	CroplandYears []int
	// BarrenYears[k] is the number of signatures with k barren years.
	BarrenYears []int
}

// Stats computes signature and year-count distributions under rule.
func (l *Lookup) Stats(rule CountRule) Stats {
	n := len(l.Years)
	for _, e := range l.entries {
		n = max(n, len(e.Categories))
	}
	s := Stats{
		Signatures:    len(l.entries),
		CroplandYears: make([]int, n+1),
		BarrenYears:   make([]int, n+1),
	}
	for _, e := range l.entries {
		c, b := rule.Counts(e.Categories)
		s.CroplandYears[c]++
		s.BarrenYears[b]++
		s.Cells += e.Cells
	}
	return s
}
