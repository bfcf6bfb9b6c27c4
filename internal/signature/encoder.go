package signature

import (
	"fmt"
	"math/bits"

	"github.com/banshee-data/cropseq/internal/raster"
)

// EncodingOverflowError reports that B^N does not fit in 64 bits.
type EncodingOverflowError struct {
	Base  uint64
	Years int
}

func (e *EncodingOverflowError) Error() string {
	return fmt.Sprintf("signature: base %d over %d years overflows 64 bits", e.Base, e.Years)
}

// CategoryRangeError reports a cell whose category exceeds the declared maximum.
type CategoryRangeError struct {
	Year     int
	Cell     raster.Cell
	Category uint16
	Max      uint16
}

func (e *CategoryRangeError) Error() string {
	return fmt.Sprintf("signature: year %d cell (%d,%d) has category %d above max %d",
		e.Year, e.Cell.Row, e.Cell.Col, e.Category, e.Max)
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithBase overrides the default base of maxCategory+1. Bases that do not
// exceed maxCategory are rejected by NewEncoder.
func WithBase(base uint64) Option {
	return func(e *Encoder) { e.base = base }
}

// Encoder maps category sequences of a fixed length to signatures.
type Encoder struct {
	years       int
	maxCategory uint16
	base        uint64
	pow         []uint64
}

// NewEncoder returns an encoder for sequences of the given length.
func NewEncoder(years int, maxCategory uint16, opts ...Option) (*Encoder, error) {
	if years <= 0 {
		return nil, fmt.Errorf("signature: need at least one year, got %d", years)
	}
	e := &Encoder{years: years, maxCategory: maxCategory, base: uint64(maxCategory) + 1}
	for _, opt := range opts {
		opt(e)
	}
	if e.base <= uint64(maxCategory) {
		return nil, fmt.Errorf("signature: base %d must exceed max category %d", e.base, maxCategory)
	}

	e.pow = make([]uint64, years)
	p := uint64(1)
	for i := 0; i < years; i++ {
		e.pow[i] = p
		hi, lo := bits.Mul64(p, e.base)
		if hi != 0 {
			return nil, &EncodingOverflowError{Base: e.base, Years: years}
		}
		p = lo
	}
	return e, nil
}

// Years returns the sequence length.
func (e *Encoder) Years() int { return e.years }

// Base returns the radix used for encoding.
func (e *Encoder) Base() uint64 { return e.base }

// MaxCategory returns the largest category code accepted.
func (e *Encoder) MaxCategory() uint16 { return e.maxCategory }

// EncodeCategories returns the signature of one category sequence.
func (e *Encoder) EncodeCategories(cats []uint16) (uint64, error) {
	if len(cats) != e.years {
		return 0, fmt.Errorf("signature: expected %d categories, got %d", e.years, len(cats))
	}
	var sig uint64
	for i, c := range cats {
		if c > e.maxCategory {
			return 0, &CategoryRangeError{Year: i, Category: c, Max: e.maxCategory}
		}
		sig += uint64(c) * e.pow[i]
	}
	return sig, nil
}

// Decode recovers the category sequence of a signature.
func (e *Encoder) Decode(sig uint64) []uint16 {
	out := make([]uint16, e.years)
	for i := range out {
		out[i] = uint16(sig % e.base)
		sig /= e.base
	}
	return out
}

// Encode builds the signature grid and lookup for a stack. Cells that hold
// the stack's nodata category in every year become raster.NodataSignature;
// cells that are nodata in only some years encode the nodata code like any
// other category.
func (e *Encoder) Encode(stack *raster.Stack) (*raster.SignatureGrid, *Lookup, error) {
	if err := stack.Validate(); err != nil {
		return nil, nil, err
	}
	if len(stack.Grids) != e.years {
		return nil, nil, fmt.Errorf("signature: encoder built for %d years, stack has %d", e.years, len(stack.Grids))
	}

	w := stack.Window()
	out := &raster.SignatureGrid{
		Spec:   stack.Spec,
		Window: w,
		Nodata: raster.NodataSignature,
		Cells:  make([]uint64, w.Len()),
	}
	lookup := NewLookup(stack.Years)

	for i := range out.Cells {
		allNodata := true
		for _, g := range stack.Grids {
			if g.Cells[i] != stack.Nodata {
				allNodata = false
				break
			}
		}
		if allNodata {
			out.Cells[i] = raster.NodataSignature
			continue
		}

		var sig uint64
		for y, g := range stack.Grids {
			c := g.Cells[i]
			if c > e.maxCategory {
				return nil, nil, &CategoryRangeError{Year: g.Year, Cell: w.CellAt(i), Category: c, Max: e.maxCategory}
			}
			sig += uint64(c) * e.pow[y]
		}
		out.Cells[i] = sig
		if !lookup.Has(sig) {
			lookup.Add(sig, e.Decode(sig))
		}
		lookup.count(sig)
	}
	return out, lookup, nil
}
