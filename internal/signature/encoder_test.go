package signature

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cropseq/internal/raster"
)

func stackFrom(rows, cols int, nodata, maxCat uint16, years ...[]uint16) *raster.Stack {
	spec := raster.GridSpec{Rows: rows, Cols: cols, CellSize: 30}
	s := &raster.Stack{Spec: spec, Nodata: nodata, MaxCategory: maxCat}
	for i, cells := range years {
		s.Years = append(s.Years, 2010+i)
		s.Grids = append(s.Grids, &raster.CategoryGrid{Year: 2010 + i, Window: spec.Extent(), Cells: cells})
	}
	return s
}

func TestNewEncoderBase(t *testing.T) {
	e, err := NewEncoder(3, 255)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), e.Base())

	_, err = NewEncoder(3, 10, WithBase(10))
	assert.Error(t, err, "base equal to max category must be rejected")

	e, err = NewEncoder(3, 10, WithBase(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), e.Base())
}

func TestNewEncoderOverflow(t *testing.T) {
	// 256^8 = 2^64 does not fit; 256^7 does.
	_, err := NewEncoder(8, 255)
	var oe *EncodingOverflowError
	require.True(t, errors.As(err, &oe), "expected EncodingOverflowError, got %v", err)
	assert.Equal(t, 8, oe.Years)

	_, err = NewEncoder(7, 255)
	assert.NoError(t, err)

	// B = 3 for two categories leaves room for 40 years.
	_, err = NewEncoder(40, 2)
	assert.NoError(t, err)
	_, err = NewEncoder(41, 2)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e, err := NewEncoder(6, 254)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	seen := map[uint64][]uint16{}
	for i := 0; i < 2000; i++ {
		cats := make([]uint16, 6)
		for j := range cats {
			cats[j] = uint16(rng.Intn(255))
		}
		sig, err := e.EncodeCategories(cats)
		require.NoError(t, err)
		if diff := cmp.Diff(cats, e.Decode(sig)); diff != "" {
			t.Fatalf("decode mismatch (-want +got):\n%s", diff)
		}
		if prev, ok := seen[sig]; ok && !cmp.Equal(prev, cats) {
			t.Fatalf("signature %d shared by %v and %v", sig, prev, cats)
		}
		seen[sig] = cats
		assert.NotEqual(t, raster.NodataSignature, sig)
	}
}

func TestEncodeStack(t *testing.T) {
	// Two years, categories {1,2}, B = 3: correlated years give two signatures.
	y1 := []uint16{1, 1, 2, 2}
	y2 := []uint16{2, 2, 1, 1}
	s := stackFrom(2, 2, 0, 2, y1, y2)

	e, err := NewEncoder(2, 2)
	require.NoError(t, err)
	grid, lookup, err := e.Encode(s)
	require.NoError(t, err)

	assert.Equal(t, []uint64{1 + 2*3, 1 + 2*3, 2 + 1*3, 2 + 1*3}, grid.Cells)
	assert.Equal(t, 2, lookup.Len())

	cats, ok := lookup.Categories(7)
	require.True(t, ok)
	assert.Equal(t, []uint16{1, 2}, cats)
	assert.Equal(t, []uint64{5, 7}, lookup.Signatures())
}

func TestEncodeNodata(t *testing.T) {
	y1 := []uint16{0, 0, 3}
	y2 := []uint16{0, 4, 3}
	s := stackFrom(1, 3, 0, 5, y1, y2)

	e, err := NewEncoder(2, 5)
	require.NoError(t, err)
	grid, lookup, err := e.Encode(s)
	require.NoError(t, err)

	assert.Equal(t, raster.NodataSignature, grid.Cells[0], "all-nodata cell")
	assert.Equal(t, uint64(0+4*6), grid.Cells[1], "partial nodata encodes the nodata code")
	assert.Equal(t, 2, lookup.Len())
	assert.False(t, lookup.Has(raster.NodataSignature))
}

func TestEncodeCategoryOutOfRange(t *testing.T) {
	s := stackFrom(1, 2, 0, 3, []uint16{1, 9})
	e, err := NewEncoder(1, 3)
	require.NoError(t, err)

	_, _, err = e.Encode(s)
	var re *CategoryRangeError
	require.True(t, errors.As(err, &re), "expected CategoryRangeError, got %v", err)
	assert.Equal(t, uint16(9), re.Category)
	assert.Equal(t, raster.Cell{Row: 0, Col: 1}, re.Cell)
}

func TestEncodeYearMismatch(t *testing.T) {
	s := stackFrom(1, 1, 0, 3, []uint16{1})
	e, err := NewEncoder(2, 3)
	require.NoError(t, err)
	_, _, err = e.Encode(s)
	assert.Error(t, err)
}

func TestLookupStats(t *testing.T) {
	rule := DefaultCountRule()
	l := NewLookup([]int{2020, 2021, 2022})
	l.Add(1, []uint16{1, 45, 0})
	l.Add(2, []uint16{5, 5, 5})
	l.Add(3, []uint16{45, 45, 0})

	st := l.Stats(rule)
	assert.Equal(t, 3, st.Signatures)
	assert.Equal(t, []int{0, 0, 2, 1}, st.CroplandYears)
	assert.Equal(t, []int{1, 1, 1, 0}, st.BarrenYears)

	assert.Equal(t, 1, rule.NetCropYears([]uint16{1, 45, 0}))
	assert.Equal(t, 0, rule.NetCropYears([]uint16{45, 45, 0}))
}
