package interval

import (
	"reflect"
	"testing"

	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newTestMapper(t *testing.T) *coord.Mapper {
	m, err := coord.New([]coord.Contig{
		{Name: "chr1", Length: 1000},
		{Name: "chr2", Length: 300},
	})
	assert.NoError(t, err)
	return m
}

func TestIndexUnion(t *testing.T) {
	m := newTestMapper(t)
	// Deliberately unsorted, with overlapping and touching regions.
	idx, err := NewIndex([]Region{
		{Contig: "chr1", Start: 20, End: 25},
		{Contig: "chr1", Start: 6, End: 15},
		{Contig: "chr1", Start: 8, End: 17},
		{Contig: "chr1", Start: 26, End: 30},
		{Contig: "chr2", Start: 250, End: 400},
	}, m)
	assert.NoError(t, err)
	expect.EQ(t, idx.contigs[0].endpoints, []PosType{5, 17, 19, 30})
	expect.EQ(t, idx.contigs[1].endpoints, []PosType{249, 300})
	expect.EQ(t, idx.CoveredSize(), int64(12+11+51))
	expect.EQ(t, idx.NumRegions(), 5)
	expect.EQ(t, idx.NumSkipped(), 0)
}

func TestIndexOverlaps(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{{Contig: "chr1", Start: 100, End: 200}}, m)
	assert.NoError(t, err)
	tests := []struct {
		start, end int64
		want       bool
	}{
		{1, 99, false},
		{1, 100, true},
		{150, 160, true},
		{200, 300, true},
		{201, 300, false},
		{50, 250, true},
	}
	for _, test := range tests {
		expect.EQ(t, idx.Overlaps(test.start, test.end, "chr1"), test.want, "[%d,%d]", test.start, test.end)
	}
	expect.False(t, idx.Overlaps(100, 200, "chr2"))
	expect.False(t, idx.Overlaps(100, 200, "chrX"))
}

func TestIndexOverlapsStranded(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{
		{Contig: "chr1", Start: 100, End: 200, Strand: StrandForward},
		{Contig: "chr1", Start: 300, End: 400, Strand: StrandReverse},
		{Contig: "chr1", Start: 500, End: 600},
	}, m)
	assert.NoError(t, err)
	expect.EQ(t, idx.OverlapsStranded(150, 160, "chr1", true), OverlapResult{true, true})
	expect.EQ(t, idx.OverlapsStranded(150, 160, "chr1", false), OverlapResult{true, false})
	expect.EQ(t, idx.OverlapsStranded(350, 360, "chr1", false), OverlapResult{true, true})
	expect.EQ(t, idx.OverlapsStranded(350, 360, "chr1", true), OverlapResult{true, false})
	expect.EQ(t, idx.OverlapsStranded(550, 560, "chr1", true), OverlapResult{true, true})
	expect.EQ(t, idx.OverlapsStranded(190, 310, "chr1", true), OverlapResult{true, true})
	expect.EQ(t, idx.OverlapsStranded(210, 290, "chr1", true), OverlapResult{false, false})
	expect.EQ(t, idx.OverlapsStranded(10, 20, "chr2", true), OverlapResult{false, false})
}

func TestIndexPieces(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{
		{Contig: "chr1", Start: 6, End: 17},
		{Contig: "chr1", Start: 21, End: 25},
	}, m)
	assert.NoError(t, err)
	expect.EQ(t, idx.Pieces(nil, 0, 10, 22, false), []PosType{10, 17, 20, 22})
	expect.EQ(t, idx.Pieces(nil, 0, 10, 22, true), []PosType{17, 20})
	expect.EQ(t, idx.Pieces(nil, 0, 0, 5, false), []PosType(nil))
	expect.EQ(t, idx.Pieces(nil, 0, 0, 5, true), []PosType{0, 5})
	expect.EQ(t, idx.Pieces(nil, 0, 17, 20, false), []PosType(nil))
	// No regions at all on chr2.
	expect.EQ(t, idx.Pieces(nil, 1, 0, 300, true), []PosType{0, 300})
	expect.EQ(t, idx.Pieces(nil, 1, 0, 300, false), []PosType(nil))
}

func TestIndexPiecesFrom(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{
		{Contig: "chr1", Start: 6, End: 17},
		{Contig: "chr1", Start: 21, End: 25},
		{Contig: "chr1", Start: 101, End: 120},
		{Contig: "chr1", Start: 401, End: 402},
	}, m)
	assert.NoError(t, err)
	for _, complement := range []bool{false, true} {
		var cursor EndpointIndex
		for start := PosType(0); start < 1000; start += 7 {
			limit := start + 13
			expect.EQ(t, idx.PiecesFrom(nil, &cursor, 0, start, limit, complement), idx.Pieces(nil, 0, start, limit, complement),
				"start %d complement %v", start, complement)
			expect.EQ(t, cursor, NewEndpointIndex(start, idx.contigs[0].endpoints))
		}
	}
}

func TestExpsearchPosType(t *testing.T) {
	a := []PosType{5, 17, 19, 30, 30, 41, 100}
	for idx := 0; idx <= len(a); idx++ {
		for x := PosType(0); x < 110; x++ {
			want := SearchPosTypes(a, x)
			if want < EndpointIndex(idx) {
				continue
			}
			expect.EQ(t, ExpsearchPosType(a, x, EndpointIndex(idx)), want, "x %d idx %d", x, idx)
		}
	}
}

func TestIndexMark(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{{Contig: "chr1", Start: 100, End: 200}}, m)
	assert.NoError(t, err)
	bits := make([]uintptr, (1000+bitset.BitsPerWord-1)/bitset.BitsPerWord)
	expect.EQ(t, idx.Mark(bits, 0, 0, 1000, false), int64(101))
	expect.True(t, bitset.Test(bits, 99))
	expect.True(t, bitset.Test(bits, 199))
	expect.False(t, bitset.Test(bits, 98))
	expect.False(t, bitset.Test(bits, 200))

	outside := make([]uintptr, len(bits))
	expect.EQ(t, idx.Mark(outside, 0, 0, 1000, true), int64(899))
	for i := 0; i < 1000; i++ {
		if bitset.Test(bits, i) == bitset.Test(outside, i) {
			t.Fatalf("bit %d set in both or neither mask", i)
		}
	}
}

func TestIndexUnknownContigs(t *testing.T) {
	m := newTestMapper(t)
	idx, err := NewIndex([]Region{
		{Contig: "chr1", Start: 1, End: 10},
		{Contig: "1", Start: 1, End: 10},
		{Contig: "chr22", Start: 1, End: 10},
	}, m)
	assert.NoError(t, err)
	expect.EQ(t, idx.NumSkipped(), 2)
	want := []UnknownContig{
		{Name: "1", NumRegions: 1, Suggestion: "chr1"},
		{Name: "chr22", NumRegions: 1, Suggestion: "chr2"},
	}
	if got := idx.UnknownContigs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Wanted: %v  Got: %v", want, got)
	}

	_, err = NewIndex([]Region{{Contig: "chrX", Start: 1, End: 10}}, m)
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestIndexClampsToContig(t *testing.T) {
	m := newTestMapper(t)
	region, err := ParseRegionString("chr2")
	assert.NoError(t, err)
	idx, err := NewIndex([]Region{region}, m)
	assert.NoError(t, err)
	expect.EQ(t, idx.ContigCoveredSize(1), int64(300))
}
