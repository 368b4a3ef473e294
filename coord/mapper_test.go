package coord_test

import (
	"testing"

	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newTestMapper(t *testing.T) *coord.Mapper {
	ref1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 500, nil, nil)
	assert.NoError(t, err)
	ref3, err := sam.NewReference("chrM", "", "", 16, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref1, ref2, ref3})
	assert.NoError(t, err)
	m, err := coord.FromHeader(header)
	assert.NoError(t, err)
	return m
}

func TestAbsolute(t *testing.T) {
	m := newTestMapper(t)
	expect.EQ(t, m.TotalSize(), int64(1516))
	expect.EQ(t, m.NumContigs(), 3)

	tests := []struct {
		contig string
		pos    int64
		want   int64
	}{
		{"chr1", 1, 1},
		{"chr1", 1000, 1000},
		{"chr2", 1, 1001},
		{"chr2", 500, 1500},
		{"chrM", 16, 1516},
	}
	for _, test := range tests {
		got, err := m.Absolute(test.contig, test.pos)
		assert.NoError(t, err)
		expect.EQ(t, got, test.want, "contig %s pos %d", test.contig, test.pos)

		name, rel, err := m.ContigFor(test.want)
		assert.NoError(t, err)
		expect.EQ(t, name, test.contig)
		expect.EQ(t, rel, test.pos)
	}
}

func TestUnknownContig(t *testing.T) {
	m := newTestMapper(t)
	_, err := m.Absolute("chr3", 1)
	uerr, ok := err.(*coord.UnknownContigError)
	expect.True(t, ok)
	expect.EQ(t, uerr.Name, "chr3")
}

func TestContigForOutOfRange(t *testing.T) {
	m := newTestMapper(t)
	_, _, err := m.ContigFor(0)
	expect.True(t, err != nil)
	_, _, err = m.ContigFor(1517)
	expect.True(t, err != nil)
	expect.EQ(t, m.ContigIDFor(1517), -1)
}

func TestZeroLengthContig(t *testing.T) {
	m, err := coord.New([]coord.Contig{
		{Name: "a", Length: 10},
		{Name: "empty", Length: 0},
		{Name: "b", Length: 10},
	})
	assert.NoError(t, err)
	name, rel, err := m.ContigFor(11)
	assert.NoError(t, err)
	expect.EQ(t, name, "b")
	expect.EQ(t, rel, int64(1))
	expect.EQ(t, m.Contig(2).Offset, int64(10))
}

func TestDuplicateContig(t *testing.T) {
	_, err := coord.New([]coord.Contig{{Name: "a", Length: 10}, {Name: "a", Length: 5}})
	expect.True(t, err != nil)
}
