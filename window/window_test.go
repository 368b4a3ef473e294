package window

import (
	"math"
	"testing"

	"github.com/grailbio/base/bitset"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestBaseIndex(t *testing.T) {
	expect.EQ(t, BaseIndex('A'), BaseA)
	expect.EQ(t, BaseIndex('c'), BaseC)
	expect.EQ(t, BaseIndex('G'), BaseG)
	expect.EQ(t, BaseIndex('t'), BaseT)
	expect.EQ(t, BaseIndex('N'), BaseN)
	expect.EQ(t, BaseIndex('='), BaseN)
}

// addRun adds one read covering [rel, rel+n) with mapping quality mapq.
func addRun(w *Window, rel, n int, mapq int64) {
	cov := make([]int32, n)
	mq := make([]int64, n)
	for i := range cov {
		cov[i] = 1
		mq[i] = mapq
	}
	w.AddCoverage(rel, cov, mq)
}

func TestSummarize(t *testing.T) {
	l, err := NewLayout(newMapper(t, 100), 1)
	assert.NoError(t, err)
	w := newWindow(l, 0)
	addRun(w, 0, 10, 20)
	addRun(w, 0, 10, 20)
	addRun(w, 50, 10, 60)
	w.Counts.Add(&Counts{
		Reads:           3,
		MappedBases:     30,
		Bases:           [NumBaseTypes]int64{10, 10, 5, 5, 0},
		InsertSizeSum:   300,
		InsertSizeCount: 2,
	})
	expect.EQ(t, w.MappingQualityAt(0), int64(20))
	expect.EQ(t, w.MappingQualityAt(20), int64(-1))

	s := w.Summarize()
	expect.EQ(t, s.EffectiveSize, int64(100))
	expect.EQ(t, s.Reads, int64(3))
	expect.EQ(t, s.CoverageHistogram, map[int32]int64{0: 80, 1: 10, 2: 10})
	expect.EQ(t, s.MappingQualityHistogram, map[int64]int64{20: 10, 60: 10})
	expect.EQ(t, s.SumCoverageSquared, 50.0)
	expect.EQ(t, s.MappingQualitySum, int64(1000))
	expect.True(t, math.Abs(s.MeanCoverage-0.3) < 1e-9)
	expect.True(t, math.Abs(s.StdCoverage-math.Sqrt(0.41)) < 1e-9)
	expect.True(t, math.Abs(s.MeanMappingQuality-1000.0/30) < 1e-9)
	expect.EQ(t, s.GCContent, 0.5)
	expect.EQ(t, s.MeanInsertSize, 150.0)
}

func TestSummarizeSelected(t *testing.T) {
	l, err := NewLayout(newMapper(t, 100), 1)
	assert.NoError(t, err)
	w := newWindow(l, 0)
	w.Selected = make([]uintptr, 2)
	for i := 0; i < 5; i++ {
		bitset.Set(w.Selected, i)
	}
	w.SelectedSize = 5
	addRun(w, 0, 10, 20)
	w.Counts.MappedBases = 5

	s := w.Summarize()
	expect.EQ(t, s.EffectiveSize, int64(5))
	expect.EQ(t, s.CoverageHistogram, map[int32]int64{1: 5})
	expect.EQ(t, s.MappingQualitySum, int64(100))
	expect.EQ(t, s.MeanCoverage, 1.0)
	expect.EQ(t, s.StdCoverage, 0.0)
}

func TestStdFromSums(t *testing.T) {
	// Values 1, 2, 3: mean 2, population variance 2/3.
	expect.True(t, math.Abs(StdFromSums(14, 2, 3)-math.Sqrt(2.0/3)) < 1e-12)
	expect.EQ(t, StdFromSums(3, 1, 3), 0.0)
}
