package window

import (
	"bytes"
	"testing"

	"github.com/grailbio/base/bitset"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestManagerLazyCreate(t *testing.T) {
	m := newMapper(t, 1000)
	l, err := NewLayout(m, 10)
	assert.NoError(t, err)
	ref := bytes.Repeat([]byte("ACGT"), 250)
	created := 0
	mgr := NewManager(l, ManagerOpts{
		Reference: ref,
		OnCreate:  func(w *Window) { created++ },
	})
	expect.EQ(t, mgr.Len(), 0)
	w := mgr.GetOrCreate(101)
	expect.EQ(t, w.Index, 1)
	expect.EQ(t, w.End, int64(200))
	expect.EQ(t, string(w.Reference[:4]), "ACGT")
	expect.EQ(t, len(w.Reference), 100)
	expect.True(t, mgr.GetOrCreate(101) == w)
	expect.True(t, mgr.Get(1) == w)
	expect.EQ(t, created, 1)

	mgr.Get(5)
	mgr.Get(0)
	var starts []int64
	for _, ow := range mgr.Open() {
		starts = append(starts, ow.Start)
	}
	expect.EQ(t, starts, []int64{1, 101, 501})
}

func TestManagerMask(t *testing.T) {
	m := newMapper(t, 1000)
	l, err := NewLayout(m, 1)
	assert.NoError(t, err)
	mgr := NewManager(l, ManagerOpts{
		Mask: func(w *Window, bits []uintptr) int64 {
			for i := 99; i < 200; i++ {
				bitset.Set(bits, i)
			}
			return 101
		},
	})
	w := mgr.Get(0)
	expect.EQ(t, w.SelectedSize, int64(101))
	expect.True(t, w.IsSelected(99))
	expect.False(t, w.IsSelected(98))
	expect.False(t, w.IsSelected(200))
}

func TestManagerFinalizeOrder(t *testing.T) {
	m := newMapper(t, 1000)
	l, err := NewLayout(m, 10)
	assert.NoError(t, err)
	var delivered []int
	mgr := NewManager(l, ManagerOpts{
		OnFinalized: func(w *Window, s *Summary) error {
			expect.EQ(t, s.Index, w.Index)
			delivered = append(delivered, w.Index)
			return nil
		},
	})
	for i := 0; i < l.Len(); i++ {
		w := mgr.Get(i)
		addRun(w, 0, 10, 30)
		w.Counts.MappedBases += 10
		assert.NoError(t, mgr.Finalize(w))
		// The previous window was delivered before this one was dispatched.
		expect.EQ(t, len(delivered), i)
		expect.EQ(t, mgr.Len(), 0)
	}
	assert.NoError(t, mgr.Flush())
	expect.EQ(t, delivered, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	expect.EQ(t, mgr.NumFinalized(), 10)
	assert.NoError(t, mgr.Flush())
	expect.EQ(t, mgr.NumFinalized(), 10)
}

func TestManagerSummarize(t *testing.T) {
	m := newMapper(t, 1000)
	l, err := NewLayout(m, 1)
	assert.NoError(t, err)
	mgr := NewManager(l, ManagerOpts{})
	w := mgr.Get(0)
	// Ten reads of length 100 at positions 1, 11, ... 91, all with MAPQ 30.
	for i := 0; i < 10; i++ {
		addRun(w, i*10, 100, 30)
		w.Counts.MappedBases += 100
		w.Counts.Reads++
	}
	w.Counts.Bases = [NumBaseTypes]int64{250, 250, 250, 250, 0}
	s := w.Summarize()
	expect.EQ(t, s.EffectiveSize, int64(1000))
	expect.EQ(t, s.MeanCoverage, 1.0)
	expect.EQ(t, s.MeanMappingQuality, 30.0)
	expect.EQ(t, s.GCContent, 0.5)
	expect.EQ(t, w.MappingQualityAt(0), int64(30))
	expect.EQ(t, w.MappingQualityAt(500), int64(-1))
	expect.EQ(t, w.Coverage[95], int32(10))
	var total int64
	for _, n := range s.CoverageHistogram {
		total += n
	}
	expect.EQ(t, total, int64(1000))
	expect.EQ(t, s.CoverageHistogram[0], int64(810))
	expect.EQ(t, s.MappingQualityHistogram[30], int64(190))
}
