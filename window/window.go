// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package window

import (
	"math"

	"github.com/grailbio/base/bitset"
)

// Base indexes for Counts.Bases.
const (
	BaseA = iota
	BaseC
	BaseG
	BaseT
	BaseN
	NumBaseTypes
)

// BaseIndex maps an ASCII base to its Counts.Bases index.  Anything that is not
// A/C/G/T (either case) counts as N.
func BaseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return BaseA
	case 'C', 'c':
		return BaseC
	case 'G', 'g':
		return BaseG
	case 'T', 't':
		return BaseT
	}
	return BaseN
}

// Counts are the scalar per-window accumulators.  Every field is a sum, so
// Counts merge commutatively.
type Counts struct {
	// Reads is the number of accumulated reads whose span intersects the
	// window.
	Reads int64
	// MappedBases is the sum of per-position coverage.
	MappedBases int64
	// Bases counts aligned read bases by type.
	Bases [NumBaseTypes]int64
	// Mismatches counts aligned bases differing from the reference.  Zero when
	// no reference is loaded.
	Mismatches int64
	Insertions int64
	Deletions  int64
	// InsertSizeSum and InsertSizeCount cover paired reads starting in the
	// window with a positive template length.
	InsertSizeSum   int64
	InsertSizeCount int64
}

// Add adds o into c.
func (c *Counts) Add(o *Counts) {
	c.Reads += o.Reads
	c.MappedBases += o.MappedBases
	for i := range c.Bases {
		c.Bases[i] += o.Bases[i]
	}
	c.Mismatches += o.Mismatches
	c.Insertions += o.Insertions
	c.Deletions += o.Deletions
	c.InsertSizeSum += o.InsertSizeSum
	c.InsertSizeCount += o.InsertSizeCount
}

// Window is the accumulation unit for the closed coordinate range
// [Start, End].  A Window is owned by the goroutine driving its Manager until
// it is finalized.
type Window struct {
	Index    int
	Start    int64
	End      int64
	ContigID int
	// Reference is the window's slice of the reference sequence; nil if no
	// reference is loaded.  It aliases the caller's buffer.
	Reference []byte
	// Selected has bit i set if position Start+i is counted.  nil means every
	// position is counted.
	Selected []uintptr
	// SelectedSize is the number of bits set in Selected, or Len() if Selected
	// is nil.
	SelectedSize int64
	// Coverage[i] is the depth at position Start+i.
	Coverage []int32
	// MappingQuality[i] is the sum of the mapping qualities of the bases
	// counted in Coverage[i].
	MappingQuality []int64
	Counts         Counts
}

func newWindow(l *Layout, index int) *Window {
	w := &Window{
		Index:    index,
		Start:    l.Start(index),
		End:      l.End(index),
		ContigID: l.Contig(index),
	}
	n := w.Len()
	w.Coverage = make([]int32, n)
	w.MappingQuality = make([]int64, n)
	w.SelectedSize = n
	return w
}

// Len returns the number of positions in the window.
func (w *Window) Len() int64 { return w.End - w.Start + 1 }

// IsSelected reports whether relative position i counts towards the window.
func (w *Window) IsSelected(i int) bool {
	return w.Selected == nil || bitset.Test(w.Selected, i)
}

// AddCoverage adds cov to the coverage of the relative positions starting at
// rel, and mq to their mapping quality sums.  cov and mq have the same length.
func (w *Window) AddCoverage(rel int, cov []int32, mq []int64) {
	dcov := w.Coverage[rel : rel+len(cov)]
	dmq := w.MappingQuality[rel : rel+len(mq)]
	for i, c := range cov {
		dcov[i] += c
		dmq[i] += mq[i]
	}
}

// MappingQualityAt returns the mean mapping quality at relative position i, or
// -1 if the position is not covered.
func (w *Window) MappingQualityAt(i int) int64 {
	if w.Coverage[i] == 0 {
		return -1
	}
	return w.MappingQuality[i] / int64(w.Coverage[i])
}

// Summary holds the descriptors of a finalized window.
type Summary struct {
	Index         int
	Start         int64
	End           int64
	ContigID      int
	EffectiveSize int64
	Counts
	SumCoverageSquared float64
	// MappingQualitySum is the sum of the mapping qualities of all counted
	// bases.
	MappingQualitySum int64
	MeanCoverage      float64
	StdCoverage       float64
	// MeanMappingQuality is averaged over all counted bases.
	MeanMappingQuality float64
	// GCContent is the fraction of G+C among the A/C/G/T bases.
	GCContent      float64
	MeanInsertSize float64
	// CoverageHistogram maps a depth to the number of selected positions with
	// that depth.
	CoverageHistogram map[int32]int64
	// MappingQualityHistogram maps a per-position mean mapping quality to the
	// number of covered, selected positions with that mean.
	MappingQualityHistogram map[int64]int64
}

// Summarize computes the window's descriptors.  Only selected positions
// contribute.  Summarize does not modify w.
func (w *Window) Summarize() *Summary {
	s := &Summary{
		Index:                   w.Index,
		Start:                   w.Start,
		End:                     w.End,
		ContigID:                w.ContigID,
		EffectiveSize:           w.SelectedSize,
		Counts:                  w.Counts,
		CoverageHistogram:       map[int32]int64{},
		MappingQualityHistogram: map[int64]int64{},
	}
	for i, cov := range w.Coverage {
		if !w.IsSelected(i) {
			continue
		}
		s.CoverageHistogram[cov]++
		s.SumCoverageSquared += float64(cov) * float64(cov)
		if cov > 0 {
			s.MappingQualitySum += w.MappingQuality[i]
			s.MappingQualityHistogram[w.MappingQualityAt(i)]++
		}
	}
	if s.EffectiveSize > 0 {
		size := float64(s.EffectiveSize)
		s.MeanCoverage = float64(s.MappedBases) / size
		s.StdCoverage = StdFromSums(s.SumCoverageSquared, s.MeanCoverage, size)
	}
	if s.MappedBases > 0 {
		s.MeanMappingQuality = float64(s.MappingQualitySum) / float64(s.MappedBases)
	}
	if acgt := s.Bases[BaseA] + s.Bases[BaseC] + s.Bases[BaseG] + s.Bases[BaseT]; acgt > 0 {
		s.GCContent = float64(s.Bases[BaseC]+s.Bases[BaseG]) / float64(acgt)
	}
	if s.InsertSizeCount > 0 {
		s.MeanInsertSize = float64(s.InsertSizeSum) / float64(s.InsertSizeCount)
	}
	return s
}

// StdFromSums returns the population standard deviation of n values given the
// sum of their squares and their mean.
func StdFromSums(sumSquares, mean, n float64) float64 {
	v := sumSquares/n - mean*mean
	if v < 0 {
		// Rounding.
		return 0
	}
	return math.Sqrt(v)
}
