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

package bamqc

import (
	"math"
	"sort"

	"github.com/grailbio/bamqc/window"
	"gonum.org/v1/gonum/stat"
)

// maxCoverageQuota is the deepest coverage level reported in
// Descriptors.CoverageQuotas.
const maxCoverageQuota = 50

// Stats are the statistics of one bucket: the whole genome, the regions, or
// their complement.  Stats is filled by the driver goroutine only.
type Stats struct {
	// Name is "genome", "inside" or "outside".
	Name string
	// ReferenceSize is the number of reference positions the bucket covers.
	// Coverage descriptors are normalized by it.
	ReferenceSize int64
	// Windows holds one summary per layout window, indexed by window index.
	Windows []*window.Summary
	Flags   FlagCounts
	ReadTallies
	// InsertSizeHistogram maps a template length to its number of reads.
	InsertSizeHistogram map[int64]int64
	// ReadStartsHistogram[k] is the number of read-start signatures carried by
	// k reads, with k capped at 50.
	ReadStartsHistogram [maxReadStartsBin + 1]int64
	// EstimatedDuplicates counts reads sharing their start signature with an
	// earlier read, out of StartedReads.
	EstimatedDuplicates int64
	StartedReads        int64
	Descriptors         Descriptors
	Chromosomes         []ChromosomeStats
}

// Descriptors are the global descriptors of a bucket.
type Descriptors struct {
	NumWindows  int
	MappedBases int64
	Bases       [window.NumBaseTypes]int64
	// GCPercent is the G+C percentage of the aligned A/C/G/T bases.
	GCPercent          float64
	MeanCoverage       float64
	StdCoverage        float64
	MedianCoverage     float64
	MeanMappingQuality float64
	MeanInsertSize     float64
	MedianInsertSize   float64
	StdInsertSize      float64
	// CoverageHistogram maps a depth to its number of positions.
	CoverageHistogram map[int32]int64
	// CoverageQuotas[k-1] is the percentage of positions with depth >= k.
	CoverageQuotas [maxCoverageQuota]float64
	// MappingQualityHistogram maps a per-position mean mapping quality to its
	// number of covered positions.
	MappingQualityHistogram map[int64]int64
	// DuplicationRate is the percentage of estimated duplicates.
	DuplicationRate float64
	Mismatches      int64
	Insertions      int64
	Deletions       int64
	// The rates are per mapped base.
	MismatchRate  float64
	InsertionRate float64
	DeletionRate  float64
	// HomopolymerIndelFraction is the fraction of indels that are homopolymer
	// indels.
	HomopolymerIndelFraction float64
}

// ChromosomeStats aggregates the windows of one contig.
type ChromosomeStats struct {
	Name               string
	Length             int64
	EffectiveSize      int64
	MappedBases        int64
	MeanCoverage       float64
	StdCoverage        float64
	MeanMappingQuality float64
}

func newStats(name string, l *window.Layout) *Stats {
	return &Stats{
		Name:                name,
		Windows:             make([]*window.Summary, l.Len()),
		InsertSizeHistogram: map[int64]int64{},
	}
}

// absorb copies the driver-side tallies of c into s.
func (s *Stats) absorb(c *collector) {
	s.Flags = c.flags
	for k, v := range c.insertSizes {
		s.InsertSizeHistogram[k] += v
	}
	c.dups.flush()
	s.ReadStartsHistogram = c.dups.histogram
	s.EstimatedDuplicates = c.dups.duplicates
	s.StartedReads = c.dups.reads
}

// computeDescriptors derives the descriptors from the window summaries.  It
// reads nothing but s and l.
func (s *Stats) computeDescriptors(l *window.Layout) {
	d := Descriptors{
		CoverageHistogram:       map[int32]int64{},
		MappingQualityHistogram: map[int64]int64{},
	}
	var (
		sumCovSq float64
		mqSum    int64
	)
	for _, w := range s.Windows {
		if w == nil {
			continue
		}
		d.NumWindows++
		d.MappedBases += w.MappedBases
		for i, n := range w.Bases {
			d.Bases[i] += n
		}
		d.Mismatches += w.Mismatches
		d.Insertions += w.Insertions
		d.Deletions += w.Deletions
		sumCovSq += w.SumCoverageSquared
		mqSum += w.MappingQualitySum
		for cov, n := range w.CoverageHistogram {
			d.CoverageHistogram[cov] += n
		}
		for mq, n := range w.MappingQualityHistogram {
			d.MappingQualityHistogram[mq] += n
		}
	}
	if size := float64(s.ReferenceSize); size > 0 {
		d.MeanCoverage = float64(d.MappedBases) / size
		d.StdCoverage = window.StdFromSums(sumCovSq, d.MeanCoverage, size)
	}
	if d.MappedBases > 0 {
		mapped := float64(d.MappedBases)
		d.MeanMappingQuality = float64(mqSum) / mapped
		d.MismatchRate = float64(d.Mismatches) / mapped
		d.InsertionRate = float64(d.Insertions) / mapped
		d.DeletionRate = float64(d.Deletions) / mapped
	}
	if indels := d.Insertions + d.Deletions; indels > 0 {
		d.HomopolymerIndelFraction = float64(s.HomopolymerIndels) / float64(indels)
	}
	gc := d.Bases[window.BaseC] + d.Bases[window.BaseG]
	if acgt := gc + d.Bases[window.BaseA] + d.Bases[window.BaseT]; acgt > 0 {
		d.GCPercent = 100 * float64(gc) / float64(acgt)
	}

	var positions int64
	for _, n := range d.CoverageHistogram {
		positions += n
	}
	if positions > 0 {
		for cov, n := range d.CoverageHistogram {
			for k := 1; k <= maxCoverageQuota && int32(k) <= cov; k++ {
				d.CoverageQuotas[k-1] += float64(n)
			}
		}
		for k := range d.CoverageQuotas {
			d.CoverageQuotas[k] = 100 * d.CoverageQuotas[k] / float64(positions)
		}
		depths := make(map[int64]int64, len(d.CoverageHistogram))
		for cov, n := range d.CoverageHistogram {
			depths[int64(cov)] = n
		}
		xs, ws := sortedPoints(depths)
		d.MedianCoverage = stat.Quantile(0.5, stat.Empirical, xs, ws)
	}

	if len(s.InsertSizeHistogram) > 0 {
		xs, ws := sortedPoints(s.InsertSizeHistogram)
		d.MeanInsertSize, d.StdInsertSize = stat.MeanStdDev(xs, ws)
		if math.IsNaN(d.StdInsertSize) {
			// A single read.
			d.StdInsertSize = 0
		}
		d.MedianInsertSize = stat.Quantile(0.5, stat.Empirical, xs, ws)
	}
	if s.StartedReads > 0 {
		d.DuplicationRate = 100 * float64(s.EstimatedDuplicates) / float64(s.StartedReads)
	}
	s.Descriptors = d
	s.computeChromosomes(l)
}

func (s *Stats) computeChromosomes(l *window.Layout) {
	contigs := l.Mapper().Contigs()
	s.Chromosomes = make([]ChromosomeStats, len(contigs))
	for _, c := range contigs {
		cs := ChromosomeStats{Name: c.Name, Length: c.Length}
		var (
			sumCovSq float64
			mqSum    int64
		)
		first, limit := l.ContigWindows(c.ID)
		for i := first; i < limit; i++ {
			w := s.Windows[i]
			if w == nil {
				continue
			}
			cs.EffectiveSize += w.EffectiveSize
			cs.MappedBases += w.MappedBases
			sumCovSq += w.SumCoverageSquared
			mqSum += w.MappingQualitySum
		}
		if cs.EffectiveSize > 0 {
			cs.MeanCoverage = float64(cs.MappedBases) / float64(cs.EffectiveSize)
			cs.StdCoverage = window.StdFromSums(sumCovSq, cs.MeanCoverage, float64(cs.EffectiveSize))
		}
		if cs.MappedBases > 0 {
			cs.MeanMappingQuality = float64(mqSum) / float64(cs.MappedBases)
		}
		s.Chromosomes[c.ID] = cs
	}
}

// sortedPoints returns the values of histogram h in increasing order, with
// their counts as weights, as stat.Quantile requires.
func sortedPoints(h map[int64]int64) (xs, ws []float64) {
	keys := make([]int64, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	xs = make([]float64, len(keys))
	ws = make([]float64, len(keys))
	for i, k := range keys {
		xs[i], ws[i] = float64(k), float64(h[k])
	}
	return xs, ws
}
