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
	"github.com/grailbio/bamqc/window"
)

// Accumulation buckets.  The main bucket covers the whole genome, or the
// regions when regions are configured; the outside bucket covers their
// complement.
const (
	bucketMain = iota
	bucketOutside
	numBuckets
)

// readGCBins is the number of read GC-content bins, one per percent.
const readGCBins = 101

// ReadTallies are per-read counters that are not tied to a window.
type ReadTallies struct {
	// ReadGCHistogram[p] is the number of reads whose A/C/G/T bases are p
	// percent G or C.
	ReadGCHistogram [readGCBins]int64
	// ClippedReads counts reads with at least one soft or hard clip.
	ClippedReads int64
	ClippedBases int64
	// HomopolymerIndels counts indels that touch a run of identical bases of
	// at least Opts.MinHomopolymerSize.
	HomopolymerIndels int64
}

func (t *ReadTallies) add(o *ReadTallies) {
	for i := range t.ReadGCHistogram {
		t.ReadGCHistogram[i] += o.ReadGCHistogram[i]
	}
	t.ClippedReads += o.ClippedReads
	t.ClippedBases += o.ClippedBases
	t.HomopolymerIndels += o.HomopolymerIndels
}

// partial is one bunch's contribution to one window.  cov and mq cover the
// window-relative positions [lo, lo+len(cov)).
type partial struct {
	lo     int
	cov    []int32
	mq     []int64
	counts window.Counts
}

// ensure grows p to cover the relative positions [rel, rel+n).
func (p *partial) ensure(rel, n int) {
	if p.cov == nil {
		p.lo = rel
		p.cov = make([]int32, n)
		p.mq = make([]int64, n)
		return
	}
	if rel < p.lo {
		shift := p.lo - rel
		cov := make([]int32, shift+len(p.cov))
		mq := make([]int64, shift+len(p.mq))
		copy(cov[shift:], p.cov)
		copy(mq[shift:], p.mq)
		p.lo, p.cov, p.mq = rel, cov, mq
	}
	if hi := p.lo + len(p.cov); rel+n > hi {
		p.cov = append(p.cov, make([]int32, rel+n-hi)...)
		p.mq = append(p.mq, make([]int64, rel+n-hi)...)
	}
}

// addRun adds one read's coverage of the relative positions [rel, rel+n).
func (p *partial) addRun(rel, n int, mapq int64) {
	p.ensure(rel, n)
	cov := p.cov[rel-p.lo : rel-p.lo+n]
	mq := p.mq[rel-p.lo : rel-p.lo+n]
	for i := range cov {
		cov[i]++
		mq[i] += mapq
	}
	p.counts.MappedBases += int64(n)
}

func (p *partial) applyTo(w *window.Window) {
	w.Counts.Add(&p.counts)
	if len(p.cov) > 0 {
		w.AddCoverage(p.lo, p.cov, p.mq)
	}
}

// Delta is the result of processing one bunch of records.  Every field is a
// sum, so deltas can be applied in any order.
type Delta struct {
	// windows[b] maps a window index to the bunch's partial for bucket b.
	windows [numBuckets]map[int]*partial
	tallies [numBuckets]ReadTallies
}

func newDelta() *Delta {
	d := &Delta{}
	for b := range d.windows {
		d.windows[b] = map[int]*partial{}
	}
	return d
}

func (d *Delta) partial(bucket, index int) *partial {
	p := d.windows[bucket][index]
	if p == nil {
		p = &partial{}
		d.windows[bucket][index] = p
	}
	return p
}

// NumWindows returns the number of windows the delta touches.
func (d *Delta) NumWindows() int {
	n := 0
	for _, m := range d.windows {
		n += len(m)
	}
	return n
}
