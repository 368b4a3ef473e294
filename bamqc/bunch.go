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
	"fmt"

	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/bamqc/interval"
	"github.com/grailbio/bamqc/window"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// env is the read-only state shared by the driver and all workers.
type env struct {
	layout *window.Layout
	mapper *coord.Mapper
	// index is nil when no regions are configured.
	index *interval.Index
	// reference is nil when no reference is loaded.
	reference      []byte
	minHomopolymer int
}

// item is one record routed to a bucket by the driver.
type item struct {
	rec    *sam.Record
	bucket int
}

// bunchProcessor holds the scratch state of one task.
type bunchProcessor struct {
	env    *env
	delta  *Delta
	pieces []interval.PosType
	// cursor is the region search position within the current record.
	cursor interval.EndpointIndex
	// hint is the last window index found, for Layout.FindFrom.
	hint int
}

// processBunch accumulates items into a new Delta.  hint is the driver's
// current window index when the bunch was submitted; no item starts before
// it.  processBunch reads nothing but its arguments.
func processBunch(e *env, items []item, hint int) (*Delta, error) {
	p := bunchProcessor{env: e, delta: newDelta()}
	for _, it := range items {
		p.hint = hint
		if err := p.processRecord(it); err != nil {
			return nil, err
		}
	}
	return p.delta, nil
}

func (p *bunchProcessor) find(abs int64) int {
	p.hint = p.env.layout.FindFrom(abs, p.hint)
	return p.hint
}

// clip returns the parts of the contig-local 0-based range [start, limit)
// that count for bucket, as endpoint pairs.  Within a record, start must not
// decrease between calls.  The result is valid until the next call.
func (p *bunchProcessor) clip(bucket, contigID, start, limit int) []interval.PosType {
	if p.env.index == nil {
		p.pieces = append(p.pieces[:0], interval.PosType(start), interval.PosType(limit))
		return p.pieces
	}
	p.pieces = p.env.index.PiecesFrom(p.pieces[:0], &p.cursor, contigID, interval.PosType(start), interval.PosType(limit), bucket == bucketOutside)
	return p.pieces
}

func (p *bunchProcessor) processRecord(it item) error {
	r := it.rec
	if r.Ref == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("record %s has no reference", r.Name))
	}
	c := p.env.mapper.Contig(r.Ref.ID())
	p.cursor = 0
	seq := r.Seq.Expand()
	tallies := &p.delta.tallies[it.bucket]
	tallyGC(tallies, seq)

	var (
		mapq       = int64(r.MapQ)
		lastWindow = -1
		refPos     = r.Pos
		readPos    = 0
		clipped    = false
	)
	for _, co := range r.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			p.addAligned(it.bucket, c, refPos, n, seq, readPos, mapq, &lastWindow)
			refPos += n
			readPos += n
		case sam.CigarInsertion:
			p.addIndel(it.bucket, c, tallies, true, seq, readPos, refPos, n)
			readPos += n
		case sam.CigarDeletion:
			p.addIndel(it.bucket, c, tallies, false, seq, readPos, refPos, n)
			refPos += n
		case sam.CigarSkipped:
			refPos += n
		case sam.CigarSoftClipped:
			clipped = true
			tallies.ClippedBases += int64(n)
			readPos += n
		case sam.CigarHardClipped:
			clipped = true
			tallies.ClippedBases += int64(n)
		}
	}
	if clipped {
		tallies.ClippedReads++
	}
	if r.Flags&sam.Paired != 0 && r.TempLen > 0 {
		part := p.delta.partial(it.bucket, p.find(c.Offset+int64(r.Pos)+1))
		part.counts.InsertSizeSum += int64(r.TempLen)
		part.counts.InsertSizeCount++
	}
	return nil
}

// addAligned accumulates the aligned block of n bases starting at the
// contig-local 0-based position start, whose first base is seq[readPos].
// *lastWindow is the last window the read was counted in.
func (p *bunchProcessor) addAligned(bucket int, c coord.Contig, start, n int, seq []byte, readPos int, mapq int64, lastWindow *int) {
	limit := start + n
	if int64(limit) > c.Length {
		limit = int(c.Length)
	}
	if start >= limit {
		return
	}
	layout := p.env.layout
	ref := p.env.reference
	pieces := p.clip(bucket, c.ID, start, limit)
	for i := 0; i < len(pieces); i += 2 {
		a, b := int(pieces[i]), int(pieces[i+1])
		for a < b {
			abs := c.Offset + int64(a) + 1
			wi := p.find(abs)
			chunk := b
			if wLimit := int(layout.End(wi) - c.Offset); chunk > wLimit {
				chunk = wLimit
			}
			part := p.delta.partial(bucket, wi)
			if wi != *lastWindow {
				part.counts.Reads++
				*lastWindow = wi
			}
			part.addRun(int(abs-layout.Start(wi)), chunk-a, mapq)
			for pos := a; pos < chunk; pos++ {
				base := baseAt(seq, readPos+pos-start)
				if ref != nil {
					refBase := ref[c.Offset+int64(pos)]
					if base == '=' {
						base = refBase
					} else if refBase != 'N' && base != refBase {
						part.counts.Mismatches++
					}
				}
				part.counts.Bases[window.BaseIndex(base)]++
			}
			a = chunk
		}
	}
}

// addIndel records an insertion of seq[readPos:readPos+n] before, or a
// deletion of n bases from, the contig-local 0-based position refPos.
func (p *bunchProcessor) addIndel(bucket int, c coord.Contig, tallies *ReadTallies, insertion bool, seq []byte, readPos, refPos, n int) {
	if int64(refPos) >= c.Length {
		return
	}
	if p.env.index != nil && len(p.clip(bucket, c.ID, refPos, refPos+1)) == 0 {
		return
	}
	part := p.delta.partial(bucket, p.find(c.Offset+int64(refPos)+1))
	if insertion {
		part.counts.Insertions++
	} else {
		part.counts.Deletions++
	}
	if p.isHomopolymerIndel(c, insertion, seq, readPos, refPos, n) {
		tallies.HomopolymerIndels++
	}
}

// isHomopolymerIndel reports whether the indel lies in a run of identical
// bases at least minHomopolymer long.  Inserted bases are judged against the
// read; deleted bases against the reference, or the flanking read bases when
// there is no reference.
func (p *bunchProcessor) isHomopolymerIndel(c coord.Contig, insertion bool, seq []byte, readPos, refPos, n int) bool {
	min := p.env.minHomopolymer
	switch {
	case insertion:
		if n == 0 || readPos+n > len(seq) {
			return false
		}
		if !uniform(seq[readPos:readPos+n], seq[readPos]) {
			return false
		}
		return runAround(seq, readPos, readPos+n, seq[readPos]) >= min
	case p.env.reference != nil:
		contigRef := p.env.reference[c.Offset:c.End()]
		limit := refPos + n
		if limit > len(contigRef) {
			limit = len(contigRef)
		}
		b := contigRef[refPos]
		if b == 'N' || !uniform(contigRef[refPos:limit], b) {
			return false
		}
		return runAround(contigRef, refPos, limit, b) >= min
	default:
		if readPos == 0 || readPos >= len(seq) || seq[readPos-1] != seq[readPos] {
			return false
		}
		return runAround(seq, readPos, readPos, seq[readPos]) >= min
	}
}

func uniform(s []byte, b byte) bool {
	for _, x := range s {
		if x != b {
			return false
		}
	}
	return true
}

// runAround returns j-i plus the number of bases equal to b immediately
// before s[i] and from s[j] on.
func runAround(s []byte, i, j int, b byte) int {
	n := j - i
	for k := i - 1; k >= 0 && s[k] == b; k-- {
		n++
	}
	for k := j; k < len(s) && s[k] == b; k++ {
		n++
	}
	return n
}

func baseAt(seq []byte, i int) byte {
	if i < len(seq) {
		return seq[i]
	}
	return 'N'
}

func tallyGC(t *ReadTallies, seq []byte) {
	var gc, acgt int
	for _, b := range seq {
		switch b {
		case 'G', 'C':
			gc++
			acgt++
		case 'A', 'T':
			acgt++
		}
	}
	if acgt > 0 {
		t.ReadGCHistogram[gc*100/acgt]++
	}
}
