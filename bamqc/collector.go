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
	"github.com/dgryski/go-farm"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
)

// FlagCounts are the per-bucket record counters kept by the driver.
type FlagCounts struct {
	MappedReads             int64
	PairedReads             int64
	MappedFirstOfPair       int64
	MappedSecondOfPair      int64
	BothMatesMapped         int64
	Singletons              int64
	SupplementaryAlignments int64
	FlaggedDuplicates       int64
	// OverlappingPairs and OverlappingBases are collected only with
	// Opts.CollectOverlappingPairs.
	OverlappingPairs int64
	OverlappingBases int64
}

func (f *FlagCounts) add(o FlagCounts) {
	f.MappedReads += o.MappedReads
	f.PairedReads += o.PairedReads
	f.MappedFirstOfPair += o.MappedFirstOfPair
	f.MappedSecondOfPair += o.MappedSecondOfPair
	f.BothMatesMapped += o.BothMatesMapped
	f.Singletons += o.Singletons
	f.SupplementaryAlignments += o.SupplementaryAlignments
	f.FlaggedDuplicates += o.FlaggedDuplicates
	f.OverlappingPairs += o.OverlappingPairs
	f.OverlappingBases += o.OverlappingBases
}

// pendingMate is the left read of a pair whose mate is expected to overlap
// it.
type pendingMate struct {
	refID   int
	end     int // 0-based exclusive end of the left read
	matePos int
}

// collector tallies per-record information for one bucket on the driver
// goroutine, in stream order.
type collector struct {
	flags       FlagCounts
	insertSizes map[int64]int64
	dups        duplicateEstimator
	// pending maps the farm hash of a read name to its left mate.
	pending map[uint64]pendingMate
}

func newCollector() *collector {
	return &collector{
		insertSizes: map[int64]int64{},
		pending:     map[uint64]pendingMate{},
	}
}

// update counts the flags of a mapped record.  It reports whether the record
// is flagged as a duplicate.
func (c *collector) update(r *sam.Record) bool {
	c.flags.MappedReads++
	if r.Flags&sam.Supplementary != 0 {
		c.flags.SupplementaryAlignments++
	}
	if r.Flags&sam.Paired != 0 {
		c.flags.PairedReads++
		if r.Flags&sam.Read1 != 0 {
			c.flags.MappedFirstOfPair++
		} else if r.Flags&sam.Read2 != 0 {
			c.flags.MappedSecondOfPair++
		}
		if r.Flags&sam.MateUnmapped != 0 {
			c.flags.Singletons++
		} else {
			c.flags.BothMatesMapped++
		}
	}
	if r.Flags&sam.Duplicate != 0 {
		c.flags.FlaggedDuplicates++
		return true
	}
	return false
}

// addInsertSize adds the template length of a paired record to the
// histogram.  Only the leftmost mate, with a positive length, counts.
func (c *collector) addInsertSize(r *sam.Record) {
	if r.Flags&sam.Paired == 0 || r.TempLen <= 0 {
		return
	}
	c.insertSizes[int64(r.TempLen)]++
}

// collectPair detects mates that overlap each other on the reference.
func (c *collector) collectPair(r *sam.Record) {
	const mask = sam.Paired | sam.Unmapped | sam.MateUnmapped | sam.Supplementary
	if r.Flags&mask != sam.Paired || r.MateRef == nil || r.Ref == nil || r.MateRef.ID() != r.Ref.ID() {
		return
	}
	key := farm.Hash64(gunsafe.StringToBytes(r.Name))
	left := r.MatePos > r.Pos || (r.MatePos == r.Pos && r.Flags&sam.Read1 != 0)
	if left {
		if end := r.End(); r.MatePos < end {
			c.pending[key] = pendingMate{refID: r.Ref.ID(), end: end, matePos: r.MatePos}
		}
		return
	}
	m, ok := c.pending[key]
	if !ok || m.refID != r.Ref.ID() || m.matePos != r.Pos {
		return
	}
	delete(c.pending, key)
	end := m.end
	if e := r.End(); e < end {
		end = e
	}
	c.flags.OverlappingPairs++
	c.flags.OverlappingBases += int64(end - r.Pos)
}

// prune drops left mates whose partner should have appeared before the
// given position.
func (c *collector) prune(refID, pos int) {
	for k, m := range c.pending {
		if m.refID != refID || m.matePos < pos {
			delete(c.pending, k)
		}
	}
}
