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

import "github.com/grailbio/hts/sam"

// maxReadStartsBin caps the reads-per-start histogram.  Starts with more reads
// land in the last bin.
const maxReadStartsBin = 50

// numSignatures is the number of distinct read-start signatures at one
// position: strand times pairing class.
const numSignatures = 6

// duplicateEstimator flags reads that share a start signature with an earlier
// read.  The signature of a read is its absolute start, its strand, and
// whether it is unpaired, first or second of pair.  Reads must arrive sorted
// by start.
type duplicateEstimator struct {
	pos    int64
	counts [numSignatures]int64
	// histogram[k] is the number of signatures carried by k reads.
	histogram [maxReadStartsBin + 1]int64
	reads     int64
	// duplicates counts reads beyond the first of their signature.
	duplicates int64
}

func signature(r *sam.Record) int {
	s := 0
	if r.Flags&sam.Paired != 0 {
		s = 1
		if r.Flags&sam.Read2 != 0 {
			s = 2
		}
	}
	if r.Flags&sam.Reverse != 0 {
		s += 3
	}
	return s
}

// add counts a read starting at abs and reports whether it is an estimated
// duplicate.
func (e *duplicateEstimator) add(abs int64, r *sam.Record) bool {
	if abs != e.pos {
		e.flush()
		e.pos = abs
	}
	s := signature(r)
	e.counts[s]++
	e.reads++
	if e.counts[s] > 1 {
		e.duplicates++
		return true
	}
	return false
}

// flush folds the counts of the current position into the histogram.
func (e *duplicateEstimator) flush() {
	for i, n := range e.counts {
		if n == 0 {
			continue
		}
		if n > maxReadStartsBin {
			n = maxReadStartsBin
		}
		e.histogram[n]++
		e.counts[i] = 0
	}
}
