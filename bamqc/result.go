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

// Warning names.
const (
	WarningRegionsNotLoaded    = "Some regions are not loaded"
	WarningNoMappedReads       = "NO MAPPED READS"
	WarningNoFlaggedDups       = "No flagged duplicates are detected"
	WarningStartGreaterThanEnd = "Reads with start greater than end"
)

// Warning is a recoverable anomaly found during a run.
type Warning struct {
	Name    string
	Message string
}

// Counters are the stream-level record counters.
type Counters struct {
	// Reads counts primary, non-supplementary records.
	Reads int64

	SecondaryAlignments          int64
	ProblematicReads             int64
	ReadsWithStartGreaterThanEnd int64
	UnmappedReads                int64

	// AccumulatedReads counts records that reached a bunch.
	AccumulatedReads   int64
	DuplicatesSkipped  int64
	CorrectStrandReads int64

	// Read sizes cover every record, including skipped ones.
	MinReadSize  int
	MaxReadSize  int
	ReadSizeSum  int64
	MeanReadSize float64
}

func (c *Counters) addReadSize(n int) {
	if c.Reads+c.SecondaryAlignments == 0 || n < c.MinReadSize {
		c.MinReadSize = n
	}
	if n > c.MaxReadSize {
		c.MaxReadSize = n
	}
	c.ReadSizeSum += int64(n)
}

// Result is the outcome of Run.
type Result struct {
	// RunID identifies the run in reports.
	RunID string
	// Genome holds the main statistics: the whole genome, or the regions when
	// regions are configured.
	Genome *Stats
	// Outside holds the statistics of the complement of the regions.  nil
	// unless Opts.OutsideStats is set.
	Outside  *Stats
	Counters Counters

	// TotalFlags sums the flag counters of every mapped read, inside and
	// outside the regions.
	TotalFlags FlagCounts
	Warnings   []Warning
	Layout     *window.Layout

	// Fingerprint is a seahash of the accumulated records, in stream order.
	Fingerprint uint64
}

// HasRegions reports whether the main statistics are restricted to regions.
func (r *Result) HasRegions() bool { return r.Genome.Name == "inside" }
