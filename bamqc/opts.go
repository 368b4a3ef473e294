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
	"runtime"
	"strings"

	"github.com/grailbio/bamqc/interval"
	"github.com/grailbio/bamqc/window"
	"github.com/grailbio/base/errors"
)

// DuplicateMode selects which duplicate reads are left out of accumulation.
type DuplicateMode int

const (
	// DuplicatesKeep accumulates every read.
	DuplicatesKeep DuplicateMode = iota
	// DuplicatesSkipFlagged skips reads carrying the duplicate flag.
	DuplicatesSkipFlagged
	// DuplicatesSkipEstimated skips reads the start-signature estimator
	// considers duplicates.
	DuplicatesSkipEstimated
	// DuplicatesSkipAll skips both kinds.
	DuplicatesSkipAll
)

var duplicateModeNames = []string{"none", "flagged", "estimated", "both"}

// ParseDuplicateMode parses one of "none", "flagged", "estimated" or "both".
// The numeric forms "0" to "3" are accepted too.
func ParseDuplicateMode(s string) (DuplicateMode, error) {
	s = strings.ToLower(s)
	for i, name := range duplicateModeNames {
		if s == name || s == fmt.Sprint(i) {
			return DuplicateMode(i), nil
		}
	}
	return DuplicatesKeep, errors.E(errors.Invalid, fmt.Sprintf("unknown duplicate mode %q", s))
}

func (m DuplicateMode) String() string {
	if m < 0 || int(m) >= len(duplicateModeNames) {
		return fmt.Sprintf("DuplicateMode(%d)", int(m))
	}
	return duplicateModeNames[m]
}

func (m DuplicateMode) skipFlagged() bool {
	return m == DuplicatesSkipFlagged || m == DuplicatesSkipAll
}

func (m DuplicateMode) skipEstimated() bool {
	return m == DuplicatesSkipEstimated || m == DuplicatesSkipAll
}

// Protocol is the library strandedness.
type Protocol int

const (
	// NonStrandSpecific ignores read strand when matching regions.
	NonStrandSpecific Protocol = iota
	// StrandSpecificForward expects first-of-pair reads on the region strand.
	StrandSpecificForward
	// StrandSpecificReverse expects first-of-pair reads opposite the region
	// strand.
	StrandSpecificReverse
)

// ParseProtocol parses "non-strand-specific", "strand-specific-forward" or
// "strand-specific-reverse".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "", "non-strand-specific":
		return NonStrandSpecific, nil
	case "strand-specific-forward":
		return StrandSpecificForward, nil
	case "strand-specific-reverse":
		return StrandSpecificReverse, nil
	}
	return NonStrandSpecific, errors.E(errors.Invalid, fmt.Sprintf("unknown protocol %q", s))
}

func (p Protocol) String() string {
	switch p {
	case StrandSpecificForward:
		return "strand-specific-forward"
	case StrandSpecificReverse:
		return "strand-specific-reverse"
	}
	return "non-strand-specific"
}

// Opts configures Run.
type Opts struct {
	// NumWindows is the requested number of windows.  The effective count can
	// be larger; see window.NewLayout.
	NumWindows int
	// Parallelism is the number of bunch workers.
	Parallelism int
	// BunchSize is the number of records per worker task.
	BunchSize int
	// MaxQueueSize bounds the number of in-flight tasks.  It is halved when
	// OutsideStats is set.
	MaxQueueSize  int
	DuplicateMode DuplicateMode
	Protocol      Protocol
	// Regions, if nonempty, restricts the main statistics to the given
	// regions.
	Regions []interval.Region
	// OutsideStats, if set with Regions, also accumulates statistics for the
	// complement of the regions.
	OutsideStats bool
	// Reference is the reference sequence of all contigs concatenated in header
	// order and upper-cased; see fasta.Concat.  Optional.
	Reference []byte
	// MinHomopolymerSize is the shortest base run an indel must touch to count
	// as a homopolymer indel.
	MinHomopolymerSize int
	// CollectOverlappingPairs enables the overlapping read-pair counters.
	CollectOverlappingPairs bool
	// OnWindowFinalized, if set, observes every finalized window of the main
	// statistics, in window order, on the goroutine that called Run.  The
	// window must not be retained after the callback returns unless it is
	// only read.
	OnWindowFinalized func(w *window.Window, s *window.Summary) error
	// OnOutsideWindowFinalized is OnWindowFinalized for the outside
	// statistics.  It is called only with regions and OutsideStats.
	OnOutsideWindowFinalized func(w *window.Window, s *window.Summary) error
}

// DefaultOpts are the default values of Opts.
var DefaultOpts = Opts{
	NumWindows:         400,
	Parallelism:        runtime.NumCPU(),
	BunchSize:          1000,
	MaxQueueSize:       10,
	DuplicateMode:      DuplicatesKeep,
	Protocol:           NonStrandSpecific,
	MinHomopolymerSize: 3,
}

// validate fills zero-valued knobs with defaults and rejects the rest.
func (o *Opts) validate() error {
	if o.NumWindows <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("number of windows must be positive, got %d", o.NumWindows))
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultOpts.Parallelism
	}
	if o.BunchSize <= 0 {
		o.BunchSize = DefaultOpts.BunchSize
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultOpts.MaxQueueSize
	}
	if o.MinHomopolymerSize <= 0 {
		o.MinHomopolymerSize = DefaultOpts.MinHomopolymerSize
	}
	if o.DuplicateMode < DuplicatesKeep || o.DuplicateMode > DuplicatesSkipAll {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid duplicate mode %d", o.DuplicateMode))
	}
	if o.OutsideStats && len(o.Regions) == 0 {
		return errors.E(errors.Invalid, "outside statistics require regions")
	}
	return nil
}
