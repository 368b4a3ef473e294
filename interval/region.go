package interval

import (
	"fmt"
	"strconv"
	"strings"
)

// Strand is the strand annotation of a Region.
type Strand int8

const (
	// StrandNone means the region is not strand-specific.
	StrandNone Strand = iota
	// StrandForward is the '+' strand.
	StrandForward
	// StrandReverse is the '-' strand.
	StrandReverse
)

// ParseStrand converts a BED/GFF strand column to a Strand.  Anything other
// than "+" or "-" is StrandNone.
func ParseStrand(s string) Strand {
	switch s {
	case "+":
		return StrandForward
	case "-":
		return StrandReverse
	}
	return StrandNone
}

func (s Strand) String() string {
	switch s {
	case StrandForward:
		return "+"
	case StrandReverse:
		return "-"
	}
	return "."
}

// Region is a closed, 1-based interval [Start, End] on a named contig.
type Region struct {
	Contig string
	Start  PosType
	End    PosType
	Strand Strand
}

func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d(%v)", r.Contig, r.Start, r.End, r.Strand)
}

// Len returns the number of bases in the region.
func (r Region) Len() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// The region [1, PosTypeMax-1] is returned if there is no positional
// restriction; Index clamps it to the contig length.
func ParseRegionString(region string) (result Region, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.Contig = region
		result.Start = 1
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.Contig = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start = PosType(pos1)
		result.End = PosType(pos1)
		return
	}
	var start1, end1 int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if end1, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if start1 <= 0 || end1 < start1 || end1 >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start = PosType(start1)
	result.End = PosType(end1)
	return
}
