package interval

import (
	"fmt"
	"sort"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/intervalmap"
	"github.com/grailbio/base/log"
)

// OverlapResult is the answer to a strand-aware overlap query.
type OverlapResult struct {
	// IntervalOverlaps is true if any region overlaps the query interval.
	IntervalOverlaps bool
	// StrandMatches is true if an overlapping region is on the expected strand.
	// Regions without a strand match either strand.
	StrandMatches bool
}

type contigIndex struct {
	// endpoints is the union of the contig's regions, see endpoint_index.go.
	endpoints []PosType
	// regions holds the individual regions with their Strand as Data.
	regions *intervalmap.T
	covered int64
}

// UnknownContig describes region entries whose contig is not in the alignment
// header.
type UnknownContig struct {
	Name       string
	NumRegions int
	// Suggestion is the header contig with the closest name.
	Suggestion string
}

// Index is an immutable interval index over the regions of interest.  Once
// built it is safe for concurrent use.
type Index struct {
	mapper     *coord.Mapper
	contigs    []contigIndex
	numRegions int
	numSkipped int
	unknown    []UnknownContig
}

// NewIndex builds an Index.  regions need not be sorted.  Regions on contigs
// unknown to m are counted and skipped; if no region survives, an
// errors.NotExist error is returned.  Regions extending past the contig end
// are clamped.
func NewIndex(regions []Region, m *coord.Mapper) (*Index, error) {
	idx := &Index{
		mapper:  m,
		contigs: make([]contigIndex, m.NumContigs()),
	}
	perContig := make([][]Region, m.NumContigs())
	unknown := map[string]int{}
	for _, r := range regions {
		id, ok := m.ID(r.Contig)
		if !ok {
			unknown[r.Contig]++
			idx.numSkipped++
			continue
		}
		if length := m.Contig(id).Length; int64(r.End) > length {
			r.End = PosType(length)
		}
		if r.Len() == 0 {
			idx.numSkipped++
			continue
		}
		perContig[id] = append(perContig[id], r)
		idx.numRegions++
	}
	for name, n := range unknown {
		idx.unknown = append(idx.unknown, UnknownContig{Name: name, NumRegions: n, Suggestion: closestName(name, m)})
	}
	sort.Slice(idx.unknown, func(i, j int) bool { return idx.unknown[i].Name < idx.unknown[j].Name })
	if idx.numRegions == 0 {
		return nil, errors.E(errors.NotExist,
			fmt.Sprintf("none of the %d region(s) match a contig of the alignment header", len(regions)))
	}
	for id, rs := range perContig {
		if len(rs) == 0 {
			continue
		}
		idx.contigs[id] = buildContigIndex(rs)
	}
	for _, u := range idx.unknown {
		log.Error.Printf("interval.NewIndex: %d region(s) on unknown contig %s (closest header contig: %s)",
			u.NumRegions, u.Name, u.Suggestion)
	}
	return idx, nil
}

func buildContigIndex(rs []Region) contigIndex {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start != rs[j].Start {
			return rs[i].Start < rs[j].Start
		}
		return rs[i].End < rs[j].End
	})
	var (
		ci      contigIndex
		entries = make([]intervalmap.Entry, 0, len(rs))
	)
	prevStart, prevEnd := PosType(-1), PosType(-1)
	for _, r := range rs {
		start0, end := r.Start-1, r.End
		entries = append(entries, intervalmap.Entry{
			Interval: intervalmap.Interval{Start: int64(start0), Limit: int64(end)},
			Data:     r.Strand,
		})
		if start0 > prevEnd {
			// New interval doesn't touch the previous one, so save the previous one.
			if prevEnd != -1 {
				ci.endpoints = append(ci.endpoints, prevStart, prevEnd)
				ci.covered += int64(prevEnd - prevStart)
			}
			prevStart, prevEnd = start0, end
		} else if end > prevEnd {
			prevEnd = end
		}
	}
	ci.endpoints = append(ci.endpoints, prevStart, prevEnd)
	ci.covered += int64(prevEnd - prevStart)
	ci.regions = intervalmap.New(entries)
	return ci
}

func closestName(name string, m *coord.Mapper) string {
	best, bestDist := "", -1
	for _, c := range m.Contigs() {
		if d := matchr.Levenshtein(name, c.Name); bestDist < 0 || d < bestDist {
			best, bestDist = c.Name, d
		}
	}
	return best
}

// NumRegions returns the number of regions loaded into the index.
func (idx *Index) NumRegions() int { return idx.numRegions }

// NumSkipped returns the number of regions that were dropped, either because
// their contig is unknown or because they lie past the contig end.
func (idx *Index) NumSkipped() int { return idx.numSkipped }

// UnknownContigs lists the contigs of skipped regions, sorted by name.
func (idx *Index) UnknownContigs() []UnknownContig { return idx.unknown }

// CoveredSize returns the number of reference bases covered by the union of
// all regions.
func (idx *Index) CoveredSize() int64 {
	var n int64
	for _, ci := range idx.contigs {
		n += ci.covered
	}
	return n
}

// ContigCoveredSize is CoveredSize restricted to one contig.
func (idx *Index) ContigCoveredSize(id int) int64 { return idx.contigs[id].covered }

// Overlaps reports whether the closed 1-based interval [start, end] on the
// named contig overlaps any region.  Unknown contigs never overlap.
func (idx *Index) Overlaps(start, end int64, contig string) bool {
	id, ok := idx.mapper.ID(contig)
	if !ok {
		return false
	}
	return idx.OverlapsID(id, start, end)
}

// OverlapsID is Overlaps for a contig given by ID.
func (idx *Index) OverlapsID(id int, start, end int64) bool {
	endpoints := idx.contigs[id].endpoints
	if len(endpoints) == 0 || end < start {
		return false
	}
	// First endpoint > start-1, i.e. the interval containing or following the
	// 0-based position start-1.
	ei := SearchPosTypes(endpoints, PosType(start))
	if ei.Contained() {
		return true
	}
	return int(ei) < len(endpoints) && int64(endpoints[ei]) < end
}

// OverlapsStranded reports whether [start, end] overlaps a region, and whether
// one of the overlapping regions lies on the expected strand.
func (idx *Index) OverlapsStranded(start, end int64, contig string, expectForward bool) OverlapResult {
	id, ok := idx.mapper.ID(contig)
	if !ok {
		return OverlapResult{}
	}
	return idx.OverlapsStrandedID(id, start, end, expectForward)
}

// OverlapsStrandedID is OverlapsStranded for a contig given by ID.
func (idx *Index) OverlapsStrandedID(id int, start, end int64, expectForward bool) OverlapResult {
	tree := idx.contigs[id].regions
	if tree == nil || end < start {
		return OverlapResult{}
	}
	var ents []*intervalmap.Entry
	tree.Get(intervalmap.Interval{Start: start - 1, Limit: end}, &ents)
	res := OverlapResult{IntervalOverlaps: len(ents) > 0}
	want := StrandReverse
	if expectForward {
		want = StrandForward
	}
	for _, e := range ents {
		if s := e.Data.(Strand); s == want || s == StrandNone {
			res.StrandMatches = true
			break
		}
	}
	return res
}

// Pieces appends to dst the endpoints of the parts of the 0-based half-open
// interval [start0, limit) on contig id that lie inside the regions, or outside
// them when complement is true.  The result follows the endpoint_index.go
// layout.
func (idx *Index) Pieces(dst []PosType, id int, start0, limit PosType, complement bool) []PosType {
	endpoints := idx.contigs[id].endpoints
	return intersectEndpoints(dst, endpoints, start0, limit, complement, NewEndpointIndex(start0, endpoints))
}

// PiecesFrom is Pieces for callers that visit non-decreasing start0 values
// on one contig, such as the blocks of one read.  *cursor keeps the endpoint
// search position between calls; it must be zero before the first call.
func (idx *Index) PiecesFrom(dst []PosType, cursor *EndpointIndex, id int, start0, limit PosType, complement bool) []PosType {
	endpoints := idx.contigs[id].endpoints
	cursor.Update(start0, endpoints)
	return intersectEndpoints(dst, endpoints, start0, limit, complement, *cursor)
}

// Mark sets bit (pos - start0) of bits for every pos in [start0, limit) on
// contig id that lies inside the regions, or outside them when complement is
// true.  It returns the number of bits set.
func (idx *Index) Mark(bits []uintptr, id int, start0, limit PosType, complement bool) int64 {
	var n int64
	pieces := idx.Pieces(nil, id, start0, limit, complement)
	for i := 0; i < len(pieces); i += 2 {
		for pos := pieces[i]; pos < pieces[i+1]; pos++ {
			bitset.Set(bits, int(pos-start0))
		}
		n += int64(pieces[i+1] - pieces[i])
	}
	return n
}
