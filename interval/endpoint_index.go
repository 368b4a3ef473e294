package interval

import (
	"math"
	"sort"
)

// An interval-union over one contig is stored as a sorted []PosType of
// endpoints.  Interval #k is [endpoints[2k], endpoints[2k+1]), 0-based and
// half-open, and consecutive intervals neither overlap nor touch.  For example,
// the regions
//   [5, 15)
//   [7, 17)
//   [20, 25)
// are stored as {5, 17, 20, 25}.
//
// The odd/even parity of SearchPosTypes(endpoints, pos+1) tells whether pos is
// inside an interval; EndpointIndex wraps that convention.

// PosType is the type used to represent contig-local coordinates.  int32 is
// what BAM is limited to.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// SearchPosTypes returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).
func SearchPosTypes(a []PosType, x PosType) EndpointIndex {
	return EndpointIndex(sort.Search(len(a), func(i int) bool { return a[i] >= x }))
}

// ExpsearchPosType performs exponential search starting from idx, checking
// a[idx], a[idx+1], a[idx+3], a[idx+7], ..., and finishing with binary search.
// It beats SearchPosTypes when positions are visited in increasing order.
func ExpsearchPosType(a []PosType, x PosType, idx EndpointIndex) EndpointIndex {
	nextIncr := EndpointIndex(1)
	startIdx := idx
	endIdx := EndpointIndex(len(a))
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	for startIdx < endIdx {
		midIdx := EndpointIndex((uint(startIdx) + uint(endIdx)) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// EndpointIndex is the result of SearchPosTypes(endpoints, pos+1).
// NOTE THE "+1": it lines the search up with left-closed right-open intervals.
type EndpointIndex uint32

// NewEndpointIndex returns SearchPosTypes(endpoints, pos+1).
func NewEndpointIndex(pos PosType, endpoints []PosType) EndpointIndex {
	return SearchPosTypes(endpoints, pos+1)
}

// Contained returns whether the position is inside an interval.
func (ei EndpointIndex) Contained() bool {
	return ei&1 != 0
}

// Update moves the EndpointIndex forward to newPos, which must not be smaller
// than the previous position.
func (ei *EndpointIndex) Update(newPos PosType, endpoints []PosType) {
	*ei = ExpsearchPosType(endpoints, newPos+1, *ei)
}

// intersectEndpoints appends to dst the endpoints of the intersection of
// [start, limit) with the interval-union, or with its complement when
// complement is true.  ei must equal NewEndpointIndex(start, endpoints).
func intersectEndpoints(dst, endpoints []PosType, start, limit PosType, complement bool, ei EndpointIndex) []PosType {
	if start >= limit {
		return dst
	}
	// inside tracks whether pos is in a selected stretch.
	inside := ei.Contained() != complement
	pos := start
	for pos < limit {
		var next PosType = limit
		if int(ei) < len(endpoints) && endpoints[ei] < limit {
			next = endpoints[ei]
		}
		if inside && next > pos {
			dst = append(dst, pos, next)
		}
		if next == limit {
			break
		}
		pos = next
		ei++
		inside = !inside
	}
	return dst
}
