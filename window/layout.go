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

package window

import (
	"fmt"
	"sort"

	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/base/errors"
)

// Layout is the partition of the absolute coordinate space [1, R] into
// windows.  Boundaries lie on the grid 1 + k*Size(), and a boundary is also
// forced at the first base of every contig, so no window spans two contigs.
// Layout is immutable and safe for concurrent use.
type Layout struct {
	mapper *coord.Mapper
	size   int64
	starts []int64
	ends   []int64
	contig []int
	// firstWindow[id] is the index of the first window of contig id.
	// firstWindow[NumContigs()] == Len().
	firstWindow []int
}

// NewLayout partitions the reference described by m into about numWindows
// windows of size ceil(R/numWindows).  The effective count, Len(), is larger
// when contig ends force extra boundaries.
func NewLayout(m *coord.Mapper, numWindows int) (*Layout, error) {
	refSize := m.TotalSize()
	if refSize <= 0 {
		return nil, errors.E(errors.Invalid, "window.NewLayout: reference is empty")
	}
	if numWindows <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("window.NewLayout: invalid window count %d", numWindows))
	}
	size := (refSize + int64(numWindows) - 1) / int64(numWindows)
	l := &Layout{
		mapper:      m,
		size:        size,
		firstWindow: make([]int, m.NumContigs()+1),
	}
	for _, c := range m.Contigs() {
		l.firstWindow[c.ID] = len(l.starts)
		for start := c.Offset + 1; start <= c.End(); start = ((start-1)/size+1)*size + 1 {
			l.starts = append(l.starts, start)
			l.contig = append(l.contig, c.ID)
		}
	}
	l.firstWindow[m.NumContigs()] = len(l.starts)
	l.ends = make([]int64, len(l.starts))
	for i := range l.starts {
		if i+1 < len(l.starts) {
			l.ends[i] = l.starts[i+1] - 1
		} else {
			l.ends[i] = refSize
		}
	}
	return l, nil
}

// Mapper returns the coordinate mapper the layout was built from.
func (l *Layout) Mapper() *coord.Mapper { return l.mapper }

// Size returns the nominal window size.
func (l *Layout) Size() int64 { return l.size }

// Len returns the effective number of windows.
func (l *Layout) Len() int { return len(l.starts) }

// Start returns the first absolute coordinate of window i.
func (l *Layout) Start(i int) int64 { return l.starts[i] }

// End returns the last absolute coordinate of window i (inclusive).
func (l *Layout) End(i int) int64 { return l.ends[i] }

// Contig returns the ID of the contig containing window i.
func (l *Layout) Contig(i int) int { return l.contig[i] }

// ContigWindows returns the half-open range of window indexes covering contig
// id.  The range is empty for zero-length contigs.
func (l *Layout) ContigWindows(id int) (first, limit int) {
	return l.firstWindow[id], l.firstWindow[id+1]
}

// Find returns the index of the window containing the absolute coordinate pos,
// or -1 if pos is outside [1, R].
func (l *Layout) Find(pos int64) int {
	if pos < 1 || pos > l.mapper.TotalSize() {
		return -1
	}
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > pos }) - 1
}

// FindFrom is Find for callers visiting positions in nondecreasing order.  hint
// is the index returned for a previous position not after pos.
func (l *Layout) FindFrom(pos int64, hint int) int {
	if hint < 0 || hint >= len(l.starts) || l.starts[hint] > pos {
		return l.Find(pos)
	}
	if pos > l.mapper.TotalSize() {
		return -1
	}
	// Exponential search for the first start > pos.
	lo, step := hint+1, 1
	hi := lo
	for hi < len(l.starts) && l.starts[hi] <= pos {
		lo = hi + 1
		hi += step
		step *= 2
	}
	if hi > len(l.starts) {
		hi = len(l.starts)
	}
	return lo + sort.Search(hi-lo, func(i int) bool { return l.starts[lo+i] > pos }) - 1
}
