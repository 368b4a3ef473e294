// Package coord maps per-contig positions onto a single linear coordinate
// space.  Contigs are laid end to end in header order, so the absolute
// coordinate of the 1-based local position p on contig c is
// Offset(c) + p, where Offset(c) is the total length of all contigs declared
// before c.  Absolute coordinates are therefore 1-based as well, and the last
// base of the last contig has coordinate TotalSize().
package coord

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Contig describes one reference sequence.
type Contig struct {
	Name string
	// ID is the index of the contig in declaration order.  It matches
	// sam.Reference.ID() when the Mapper is built from a header.
	ID     int
	Length int64
	// Offset is the absolute coordinate of the base just before the first base
	// of this contig.
	Offset int64
}

// End returns the absolute coordinate of the last base of the contig.
func (c Contig) End() int64 { return c.Offset + c.Length }

// UnknownContigError is returned when a contig name is not in the dictionary.
type UnknownContigError struct {
	Name string
}

func (e *UnknownContigError) Error() string {
	return fmt.Sprintf("unknown contig %q", e.Name)
}

// Mapper converts between (contig, local position) pairs and absolute
// coordinates.  It is immutable after construction and safe for concurrent use.
type Mapper struct {
	contigs []Contig
	byName  map[string]int
	total   int64
}

// New creates a Mapper from contigs listed in declaration order.  Only Name and
// Length are consulted; ID and Offset are recomputed.
func New(contigs []Contig) (*Mapper, error) {
	m := &Mapper{
		contigs: make([]Contig, len(contigs)),
		byName:  make(map[string]int, len(contigs)),
	}
	for i, c := range contigs {
		if c.Length < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("contig %s: negative length %d", c.Name, c.Length))
		}
		if _, ok := m.byName[c.Name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("duplicate contig %s", c.Name))
		}
		m.byName[c.Name] = i
		m.contigs[i] = Contig{Name: c.Name, ID: i, Length: c.Length, Offset: m.total}
		m.total += c.Length
	}
	return m, nil
}

// FromHeader creates a Mapper from the reference dictionary of a SAM header.
func FromHeader(h *sam.Header) (*Mapper, error) {
	refs := h.Refs()
	contigs := make([]Contig, len(refs))
	for i, ref := range refs {
		contigs[i] = Contig{Name: ref.Name(), Length: int64(ref.Len())}
	}
	return New(contigs)
}

// TotalSize returns the sum of all contig lengths.
func (m *Mapper) TotalSize() int64 { return m.total }

// NumContigs returns the number of contigs.
func (m *Mapper) NumContigs() int { return len(m.contigs) }

// Contigs returns the contigs in declaration order.  The caller must not modify
// the result.
func (m *Mapper) Contigs() []Contig { return m.contigs }

// Contig returns the contig with the given ID.
func (m *Mapper) Contig(id int) Contig { return m.contigs[id] }

// ID returns the ID of the named contig.
func (m *Mapper) ID(name string) (int, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// Absolute returns the absolute coordinate of the 1-based localPos on the named
// contig.  localPos is not range-checked.
func (m *Mapper) Absolute(contig string, localPos int64) (int64, error) {
	id, ok := m.byName[contig]
	if !ok {
		return 0, &UnknownContigError{Name: contig}
	}
	return m.contigs[id].Offset + localPos, nil
}

// AbsoluteByID is Absolute for a contig given by ID.
func (m *Mapper) AbsoluteByID(id int, localPos int64) int64 {
	return m.contigs[id].Offset + localPos
}

// ContigFor returns the contig containing the absolute coordinate offset, along
// with the 1-based position within that contig.
func (m *Mapper) ContigFor(offset int64) (name string, rel int64, err error) {
	c, ok := m.contigAt(offset)
	if !ok {
		return "", 0, errors.E(errors.Invalid, fmt.Sprintf("offset %d outside [1, %d]", offset, m.total))
	}
	return c.Name, offset - c.Offset, nil
}

// ContigIDFor is ContigFor returning the contig ID, or -1 if offset is out of
// range.
func (m *Mapper) ContigIDFor(offset int64) int {
	c, ok := m.contigAt(offset)
	if !ok {
		return -1
	}
	return c.ID
}

func (m *Mapper) contigAt(offset int64) (Contig, bool) {
	if offset < 1 || offset > m.total {
		return Contig{}, false
	}
	// First contig whose last base is at or after offset.  Zero-length contigs
	// never match since offset > their Offset == End().
	i := sort.Search(len(m.contigs), func(i int) bool { return m.contigs[i].End() >= offset })
	return m.contigs[i], true
}
