// Package fasta reads FASTA reference files.  FASTA files consist of a number
// of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Sequence names are the stretch of characters excluding spaces immediately
// after '>'.  Any text after a space is ignored, so '>chr1 A viral sequence'
// becomes 'chr1'.
package fasta

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/bamqc/coord"
	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB
)

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string][]byte
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.  Bases are upper-cased as they are read.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string][]byte)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var (
		seqName string
		seq     []byte
		started bool
	)
	store := func() error {
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("duplicate sequence %s", seqName)
		}
		f.seqs[seqName] = seq
		f.seqNames = append(f.seqNames, seqName)
		return nil
	}
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if started {
				if err := store(); err != nil {
					return nil, err
				}
			}
			fields := bytes.Fields(line[1:])
			if len(fields) == 0 {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name")
			}
			seqName, seq, started = string(fields[0]), nil, true
			continue
		}
		if !started {
			return nil, errors.Errorf("malformed FASTA file: sequence data before the first name")
		}
		seq = append(seq, bytes.ToUpper(line)...)
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	if started {
		if err := store(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Load reads the FASTA file at path, which may be gzip-compressed or an S3
// URL.
func Load(ctx context.Context, path string) (_ Fasta, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: gzip", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	f, err := New(r)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", fmt.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return string(s[start:end]), nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seq string) (uint64, error) {
	s, ok := f.seqs[seq]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seq)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}

// Concat returns the sequences of the given contigs joined in contig order, so
// that absolute coordinate p maps to byte p-1 of the result.  Every contig must
// be present in f with exactly the declared length; anything else is an
// errors.Invalid error.
func Concat(f Fasta, contigs []coord.Contig) ([]byte, error) {
	var total int64
	for _, c := range contigs {
		total += c.Length
	}
	out := make([]byte, 0, total)
	for _, c := range contigs {
		if c.Length == 0 {
			continue
		}
		n, err := f.Len(c.Name)
		if err != nil {
			return nil, gerrors.E(gerrors.Invalid, fmt.Sprintf("reference has no sequence for contig %s", c.Name), err)
		}
		if int64(n) != c.Length {
			return nil, gerrors.E(gerrors.Invalid,
				fmt.Sprintf("reference length mismatch for contig %s: alignment header says %d, reference has %d", c.Name, c.Length, n))
		}
		s, err := f.Get(c.Name, 0, n)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}
