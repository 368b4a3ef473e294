package bamprovider

import (
	"context"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// FileProvider implements Provider for BAM and SAM files.  The path may be an
// S3 URL if an "s3" file implementation is registered, in which case the data
// will be read from S3. Otherwise the data will be read from the local
// filesystem.
type FileProvider struct {
	// Path of the file. Must be nonempty.
	Path string
	// Type selects the decoder. Must be BAM or SAM.
	Type FileType
	// Parallelism is the BGZF decompression concurrency for BAM.
	Parallelism int
	err         errors.Once

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

// recordReader is the part of bam.Reader and sam.Reader that iterators use.
type recordReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

type fileIterator struct {
	provider *FileProvider
	in       file.File
	reader   recordReader
	// closer is non-nil for decoders that hold goroutines.
	closer io.Closer
	err    error
	rec    *sam.Record
	closed bool
}

func (b *FileProvider) open(ctx context.Context) (file.File, recordReader, io.Closer, error) {
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	switch b.Type {
	case SAM:
		r, err := sam.NewReader(in.Reader(ctx))
		if err != nil {
			_ = in.Close(ctx)
			return nil, nil, nil, err
		}
		return in, r, nil, nil
	default:
		rd := b.Parallelism
		if rd <= 0 {
			rd = 1
		}
		r, err := bam.NewReader(in.Reader(ctx), rd)
		if err != nil {
			_ = in.Close(ctx)
			return nil, nil, nil, err
		}
		return in, r, r, nil
	}
}

// GetHeader implements the Provider interface.
func (b *FileProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	ctx := vcontext.Background()
	in, reader, closer, err := b.open(ctx)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	if closer != nil {
		defer closer.Close() // nolint: errcheck
	}
	defer in.Close(ctx) // nolint: errcheck
	b.header = reader.Header()
	return b.header, nil
}

// NewIterator implements the Provider interface.
func (b *FileProvider) NewIterator() Iterator {
	ctx := vcontext.Background()
	in, reader, closer, err := b.open(ctx)
	if err != nil {
		b.err.Set(err)
		return NewErrorIterator(err)
	}
	b.mu.Lock()
	b.nActive++
	if b.header == nil {
		b.header = reader.Header()
	}
	b.mu.Unlock()
	return &fileIterator{provider: b, in: in, reader: reader, closer: closer}
}

// Close implements the Provider interface.
func (b *FileProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %s", b.nActive, b.Path)
	}
	return b.err.Err()
}

// Scan implements the Iterator interface.
func (i *fileIterator) Scan() bool {
	if i.closed {
		vlog.Fatal("Scan called on a closed iterator")
	}
	if i.err != nil {
		return false
	}
	i.rec, i.err = i.reader.Read()
	return i.err == nil
}

// Record implements the Iterator interface.
func (i *fileIterator) Record() *sam.Record { return i.rec }

// Err implements the Iterator interface.
func (i *fileIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *fileIterator) Close() error {
	if i.closed {
		vlog.Fatal("iterator closed twice")
	}
	i.closed = true
	err := i.Err()
	p := i.provider
	p.err.Set(err)
	if i.closer != nil {
		p.err.Set(i.closer.Close())
	}
	if i.in != nil {
		p.err.Set(i.in.Close(vcontext.Background()))
	}
	p.mu.Lock()
	p.nActive--
	if p.nActive < 0 {
		vlog.Fatalf("Negative active count for %s", p.Path)
	}
	p.mu.Unlock()
	return err
}

// errorIterator yields nothing and reports a fixed error.
type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("errorIterator has no records") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator creates an Iterator that yields no record and returns "err"
// in Err and Close.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}
