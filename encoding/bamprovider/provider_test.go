package bamprovider_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/bamqc/encoding/bamprovider"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

func newHeader(t *testing.T) *sam.Header {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	h, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	return h
}

func newRecord(t *testing.T, h *sam.Header, name string, pos int) *sam.Record {
	co := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 4)}
	r, err := sam.NewRecord(name, h.Refs()[0], nil, pos, -1, 0, 30, co, []byte("ACGT"), []byte{30, 30, 30, 30}, nil)
	require.NoError(t, err)
	return r
}

func readNames(t *testing.T, p bamprovider.Provider) []string {
	var names []string
	iter := p.NewIterator()
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	return names
}

func TestBAMProvider(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, "tempDir:", tmpDir)

	h := newHeader(t)
	path := filepath.Join(tmpDir, "test.bam")
	out, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(out, h, 1)
	require.NoError(t, err)
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, w.Write(newRecord(t, h, name, 10*i)))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	p := bamprovider.NewProvider(path, bamprovider.ProviderOpts{Parallelism: 2})
	got, err := p.GetHeader()
	require.NoError(t, err)
	require.Equal(t, 1, len(got.Refs()))
	require.Equal(t, "chr1", got.Refs()[0].Name())
	// Iterators are independent; the second pass sees every record again.
	require.Equal(t, []string{"a", "b", "c"}, readNames(t, p))
	require.Equal(t, []string{"a", "b", "c"}, readNames(t, p))
	require.NoError(t, p.Close())
}

func TestSAMProvider(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, "tempDir:", tmpDir)

	path := filepath.Join(tmpDir, "test.sam")
	text := "@HD\tVN:1.4\tSO:coordinate\n" +
		"@SQ\tSN:chr1\tLN:1000\n" +
		"r1\t0\tchr1\t10\t30\t4M\t*\t0\t0\tACGT\tIIII\n" +
		"r2\t16\tchr1\t20\t30\t4M\t*\t0\t0\tACGT\tIIII\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(text), 0644))

	p := bamprovider.NewProvider(path)
	require.Equal(t, []string{"r1", "r2"}, readNames(t, p))
	h, err := p.GetHeader()
	require.NoError(t, err)
	require.Equal(t, 1000, h.Refs()[0].Len())
	require.NoError(t, p.Close())
}

func TestMissingFile(t *testing.T) {
	p := bamprovider.NewProvider("/nonexistent/file.bam")
	_, err := p.GetHeader()
	require.Error(t, err)
	iter := p.NewIterator()
	require.False(t, iter.Scan())
	require.Error(t, iter.Err())
	require.Error(t, iter.Close())
	require.Error(t, p.Close())
}

func TestGuessFileType(t *testing.T) {
	require.Equal(t, bamprovider.BAM, bamprovider.GuessFileType("foo.bam"))
	require.Equal(t, bamprovider.SAM, bamprovider.GuessFileType("s3://bucket/foo.sam"))
	require.Equal(t, bamprovider.Unknown, bamprovider.GuessFileType("foo.cram"))
	require.Equal(t, bamprovider.SAM, bamprovider.ParseFileType("SAM"))
	require.Equal(t, "bam", bamprovider.BAM.String())
}

func TestFakeProvider(t *testing.T) {
	h := newHeader(t)
	recs := []*sam.Record{newRecord(t, h, "x", 0), newRecord(t, h, "y", 5)}
	require.Equal(t, []string{"x", "y"}, readNames(t, bamprovider.NewFakeProvider(h, recs)))

	failure := errors.New("truncated")
	p := bamprovider.NewFailingFakeProvider(h, recs, failure)
	iter := p.NewIterator()
	n := 0
	for iter.Scan() {
		n++
	}
	require.Equal(t, 2, n)
	require.Equal(t, failure, iter.Close())
}
