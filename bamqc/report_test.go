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
	"bufio"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/bamqc/interval"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportRecords(header *sam.Header) []*sam.Record {
	c := header.Refs()[0]
	return []*sam.Record{
		newRecord("a", c, 0, 0, 30, cigar10M, seq10),
		newRecord("b", c, 5, 0, 30, cigar10M, seq10),
		newRecord("c", c, 500, 0, 30, cigar20M, seq10+seq10),
	}
}

func mustMapper(t *testing.T, header *sam.Header) *coord.Mapper {
	m, err := coord.FromHeader(header)
	require.NoError(t, err)
	return m
}

// readLines reads a possibly compressed text file.
func readLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint: errcheck
	var r io.Reader = f
	switch filepath.Ext(path) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		r = gz
	case ".sz":
		r = snappy.NewReader(f)
	}
	var lines []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	require.NoError(t, s.Err())
	return lines
}

func TestWriteReports(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	header := newHeader(t, false)
	opts := testOpts()
	opts.NumWindows = 4
	res := mustRun(t, header, reportRecords(header), opts)

	for _, comp := range []string{"", ".gz", ".sz"} {
		dir := filepath.Join(tempDir, "out"+comp)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, WriteReports(ctx, dir, res, ReportOpts{Compression: comp, Input: "test.bam"}))

		text, err := ioutil.ReadFile(filepath.Join(dir, GenomeResultsFile))
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(text), "BamQC report\n"), "got %q", text)
		assert.True(t, strings.HasSuffix(string(text), "\n"))
		assert.False(t, strings.HasSuffix(string(text), "\n\n"))
		for _, want := range []string{
			"number of mapped reads = 3",
			"input = test.bam",
			"number of windows = 4",
			"number of reads = 3",
			"mapped bases = 40 bp",
			"mean mapping quality = 30.0000",
			"GC percentage = 50.00%",
		} {
			assert.Contains(t, string(text), want)
		}
		assert.NotContains(t, string(text), "Outside")

		windows := readLines(t, filepath.Join(dir, WindowsFile+comp))
		require.Len(t, windows, 5)
		assert.True(t, strings.HasPrefix(windows[0], "#contig\t"))
		assert.Equal(t, "chr1\t1\t250\t250\t2\t20\t0.0800", strings.Join(strings.Split(windows[1], "\t")[:7], "\t"))
		assert.Equal(t, "chr1\t501\t750\t250\t1\t20", strings.Join(strings.Split(windows[3], "\t")[:6], "\t"))

		assert.Equal(t, []string{"#coverage\tpositions", "0\t965", "1\t30", "2\t5"},
			readLines(t, filepath.Join(dir, CoverageHistogramFile+comp)))
		assert.Equal(t, []string{"#mapping_quality\tpositions", "30\t35"},
			readLines(t, filepath.Join(dir, MappingQualityFile+comp)))
		chroms := readLines(t, filepath.Join(dir, ChromosomesFile+comp))
		require.Len(t, chroms, 2)
		assert.True(t, strings.HasPrefix(chroms[1], "chr1\t1000\t1000\t40\t0.0400\t"))
		assert.Len(t, readLines(t, filepath.Join(dir, DuplicationFile+comp)), maxReadStartsBin+1)
		assert.Len(t, readLines(t, filepath.Join(dir, InsertSizeHistogramFile+comp)), 1)
		gc := readLines(t, filepath.Join(dir, ReadGCFile+comp))
		require.Len(t, gc, readGCBins+1)
		assert.Equal(t, "50\t3", gc[51])
	}
}

func TestWriteReportsOutside(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	header := newHeader(t, false)
	opts := testOpts()
	opts.NumWindows = 1
	opts.Regions = []interval.Region{{Contig: "chr1", Start: 1, End: 100}}
	opts.OutsideStats = true
	res := mustRun(t, header, reportRecords(header), opts)
	require.NoError(t, WriteReports(vcontext.Background(), tempDir, res, ReportOpts{}))

	text, err := ioutil.ReadFile(filepath.Join(tempDir, GenomeResultsFile))
	require.NoError(t, err)
	assert.Contains(t, string(text), ">>>>>>> Inside")
	assert.Contains(t, string(text), ">>>>>>> Outside")
	assert.Equal(t, []string{"#coverage\tpositions", "0\t85", "1\t10", "2\t5"},
		readLines(t, filepath.Join(tempDir, CoverageHistogramFile)))
	assert.Equal(t, []string{"#coverage\tpositions", "0\t880", "1\t20"},
		readLines(t, filepath.Join(tempDir, "outside_"+CoverageHistogramFile)))
}

func TestCoverageWriter(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	header := newHeader(t, true)
	c1, c2 := header.Refs()[0], header.Refs()[1]
	recs := []*sam.Record{
		newRecord("a", c1, 0, 0, 30, cigar10M, seq10),
		newRecord("b", c1, 5, 0, 30, cigar10M, seq10),
		newRecord("c", c2, 495, 0, 30, cigar10M, seq10),
	}
	for _, nonZeroOnly := range []bool{false, true} {
		path := filepath.Join(tempDir, "coverage.tsv.gz")
		opts := testOpts()
		opts.NumWindows = 7
		cw, err := NewCoverageWriter(ctx, path, mustMapper(t, header), nonZeroOnly)
		require.NoError(t, err)
		opts.OnWindowFinalized = cw.Add
		_, err = run(t, header, recs, opts)
		require.NoError(t, err)
		require.NoError(t, cw.Close(ctx))

		lines := readLines(t, path)
		assert.Equal(t, "#contig\tpos\tcoverage", lines[0])
		if !nonZeroOnly {
			require.Len(t, lines, 1501)
			assert.Equal(t, "chr1\t1\t1", lines[1])
			assert.Equal(t, "chr1\t6\t2", lines[6])
			assert.Equal(t, "chr1\t16\t0", lines[16])
			assert.Equal(t, "chr2\t1\t0", lines[1001])
			assert.Equal(t, "chr2\t500\t1", lines[1500])
			continue
		}
		// Positions past the contig end are clipped.
		require.Len(t, lines, 1+15+5)
		assert.Equal(t, "chr1\t15\t1", lines[15])
		assert.Equal(t, "chr2\t496\t1", lines[16])
		assert.Equal(t, "chr2\t500\t1", lines[20])
	}
}

func TestOutsideCoveragePath(t *testing.T) {
	assert.Equal(t, "outside_cov.txt", OutsideCoveragePath("cov.txt"))
	assert.Equal(t, "/tmp/qc/outside_cov.tsv.gz", OutsideCoveragePath("/tmp/qc/cov.tsv.gz"))
	assert.Equal(t, "s3://bucket/qc/outside_cov.txt", OutsideCoveragePath("s3://bucket/qc/cov.txt"))
}

func TestOutsideCoverageWriter(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	header := newHeader(t, false)
	c := header.Refs()[0]
	recs := []*sam.Record{
		newRecord("in", c, 119, 0, 60, cigar10M, seq10),
		newRecord("out", c, 499, 0, 20, cigar10M, seq10),
	}
	opts := testOpts()
	opts.NumWindows = 1
	opts.Regions = []interval.Region{{Contig: "chr1", Start: 100, End: 200}}
	opts.OutsideStats = true

	path := filepath.Join(tempDir, "coverage.txt")
	mapper := mustMapper(t, header)
	cw, err := NewCoverageWriter(ctx, path, mapper, true)
	require.NoError(t, err)
	ocw, err := NewCoverageWriter(ctx, OutsideCoveragePath(path), mapper, true)
	require.NoError(t, err)
	opts.OnWindowFinalized = cw.Add
	opts.OnOutsideWindowFinalized = ocw.Add
	_, err = run(t, header, recs, opts)
	require.NoError(t, err)
	require.NoError(t, cw.Close(ctx))
	require.NoError(t, ocw.Close(ctx))

	lines := readLines(t, path)
	require.Len(t, lines, 11)
	assert.Equal(t, "chr1\t120\t1", lines[1])
	lines = readLines(t, filepath.Join(tempDir, "outside_coverage.txt"))
	require.Len(t, lines, 11)
	assert.Equal(t, "chr1\t500\t1", lines[1])
	assert.Equal(t, "chr1\t509\t1", lines[10])
}
