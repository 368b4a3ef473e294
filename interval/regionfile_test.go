package interval

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

const testBED = `track name=test
# comment
chr1	2488103	2488172	a	0	+
chr1	2489164	2489273	b	0	-
chr1	2489781	2489781
chr2	99	200
`

const testGFF = `##gff-version 3
chr1	test	exon	2488104	2488172	.	+	.	ID=a;Name=exon a
chr1	test	exon	2489165	2489273	.	-	.	ID=b
chr2	test	gene	100	200	.	.	.	ID=c
`

var wantRegions = []Region{
	{Contig: "chr1", Start: 2488104, End: 2488172, Strand: StrandForward},
	{Contig: "chr1", Start: 2489165, End: 2489273, Strand: StrandReverse},
	{Contig: "chr2", Start: 100, End: 200},
}

func TestReadBED(t *testing.T) {
	regions, err := ReadBED(strings.NewReader(testBED))
	assert.NoError(t, err)
	expect.EQ(t, regions, wantRegions)

	_, err = ReadBED(strings.NewReader("chr1\t10\n"))
	expect.True(t, err != nil)
	_, err = ReadBED(strings.NewReader("chr1\t10\t5\n"))
	expect.True(t, err != nil)
}

func TestReadGFF(t *testing.T) {
	regions, err := ReadGFF(strings.NewReader(testGFF))
	assert.NoError(t, err)
	expect.EQ(t, regions, wantRegions)

	_, err = ReadGFF(strings.NewReader("chr1\ttest\texon\t0\t10\t.\t+\n"))
	expect.True(t, err != nil)
}

func TestGuessFileType(t *testing.T) {
	expect.EQ(t, GuessFileType("a.bed"), BEDFile)
	expect.EQ(t, GuessFileType("a.bed.gz"), BEDFile)
	expect.EQ(t, GuessFileType("s3://bucket/a.GTF"), GFFFile)
	expect.EQ(t, GuessFileType("a.gff3.gz"), GFFFile)
	expect.EQ(t, GuessFileType("a.txt"), UnknownFile)
}

func TestLoadRegions(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, "tempDir:", tempDir)

	ctx := context.Background()
	bedPath := filepath.Join(tempDir, "regions.bed")
	assert.NoError(t, ioutil.WriteFile(bedPath, []byte(testBED), 0644))
	regions, err := LoadRegions(ctx, bedPath)
	assert.NoError(t, err)
	expect.EQ(t, regions, wantRegions)

	gffPath := filepath.Join(tempDir, "regions.gff.gz")
	f, err := os.Create(gffPath)
	assert.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(testGFF))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, f.Close())
	regions, err = LoadRegions(ctx, gffPath)
	assert.NoError(t, err)
	expect.EQ(t, regions, wantRegions)

	_, err = LoadRegions(ctx, filepath.Join(tempDir, "regions.txt"))
	expect.True(t, err != nil)
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region string
		want   Region
	}{
		{"chr1:1-1000", Region{Contig: "chr1", Start: 1, End: 1000}},
		{"chr1:1,000-2,000", Region{Contig: "chr1", Start: 1000, End: 2000}},
		{"chr1:1000", Region{Contig: "chr1", Start: 1000, End: 1000}},
		{"chr1", Region{Contig: "chr1", Start: 1, End: PosTypeMax - 1}},
		{"HLA-A*01:01:01:01:1-10", Region{Contig: "HLA-A*01:01:01:01", Start: 1, End: 10}},
	}
	for _, tt := range tests {
		result, err := ParseRegionString(tt.region)
		expect.NoError(t, err)
		expect.EQ(t, result, tt.want)
	}
	for _, bad := range []string{"", ":1-10", "chr1:0-10", "chr1:10-5", "chr1:x"} {
		_, err := ParseRegionString(bad)
		expect.True(t, err != nil, bad)
	}
}
