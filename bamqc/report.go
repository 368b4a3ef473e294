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
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/grailbio/bamqc/window"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// Report file names, relative to the output directory.  The tabular reports
// of the outside statistics carry an "outside_" prefix.
const (
	GenomeResultsFile       = "genome_results.txt"
	WindowsFile             = "windows.tsv"
	ChromosomesFile         = "chromosomes.tsv"
	CoverageHistogramFile   = "coverage_histogram.tsv"
	InsertSizeHistogramFile = "insert_size_histogram.tsv"
	MappingQualityFile      = "mapping_quality_histogram.tsv"
	DuplicationFile         = "duplication_histogram.tsv"
	ReadGCFile              = "read_gc_histogram.tsv"
)

// ReportOpts configures WriteReports.
type ReportOpts struct {
	// Compression is appended to the tabular file names and selects their
	// codec: "" for none, ".gz" for gzip, ".sz" for framed snappy.
	Compression string
	// Input is the name of the input shown in genome_results.txt.
	Input string
}

// reportFile is an output file with an optional compressor and a TSV writer
// on top.
type reportFile struct {
	f    file.File
	comp io.WriteCloser
	w    *tsv.Writer
}

func createReport(ctx context.Context, path string) (*reportFile, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &reportFile{f: f}
	out := f.Writer(ctx)
	switch {
	case strings.HasSuffix(path, ".gz"):
		r.comp = gzip.NewWriter(out)
	case strings.HasSuffix(path, ".sz"):
		r.comp = snappy.NewBufferedWriter(out)
	}
	if r.comp != nil {
		out = r.comp
	}
	r.w = tsv.NewWriter(out)
	return r, nil
}

func (r *reportFile) close(ctx context.Context) error {
	err := errors.Once{}
	err.Set(r.w.Flush())
	if r.comp != nil {
		err.Set(r.comp.Close())
	}
	err.Set(r.f.Close(ctx))
	return err.Err()
}

// writeReport creates path, runs fill and closes the file.
func writeReport(ctx context.Context, path string, fill func(w *tsv.Writer) error) (err error) {
	r, err := createReport(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.close(ctx); err == nil {
			err = cerr
		}
	}()
	return fill(r.w)
}

// joinPath appends name to dir.  Unlike filepath.Join it keeps the "//" of
// a URL scheme.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// WriteReports writes the result files of res into dir.
func WriteReports(ctx context.Context, dir string, res *Result, opts ReportOpts) error {
	if err := writeGenomeResults(ctx, joinPath(dir, GenomeResultsFile), res, opts); err != nil {
		return err
	}
	for _, s := range []*Stats{res.Genome, res.Outside} {
		if s == nil {
			continue
		}
		prefix := ""
		if s.Name == "outside" {
			prefix = "outside_"
		}
		path := func(name string) string { return joinPath(dir, prefix+name+opts.Compression) }
		writers := []struct {
			name string
			fill func(w *tsv.Writer) error
		}{
			{WindowsFile, func(w *tsv.Writer) error { return writeWindows(w, res, s) }},
			{ChromosomesFile, func(w *tsv.Writer) error { return writeChromosomes(w, s) }},
			{CoverageHistogramFile, func(w *tsv.Writer) error { return writeCoverageHistogram(w, s) }},
			{InsertSizeHistogramFile, func(w *tsv.Writer) error {
				return writeHistogram(w, "#insert_size\treads", s.InsertSizeHistogram)
			}},
			{MappingQualityFile, func(w *tsv.Writer) error {
				return writeHistogram(w, "#mapping_quality\tpositions", s.Descriptors.MappingQualityHistogram)
			}},
			{DuplicationFile, func(w *tsv.Writer) error { return writeDuplication(w, s) }},
			{ReadGCFile, func(w *tsv.Writer) error { return writeReadGC(w, s) }},
		}
		for _, wr := range writers {
			if err := writeReport(ctx, path(wr.name), wr.fill); err != nil {
				return errors.E(err, fmt.Sprintf("writing %s", path(wr.name)))
			}
		}
	}
	log.Printf("bamqc: reports written to %s", dir)
	return nil
}

func writeWindows(w *tsv.Writer, res *Result, s *Stats) error {
	w.WriteString("#contig\tstart\tend\teffective_size\treads\tmapped_bases\tmean_coverage\tstd_coverage\tmean_mapq\tgc\tmean_insert_size")
	if err := w.EndLine(); err != nil {
		return err
	}
	mapper := res.Layout.Mapper()
	for _, ws := range s.Windows {
		if ws == nil {
			continue
		}
		c := mapper.Contig(ws.ContigID)
		w.WriteString(c.Name)
		w.WriteInt64(ws.Start - c.Offset)
		w.WriteInt64(ws.End - c.Offset)
		w.WriteInt64(ws.EffectiveSize)
		w.WriteInt64(ws.Reads)
		w.WriteInt64(ws.MappedBases)
		w.WriteString(formatFloat(ws.MeanCoverage))
		w.WriteString(formatFloat(ws.StdCoverage))
		w.WriteString(formatFloat(ws.MeanMappingQuality))
		w.WriteString(formatFloat(ws.GCContent))
		w.WriteString(formatFloat(ws.MeanInsertSize))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeChromosomes(w *tsv.Writer, s *Stats) error {
	w.WriteString("#contig\tlength\teffective_size\tmapped_bases\tmean_coverage\tstd_coverage\tmean_mapq")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, c := range s.Chromosomes {
		w.WriteString(c.Name)
		w.WriteInt64(c.Length)
		w.WriteInt64(c.EffectiveSize)
		w.WriteInt64(c.MappedBases)
		w.WriteString(formatFloat(c.MeanCoverage))
		w.WriteString(formatFloat(c.StdCoverage))
		w.WriteString(formatFloat(c.MeanMappingQuality))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeCoverageHistogram(w *tsv.Writer, s *Stats) error {
	h := make(map[int64]int64, len(s.Descriptors.CoverageHistogram))
	for cov, n := range s.Descriptors.CoverageHistogram {
		h[int64(cov)] = n
	}
	return writeHistogram(w, "#coverage\tpositions", h)
}

func writeHistogram(w *tsv.Writer, header string, h map[int64]int64) error {
	w.WriteString(header)
	if err := w.EndLine(); err != nil {
		return err
	}
	keys := make([]int64, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		w.WriteInt64(k)
		w.WriteInt64(h[k])
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeDuplication(w *tsv.Writer, s *Stats) error {
	w.WriteString("#reads_per_start\tstarts")
	if err := w.EndLine(); err != nil {
		return err
	}
	for k := 1; k < len(s.ReadStartsHistogram); k++ {
		w.WriteInt64(int64(k))
		w.WriteInt64(s.ReadStartsHistogram[k])
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeReadGC(w *tsv.Writer, s *Stats) error {
	w.WriteString("#gc_percent\treads")
	if err := w.EndLine(); err != nil {
		return err
	}
	for pct, n := range s.ReadGCHistogram {
		w.WriteInt64(int64(pct))
		w.WriteInt64(n)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

// writeGenomeResults writes the human-readable summary.
func writeGenomeResults(ctx context.Context, path string, res *Result, opts ReportOpts) error {
	return writeReport(ctx, path, func(w *tsv.Writer) error {
		var b strings.Builder
		p := func(format string, args ...interface{}) { fmt.Fprintf(&b, format+"\n", args...) }
		p("BamQC report")
		p("-----------------------------------")
		p("")
		p("run id = %s", res.RunID)
		if opts.Input != "" {
			p("input = %s", opts.Input)
		}
		p("fingerprint = %016x", res.Fingerprint)
		p("")
		p(">>>>>>> Reference")
		p("")
		p("     number of bases = %d bp", res.Layout.Mapper().TotalSize())
		p("     number of contigs = %d", res.Layout.Mapper().NumContigs())
		p("     number of windows = %d", res.Layout.Len())
		p("")
		c := res.Counters
		p(">>>>>>> Globals")
		p("")
		p("     number of reads = %d", c.Reads)
		p("     number of secondary alignments = %d", c.SecondaryAlignments)
		p("     number of unmapped reads = %d", c.UnmappedReads)
		p("     number of problematic reads = %d", c.ProblematicReads)
		p("     number of duplicates skipped = %d", c.DuplicatesSkipped)
		if c.CorrectStrandReads > 0 {
			p("     number of correct strand reads = %d", c.CorrectStrandReads)
		}
		p("     read size min/max/mean = %d / %d / %.2f", c.MinReadSize, c.MaxReadSize, c.MeanReadSize)
		t := res.TotalFlags
		p("     number of mapped reads = %d", t.MappedReads)
		p("     number of mapped paired reads (first in pair) = %d", t.MappedFirstOfPair)
		p("     number of mapped paired reads (second in pair) = %d", t.MappedSecondOfPair)
		p("     number of mapped paired reads (both in pair) = %d", t.BothMatesMapped)
		p("     number of mapped paired reads (singletons) = %d", t.Singletons)
		p("     number of flagged duplicates = %d", t.FlaggedDuplicates)
		p("")
		for _, s := range []*Stats{res.Genome, res.Outside} {
			if s != nil {
				writeStatsText(p, s)
			}
		}
		if len(res.Warnings) > 0 {
			p(">>>>>>> Warnings")
			p("")
			for _, warn := range res.Warnings {
				p("     %s: %s", warn.Name, warn.Message)
			}
			p("")
		}
		w.WritePartialBytes([]byte(strings.TrimRight(b.String(), "\n")))
		return w.EndLine()
	})
}

func writeStatsText(p func(format string, args ...interface{}), s *Stats) {
	d := &s.Descriptors
	f := &s.Flags
	p(">>>>>>> %s", strings.Title(s.Name))
	p("")
	p("     reference size = %d bp", s.ReferenceSize)
	p("     mapped reads = %d", f.MappedReads)
	p("     paired reads = %d", f.PairedReads)
	p("     mapped first of pair = %d", f.MappedFirstOfPair)
	p("     mapped second of pair = %d", f.MappedSecondOfPair)
	p("     both mates mapped = %d", f.BothMatesMapped)
	p("     singletons = %d", f.Singletons)
	p("     supplementary alignments = %d", f.SupplementaryAlignments)
	p("     flagged duplicates = %d", f.FlaggedDuplicates)
	if f.OverlappingPairs > 0 {
		p("     overlapping read pairs = %d (%d bases)", f.OverlappingPairs, f.OverlappingBases)
	}
	p("     clipped reads = %d (%d bases)", s.ClippedReads, s.ClippedBases)
	p("     duplication rate = %.2f%%", d.DuplicationRate)
	p("")
	p("     mapped bases = %d bp", d.MappedBases)
	p("     mean coverage = %.4fX", d.MeanCoverage)
	p("     std coverage = %.4fX", d.StdCoverage)
	p("     median coverage = %.0fX", d.MedianCoverage)
	for _, k := range []int{1, 5, 10, 20, 30, 50} {
		p("     %.2f%% of reference with coverage >= %dX", d.CoverageQuotas[k-1], k)
	}
	p("     mean mapping quality = %.4f", d.MeanMappingQuality)
	p("     number of A's = %d", d.Bases[window.BaseA])
	p("     number of C's = %d", d.Bases[window.BaseC])
	p("     number of G's = %d", d.Bases[window.BaseG])
	p("     number of T's = %d", d.Bases[window.BaseT])
	p("     number of N's = %d", d.Bases[window.BaseN])
	p("     GC percentage = %.2f%%", d.GCPercent)
	p("     mean insert size = %.2f", d.MeanInsertSize)
	p("     median insert size = %.0f", d.MedianInsertSize)
	p("     std insert size = %.2f", d.StdInsertSize)
	p("     mismatches = %d (rate %.6f)", d.Mismatches, d.MismatchRate)
	p("     insertions = %d (rate %.6f)", d.Insertions, d.InsertionRate)
	p("     deletions = %d (rate %.6f)", d.Deletions, d.DeletionRate)
	p("     homopolymer indels = %.2f%%", 100*d.HomopolymerIndelFraction)
	p("")
}
