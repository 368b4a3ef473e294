package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

func isHeaderLine(line []byte) bool {
	return len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser"))
}

func parsePos(token []byte, lineIdx int) (PosType, error) {
	v, err := strconv.Atoi(gunsafe.BytesToString(token))
	if err != nil {
		return 0, fmt.Errorf("line %d: %v", lineIdx, err)
	}
	if v < 0 || v >= PosTypeMax {
		return 0, fmt.Errorf("line %d: coordinate %d out of range", lineIdx, v)
	}
	return PosType(v), nil
}

// ReadBED reads regions from a BED stream.  BED coordinates are 0-based and
// half-open; the returned regions are 1-based and closed.  The optional sixth
// column supplies the strand.  Empty intervals are dropped.
func ReadBED(r io.Reader) ([]Region, error) {
	scanner := bufio.NewScanner(r)
	var (
		regions []Region
		tokens  [6][]byte
		lineIdx int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if isHeaderLine(curLine) {
			continue
		}
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken < 3 {
			return nil, fmt.Errorf("interval.ReadBED: line %d has fewer tokens than expected", lineIdx)
		}
		start0, err := parsePos(tokens[1], lineIdx)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadBED: %v", err)
		}
		end, err := parsePos(tokens[2], lineIdx)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadBED: %v", err)
		}
		if end < start0 {
			return nil, fmt.Errorf("interval.ReadBED: invalid coordinate pair on line %d", lineIdx)
		}
		if end == start0 {
			continue
		}
		reg := Region{Contig: string(tokens[0]), Start: start0 + 1, End: end}
		if nToken == 6 {
			reg.Strand = ParseStrand(gunsafe.BytesToString(tokens[5]))
		}
		regions = append(regions, reg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// ReadGFF reads regions from a GFF or GTF stream.  Columns are tab separated;
// the 4th and 5th columns are the 1-based closed coordinates and the 7th is the
// strand.
func ReadGFF(r io.Reader) ([]Region, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	var (
		regions []Region
		lineIdx int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if isHeaderLine(curLine) {
			continue
		}
		cols := bytes.SplitN(curLine, []byte{'\t'}, 8)
		if len(cols) < 7 {
			return nil, fmt.Errorf("interval.ReadGFF: line %d has %d columns, expected at least 7", lineIdx, len(cols))
		}
		start, err := parsePos(cols[3], lineIdx)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadGFF: %v", err)
		}
		end, err := parsePos(cols[4], lineIdx)
		if err != nil {
			return nil, fmt.Errorf("interval.ReadGFF: %v", err)
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("interval.ReadGFF: invalid coordinate pair on line %d", lineIdx)
		}
		regions = append(regions, Region{
			Contig: string(cols[0]),
			Start:  start,
			End:    end,
			Strand: ParseStrand(gunsafe.BytesToString(cols[6])),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// FileType is a region file format.
type FileType int

const (
	// UnknownFile is an unrecognized format.
	UnknownFile FileType = iota
	// BEDFile is a BED file.
	BEDFile
	// GFFFile is a GFF or GTF file.
	GFFFile
)

// GuessFileType infers the region file format from the path extension.  A
// trailing ".gz" is ignored.
func GuessFileType(path string) FileType {
	path = strings.TrimSuffix(path, ".gz")
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bed":
		return BEDFile
	case ".gff", ".gff3", ".gtf":
		return GFFFile
	}
	return UnknownFile
}

// LoadRegions reads a BED or GFF/GTF file, optionally gzipped.  path may be any
// path supported by grailbio/base/file.
func LoadRegions(ctx context.Context, path string) (regions []Region, err error) {
	ftype := GuessFileType(path)
	if ftype == UnknownFile {
		return nil, fmt.Errorf("interval.LoadRegions: %s: unknown region file format, expected .bed, .gff, .gff3 or .gtf", path)
	}
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer gz.Close()
		reader = gz
	}
	if ftype == BEDFile {
		regions, err = ReadBED(reader)
	} else {
		regions, err = ReadGFF(reader)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	log.Printf("%s: loaded %d region(s)", path, len(regions))
	return
}
