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

package main

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/bamqc/bamqc"
	"github.com/grailbio/bamqc/coord"
	"github.com/grailbio/bamqc/encoding/bamprovider"
	"github.com/grailbio/bamqc/encoding/fasta"
	"github.com/grailbio/bamqc/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/pkg/profile"
	"golang.org/x/sys/unix"
)

type qcFlags struct {
	outDir         *string
	compression    *string
	referencePath  *string
	regionsPath    *string
	region         *string
	outsideStats   *bool
	numWindows     *int
	parallelism    *int
	bamParallelism *int
	bunchSize      *int
	queueSize      *int
	duplicates     *string
	protocol       *string
	homopolymer    *int
	overlapping    *bool
	coveragePath   *string
	nonZeroOnly    *bool
	profile        *string
}

func (f qcFlags) opts() (bamqc.Opts, error) {
	opts := bamqc.DefaultOpts
	opts.NumWindows = *f.numWindows
	opts.Parallelism = *f.parallelism
	opts.BunchSize = *f.bunchSize
	opts.MaxQueueSize = *f.queueSize
	opts.MinHomopolymerSize = *f.homopolymer
	opts.CollectOverlappingPairs = *f.overlapping
	opts.OutsideStats = *f.outsideStats
	var err error
	if opts.DuplicateMode, err = bamqc.ParseDuplicateMode(*f.duplicates); err != nil {
		return opts, err
	}
	if opts.Protocol, err = bamqc.ParseProtocol(*f.protocol); err != nil {
		return opts, err
	}
	switch *f.compression {
	case "", ".gz", ".sz":
	default:
		return opts, errors.E(errors.Invalid, "-compression must be empty, .gz or .sz")
	}
	return opts, nil
}

// loadRegions reads -regions and -region.
func loadRegions(ctx context.Context, f qcFlags) ([]interval.Region, error) {
	if *f.regionsPath != "" && *f.region != "" {
		return nil, errors.E(errors.Invalid, "-regions and -region are mutually exclusive")
	}
	if *f.regionsPath != "" {
		return interval.LoadRegions(ctx, *f.regionsPath)
	}
	if *f.region == "" {
		return nil, nil
	}
	var regions []interval.Region
	for _, s := range strings.Split(*f.region, ",") {
		r, err := interval.ParseRegionString(s)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func loadReference(ctx context.Context, path string, m *coord.Mapper) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	fa, err := fasta.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return fasta.Concat(fa, m.Contigs())
}

func runQC(ctx context.Context, f qcFlags, path string) (err error) {
	if !strings.Contains(*f.outDir, "://") {
		if err := os.MkdirAll(*f.outDir, 0755); err != nil {
			return err
		}
	}
	switch *f.profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*f.outDir)).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(*f.outDir)).Stop()
	default:
		return errors.E(errors.Invalid, "-profile must be cpu or mem")
	}
	opts, err := f.opts()
	if err != nil {
		return err
	}
	if opts.Regions, err = loadRegions(ctx, f); err != nil {
		return err
	}
	provider := bamprovider.NewProvider(path, bamprovider.ProviderOpts{Parallelism: *f.bamParallelism})
	defer func() {
		if cerr := provider.Close(); err == nil {
			err = cerr
		}
	}()
	header, err := provider.GetHeader()
	if err != nil {
		return err
	}
	mapper, err := coord.FromHeader(header)
	if err != nil {
		return err
	}
	if opts.Reference, err = loadReference(ctx, *f.referencePath, mapper); err != nil {
		return err
	}
	var writers []*bamqc.CoverageWriter
	if *f.coveragePath != "" {
		cw, err := bamqc.NewCoverageWriter(ctx, *f.coveragePath, mapper, *f.nonZeroOnly)
		if err != nil {
			return err
		}
		writers = append(writers, cw)
		opts.OnWindowFinalized = cw.Add
		if len(opts.Regions) > 0 && opts.OutsideStats {
			path := bamqc.OutsideCoveragePath(*f.coveragePath)
			ocw, err := bamqc.NewCoverageWriter(ctx, path, mapper, *f.nonZeroOnly)
			if err != nil {
				_ = cw.Close(ctx)
				return err
			}
			writers = append(writers, ocw)
			opts.OnOutsideWindowFinalized = ocw.Add
		}
	}
	res, err := bamqc.Run(ctx, provider, opts)
	for _, cw := range writers {
		if cerr := cw.Close(ctx); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Printf("warning: %s: %s", w.Name, w.Message)
	}
	if err := bamqc.WriteReports(ctx, *f.outDir, res, bamqc.ReportOpts{Compression: *f.compression, Input: path}); err != nil {
		return err
	}
	logPeakRSS()
	return nil
}

func logPeakRSS() {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		log.Error.Printf("getrusage: %v", err)
		return
	}
	log.Printf("peak RSS: %d MiB", ru.Maxrss>>10)
}
