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
	"fmt"
	"runtime"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/bamqc/bamqc"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

func newCmdRoot() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "bio-bamqc",
		Short:    "Compute windowed QC statistics of a sorted BAM or SAM file",
		ArgsName: "path",
		LookPath: false,
	}
	d := bamqc.DefaultOpts
	flags := qcFlags{
		outDir:         cmd.Flags.String("outdir", "bamqc", "Directory to write the reports to"),
		compression:    cmd.Flags.String("compression", "", `Suffix, and codec, of the tabular reports: "", ".gz" or ".sz"`),
		referencePath:  cmd.Flags.String("reference", "", "FASTA reference, optionally gzipped. Enables mismatch counts and reference-based homopolymer detection"),
		regionsPath:    cmd.Flags.String("regions", "", "BED or GFF/GTF file of regions to restrict the statistics to"),
		region:         cmd.Flags.String("region", "", "Comma-separated list of regions, as chr, chr:pos or chr:start-end; alternative to -regions"),
		outsideStats:   cmd.Flags.Bool("outside-stats", false, "Also compute statistics outside the regions"),
		numWindows:     cmd.Flags.Int("windows", d.NumWindows, "Number of windows to split the reference into"),
		parallelism:    cmd.Flags.Int("parallelism", 0, "Number of bunch workers; 0 = runtime.NumCPU()"),
		bamParallelism: cmd.Flags.Int("bam-parallelism", 1, "Number of BGZF decompression goroutines"),
		bunchSize:      cmd.Flags.Int("bunch-size", d.BunchSize, "Number of records per worker task"),
		queueSize:      cmd.Flags.Int("queue-size", d.MaxQueueSize, "Maximum number of in-flight worker tasks"),
		duplicates:     cmd.Flags.String("duplicates", d.DuplicateMode.String(), `Duplicates to skip: "none", "flagged", "estimated" or "both"`),
		protocol:       cmd.Flags.String("protocol", d.Protocol.String(), `Library protocol: "non-strand-specific", "strand-specific-forward" or "strand-specific-reverse"`),
		homopolymer:    cmd.Flags.Int("homopolymer-size", d.MinHomopolymerSize, "Minimum base run length for an indel to count as a homopolymer indel"),
		overlapping:    cmd.Flags.Bool("overlapping-pairs", false, "Count read pairs whose mates overlap"),
		coveragePath:   cmd.Flags.String("coverage", "", "If set, write per-position coverage to this path.  With -outside-stats, outside coverage goes to outside_ plus its file name"),
		nonZeroOnly:    cmd.Flags.Bool("coverage-nonzero", false, "Leave positions without coverage out of -coverage"),
		profile:        cmd.Flags.String("profile", "", `Write a "cpu" or "mem" profile to -outdir`),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("bio-bamqc takes one pathname argument, but got %v", argv)
		}
		if *flags.parallelism <= 0 {
			*flags.parallelism = runtime.NumCPU()
		}
		return runQC(vcontext.Background(), flags, argv[0])
	})
	return cmd
}

func main() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(newCmdRoot())
}
