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
package cmd

import (
	"flag"
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/fiber/pipeline"
	"v.io/x/lib/cmdline"
)

// addEngineFlags registers the flags shared by all subcommands.
func addEngineFlags(fs *flag.FlagSet, opts *pipeline.Opts) {
	fs.IntVar(&opts.Parallelism, "parallelism", 0, "Number of worker goroutines; 0 = runtime.NumCPU()")
	fs.IntVar(&opts.BatchSize, "batch-size", pipeline.DefaultOpts.BatchSize, "Number of records per unit of work")
	fs.IntVar(&opts.QueueLength, "queue-length", pipeline.DefaultOpts.QueueLength, "Maximum number of finished batches waiting to be written")
	fs.IntVar(&opts.Caller.MinModProb, "min-ml", pipeline.DefaultOpts.Caller.MinModProb, "Minimum ML probability (0-255) of an m6A call")
}

func newCmdNucleosomes() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "nucleosomes",
		Short:    "Call nucleosomes and accessible stretches and add them as BAM tags",
		ArgsName: "inpath outpath",
		Long: `
Reads every fiber of inpath, calls nucleosomes from its m6A marks, and writes
the records to outpath in input order with four new B:I tags:

  ns, nl: nucleosome starts and lengths
  as, al: accessible stretch starts and lengths

Coordinates are 0-based and in the orientation the molecule was sequenced in.
Records without m6A calls are written unchanged.`,
	}
	opts := pipeline.DefaultOpts
	addEngineFlags(&cmd.Flags, &opts)
	cmd.Flags.StringVar(&opts.ModelPath, "model", "", "HMM JSON file (optionally gzipped). If empty, only the gap caller runs")
	cmd.Flags.IntVar(&opts.Caller.Cutoff, "cutoff", opts.Caller.Cutoff, "Minimum nucleosome size")
	cmd.Flags.IntVar(&opts.Caller.ShortGapMin, "short-gap-min", opts.Caller.ShortGapMin, "Smallest gap merged with its neighbors")
	cmd.Flags.IntVar(&opts.Caller.ShortGapMax, "short-gap-max", opts.Caller.ShortGapMax, "Largest gap merged with its neighbors")
	cmd.Flags.IntVar(&opts.Caller.MinCalls, "min-calls", opts.Caller.MinCalls, "Fibers with fewer m6A calls only get bookends")
	cmd.Flags.BoolVar(&opts.Caller.Bookends, "bookends", opts.Caller.Bookends, "Add synthetic calls at the fiber ends")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("nucleosomes takes inpath outpath, but got %v", argv)
		}
		opts.Input, opts.Output = argv[0], argv[1]
		_, err := pipeline.AddNucleosomes(vcontext.Background(), opts)
		return err
	})
	return cmd
}

func newCmdM6A() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "m6a",
		Short:    "Add m6A calls from a table to the MM/ML tags of a BAM file",
		ArgsName: "inpath calls outpath",
		Long: `
Reads a tab-separated table with a "read" and a "pos" column, one m6A call per
row, and writes the records of inpath to outpath in input order with the calls
appended to their MM/ML tags. Positions are 0-based and in the orientation the
molecule was sequenced in. Lines starting with # are ignored. The table may be
gzipped.`,
	}
	opts := pipeline.DefaultOpts
	addEngineFlags(&cmd.Flags, &opts)
	cmd.Flags.IntVar(&opts.MinM6ACalls, "min-calls", opts.MinM6ACalls, "Fibers with fewer calls are written unchanged")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("m6a takes inpath calls outpath, but got %v", argv)
		}
		opts.Input, opts.CallsPath, opts.Output = argv[0], argv[1], argv[2]
		_, err := pipeline.AddM6A(vcontext.Background(), opts)
		return err
	})
	return cmd
}

func newCmdExtract() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "extract",
		Short:    "Write nucleosome, MSP, m6A and CpG tracks as BED12",
		ArgsName: "inpath",
		Long: `
Reads a BAM file tagged by "nucleosomes" and writes one BED12 line per fiber
and track. Outputs ending in .gz or .bgz are block-gzipped. Without
-reference, each fiber is its own chromosome named after the read.`,
	}
	opts := pipeline.DefaultOpts
	addEngineFlags(&cmd.Flags, &opts)
	cmd.Flags.StringVar(&opts.NucPath, "nuc", "", "Nucleosome BED12 output path")
	cmd.Flags.StringVar(&opts.MSPPath, "msp", "", "Accessible stretch BED12 output path")
	cmd.Flags.StringVar(&opts.M6APath, "m6a", "", "m6A BED12 output path")
	cmd.Flags.StringVar(&opts.CpGPath, "cpg", "", "5mC BED12 output path")
	cmd.Flags.BoolVar(&opts.Reference, "reference", false, "Report reference coordinates; unmapped fibers are skipped")
	cmd.Flags.StringVar(&opts.Region, "region", "", "Only fibers overlapping this region, as <contig>:<1-based first>-<last>; requires -reference")
	cmd.Flags.IntVar(&opts.MinMapQ, "mapq", 0, "Fibers with MAPQ below this level are skipped in reference mode")
	cmd.Flags.BoolVar(&opts.Gzip, "gzip", false, "Compress .gz outputs with plain gzip instead of bgzf")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("extract takes one pathname argument, but got %v", argv)
		}
		if opts.NucPath == "" && opts.MSPPath == "" && opts.M6APath == "" && opts.CpGPath == "" {
			return fmt.Errorf("extract: at least one of -nuc, -msp, -m6a, -cpg is required")
		}
		opts.Input = argv[0]
		_, err := pipeline.Extract(vcontext.Background(), opts)
		return err
	})
	return cmd
}

func newCmdStats() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "stats",
		Short:    "Summarize the nucleosome tags of a BAM file",
		ArgsName: "path",
	}
	opts := pipeline.DefaultOpts
	addEngineFlags(&cmd.Flags, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("stats takes one pathname argument, but got %v", argv)
		}
		summary, err := pipeline.Stats(vcontext.Background(), argv[0], opts)
		if err != nil {
			return err
		}
		return summary.Report(env.Stdout)
	})
	return cmd
}

// Run runs the bio-fiber command line.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-fiber",
			Short:    "Nucleosome calling on single-molecule m6A data",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdM6A(),
				newCmdNucleosomes(),
				newCmdExtract(),
				newCmdStats(),
			},
		})
}
