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
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/evidence/pileup/altread"
	"v.io/x/lib/cmdline"
)

func newCmdCollect() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "collect",
		Short:    "Collect per-allele read-context evidence",
		ArgsName: "bampath fapath outprefix",
	}
	opts := altread.DefaultOpts
	fs := &cmd.Flags
	fs.StringVar(&opts.BedPath, "bed", opts.BedPath, "Input BED path; this xor -region required")
	fs.StringVar(&opts.Region, "region", opts.Region, "Restrict collection to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>; this xor -bed required")
	fs.StringVar(&opts.BamIndexPath, "index", opts.BamIndexPath, "Input BAM index path. Defaults to bampath + .bai")
	fs.StringVar(&opts.FeaturesPath, "features", opts.FeaturesPath, "Optional BED of exon features; enables the REGION column")
	fs.StringVar(&opts.Cols, "cols", opts.Cols, "Output TSV column sets. #CHROM/POS/REF/ALT/READS/QUAL/EVENTS are always present. Supported optional sets are 'context', 'region', 'secondary', and 'excluded'; default is \"context,secondary,excluded\"")
	fs.IntVar(&opts.EventWindow, "event-window", opts.EventWindow, "Count only the read's events within this many bases of the allele; 0 = whole read")
	fs.IntVar(&opts.FlagExclude, "flag-exclude", opts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	fs.IntVar(&opts.Flank, "flank", opts.Flank, "Number of read bases kept on each side of the allele core")
	fs.StringVar(&opts.Format, "format", opts.Format, "Output format; 'tsv', 'tsv-bgz', and 'rio' supported")
	fs.IntVar(&opts.Mapq, "mapq", opts.Mapq, "Reads with MAPQ below this level are skipped")
	fs.IntVar(&opts.MaxReadSpan, "max-read-span", opts.MaxReadSpan, "Upper bound on size of reference-genome region a read maps to")
	fs.IntVar(&opts.MinBaseQual, "min-base-qual", opts.MinBaseQual, "Lower bound on base quality of an allele")
	fs.IntVar(&opts.Parallelism, "parallelism", opts.Parallelism, "Maximum number of simultaneous (local) jobs to launch; 0 = runtime.NumCPU()")
	fs.IntVar(&opts.ShardSize, "shard-size", opts.ShardSize, "Size of the reference window processed by one shard")
	fs.StringVar(&opts.TempDir, "temp-dir", opts.TempDir, "Directory to write temporary files to (default os.TempDir())")
	configPath := fs.String("config", "", "Optional YAML options file; explicitly set flags override its values")

	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("collect takes bampath fapath outprefix, but got %v", argv)
		}
		ctx := vcontext.Background()
		if err := applyConfig(ctx, fs, *configPath, &opts); err != nil {
			return err
		}
		return altread.Collect(ctx, argv[0], argv[1], argv[2], &opts)
	})
	return cmd
}

// applyConfig loads the options file at path into opts, then restores the
// values of the flags that were set on the command line.
func applyConfig(ctx context.Context, fs *flag.FlagSet, path string, opts *altread.Opts) error {
	if path == "" {
		return nil
	}
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := altread.LoadOpts(ctx, path, opts); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func newCmdView() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "view",
		Short:    "Print an evidence rio file as TSV",
		ArgsName: "path",
	}
	cols := cmd.Flags.String("cols", altread.DefaultOpts.Cols, "Output TSV column sets, as in 'collect -cols'")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("view takes one pathname argument, but got %v", argv)
		}
		w := bufio.NewWriter(os.Stdout)
		err := altread.View(vcontext.Background(), argv[0], w, *cols)
		if e := w.Flush(); e != nil && err == nil {
			err = e
		}
		return err
	})
	return cmd
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-altread",
			Short:    "Collect and view read-context evidence for non-reference alleles",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCollect(),
				newCmdView(),
			},
		})
}
