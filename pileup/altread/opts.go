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
package altread

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/grailbio/base/file"
	"github.com/grailbio/evidence/pileup"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Opts holds the user-facing options of Collect.  Field names double as the
// keys of the YAML options file.
type Opts struct {
	BedPath      string `yaml:"bed"`
	Region       string `yaml:"region"`
	BamIndexPath string `yaml:"bam-index"`
	FeaturesPath string `yaml:"features"`
	Cols         string `yaml:"cols"`
	EventWindow  int    `yaml:"event-window"`
	FlagExclude  int    `yaml:"flag-exclude"`
	Flank        int    `yaml:"flank"`
	Format       string `yaml:"format"`
	Mapq         int    `yaml:"mapq"`
	MaxReadSpan  int    `yaml:"max-read-span"`
	MinBaseQual  int    `yaml:"min-base-qual"`
	Parallelism  int    `yaml:"parallelism"`
	ShardSize    int    `yaml:"shard-size"`
	TempDir      string `yaml:"temp-dir"`
}

// DefaultOpts are the option values used when neither a flag nor the options
// file sets them.
var DefaultOpts = Opts{
	EventWindow: 0,
	// unmapped, secondary, qcfail, dup, supplementary
	FlagExclude: 0xf04,
	Flank:       10,
	Format:      "tsv",
	Mapq:        20,
	MaxReadSpan: 1 << 20,
	MinBaseQual: 13,
	Parallelism: 0,
	ShardSize:   1 << 22,
}

// LoadOpts overlays the YAML options file at path onto opts.  Unknown keys
// are an error.
func LoadOpts(ctx context.Context, path string, opts *Opts) (err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var data []byte
	if data, err = ioutil.ReadAll(in.Reader(ctx)); err != nil {
		return errors.Wrapf(err, "altread.LoadOpts: reading %s", path)
	}
	if err = yaml.UnmarshalStrict(data, opts); err != nil {
		return errors.Wrapf(err, "altread.LoadOpts: parsing %s", path)
	}
	return
}

type outputFormat int

const (
	formatTSV outputFormat = iota
	formatTSVBgz
	formatRio
)

var formatNames = map[string]outputFormat{
	"tsv":     formatTSV,
	"tsv-bgz": formatTSVBgz,
	"rio":     formatRio,
}

// These constants refer to the optional output column-sets.
//   Context   = CORE_START, CORE_END and CORE: the merged core window,
//               relative to the anchor base, and its bases.
//   Region    = REGION, the best feature match of the supporting reads.
//   Secondary = DIGEST, plus one extra line per conflicting context.
//   Excluded  = EXCLUDED, reads at the position whose context could not be
//               built.
const (
	colBitContext = 1 << iota
	colBitRegion
	colBitSecondary
	colBitExcluded
)

const colBitsetDefault = colBitContext | colBitSecondary | colBitExcluded

var colNameMap = map[string]int{
	"context":   colBitContext,
	"region":    colBitRegion,
	"secondary": colBitSecondary,
	"excluded":  colBitExcluded,
}

// ParseCols parses a -cols argument.
func ParseCols(cols string) (int, error) {
	return pileup.ParseCols(cols, colNameMap, colBitsetDefault)
}

// collectOpts is the validated form of Opts.
type collectOpts struct {
	colBitset   int
	eventWindow int
	flagExclude int
	flank       int
	format      outputFormat
	mapq        int
	maxReadSpan int
	minBaseQual int
	parallelism int
	shardSize   int
	tempDir     string
}

func validateOpts(rawOpts *Opts) (opts collectOpts, err error) {
	var ok bool
	if opts.format, ok = formatNames[rawOpts.Format]; !ok {
		err = fmt.Errorf("altread: unrecognized format %q", rawOpts.Format)
		return
	}
	if opts.colBitset, err = ParseCols(rawOpts.Cols); err != nil {
		return
	}
	if rawOpts.Flank < 0 {
		err = fmt.Errorf("altread: negative flank %d", rawOpts.Flank)
		return
	}
	if rawOpts.EventWindow < 0 {
		err = fmt.Errorf("altread: negative event-window %d", rawOpts.EventWindow)
		return
	}
	if rawOpts.ShardSize <= 0 {
		err = fmt.Errorf("altread: shard-size must be positive")
		return
	}
	if rawOpts.MinBaseQual < 0 || rawOpts.MinBaseQual > 93 {
		err = fmt.Errorf("altread: min-base-qual must be in [0, 93]")
		return
	}
	opts.eventWindow = rawOpts.EventWindow
	opts.flagExclude = rawOpts.FlagExclude
	opts.flank = rawOpts.Flank
	opts.mapq = rawOpts.Mapq
	opts.maxReadSpan = rawOpts.MaxReadSpan
	opts.minBaseQual = rawOpts.MinBaseQual
	opts.parallelism = rawOpts.Parallelism
	opts.shardSize = rawOpts.ShardSize
	opts.tempDir = rawOpts.TempDir
	return
}
