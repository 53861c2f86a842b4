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
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/evidence/interval"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestValidateOpts(t *testing.T) {
	opts, err := validateOpts(&DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, opts.format, formatTSV)
	expect.EQ(t, opts.colBitset, colBitsetDefault)
	expect.EQ(t, opts.flank, 10)
	expect.EQ(t, opts.minBaseQual, 13)

	for _, test := range []struct {
		patch func(o *Opts)
		want  string
	}{
		{func(o *Opts) { o.Format = "bam" }, "unrecognized format"},
		{func(o *Opts) { o.Cols = "context,+region" }, "either all terms"},
		{func(o *Opts) { o.Cols = "+depth" }, "depth not found"},
		{func(o *Opts) { o.Flank = -1 }, "negative flank"},
		{func(o *Opts) { o.EventWindow = -3 }, "negative event-window"},
		{func(o *Opts) { o.ShardSize = 0 }, "shard-size"},
		{func(o *Opts) { o.MinBaseQual = 94 }, "min-base-qual"},
	} {
		rawOpts := DefaultOpts
		test.patch(&rawOpts)
		_, err := validateOpts(&rawOpts)
		assert.True(t, err != nil, "want error containing %q", test.want)
		assert.HasSubstr(t, err.Error(), test.want)
	}
}

func TestParseCols(t *testing.T) {
	for _, test := range []struct {
		cols string
		want int
	}{
		{"", colBitContext | colBitSecondary | colBitExcluded},
		{"region", colBitRegion},
		{"context,region", colBitContext | colBitRegion},
		{"+region", colBitContext | colBitRegion | colBitSecondary | colBitExcluded},
		{"-secondary,-excluded", colBitContext},
	} {
		got, err := ParseCols(test.cols)
		assert.NoError(t, err)
		expect.EQ(t, got, test.want, "cols=%q", test.cols)
	}
}

func TestLoadOpts(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := filepath.Join(tmpdir, "opts.yaml")
	assert.NoError(t, ioutil.WriteFile(path, []byte("region: chr1:1-100\nflank: 5\nformat: rio\n"), 0644))
	opts := DefaultOpts
	assert.NoError(t, LoadOpts(ctx, path, &opts))
	expect.EQ(t, opts.Region, "chr1:1-100")
	expect.EQ(t, opts.Flank, 5)
	expect.EQ(t, opts.Format, "rio")
	// Untouched keys keep their defaults.
	expect.EQ(t, opts.Mapq, DefaultOpts.Mapq)
	expect.EQ(t, opts.ShardSize, DefaultOpts.ShardSize)

	assert.NoError(t, ioutil.WriteFile(path, []byte("flanks: 5\n"), 0644))
	err := LoadOpts(ctx, path, &opts)
	assert.True(t, err != nil)
	assert.HasSubstr(t, err.Error(), "flanks")
}

func TestGenerateShards(t *testing.T) {
	chr1, _ := sam.NewReference("chr1", "", "", 100, nil, nil)
	chr2, _ := sam.NewReference("chr2", "", "", 50, nil, nil)
	chr3, _ := sam.NewReference("chr3", "", "", 30, nil, nil)
	chr4, _ := sam.NewReference("chr4", "", "", 40, nil, nil)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2, chr3, chr4})
	assert.NoError(t, err)

	targets, err := interval.NewBEDUnionFromEntries([]interval.Entry{
		{RefName: "chr1", Start0: 10, End: 20},
		{RefName: "chr1", Start0: 60, End: 70},
		{RefName: "chr2", Start0: 0, End: 50},
		{RefName: "chr4", Start0: 0, End: interval.PosTypeMax - 1},
	}, interval.NewBEDOpts{SAMHeader: header})
	assert.NoError(t, err)

	type span struct {
		ref        string
		start, end PosType
	}
	var got []span
	for _, sh := range generateShards(header, &targets, 25) {
		got = append(got, span{sh.ref.Name(), sh.start, sh.end})
	}
	expect.EQ(t, got, []span{
		{"chr1", 10, 35},
		// [35, 60) holds no target.
		{"chr1", 60, 70},
		{"chr2", 0, 25},
		{"chr2", 25, 50},
		// Whole-contig targets stop at the contig end.
		{"chr4", 0, 25},
		{"chr4", 25, 40},
	})
}
