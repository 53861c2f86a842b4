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
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/evidence/pileup/altread"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestApplyConfig(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpdir, "opts.yaml")
	assert.NoError(t, ioutil.WriteFile(path, []byte("flank: 5\nmapq: 30\nformat: rio\n"), 0644))

	opts := altread.DefaultOpts
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.IntVar(&opts.Flank, "flank", opts.Flank, "")
	fs.IntVar(&opts.Mapq, "mapq", opts.Mapq, "")
	fs.StringVar(&opts.Region, "region", opts.Region, "")
	assert.NoError(t, fs.Parse([]string{"-mapq", "40", "-region", "chr2"}))

	assert.NoError(t, applyConfig(ctx, fs, path, &opts))
	expect.EQ(t, opts.Flank, 5)
	expect.EQ(t, opts.Format, "rio")
	// Command-line flags win over the file.
	expect.EQ(t, opts.Mapq, 40)
	expect.EQ(t, opts.Region, "chr2")

	// Without a file, flags are left alone.
	opts2 := altread.DefaultOpts
	assert.NoError(t, applyConfig(ctx, flag.NewFlagSet("x", flag.ContinueOnError), "", &opts2))
	expect.EQ(t, opts2, altread.DefaultOpts)
}
