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

// Package altread collects per-read evidence for non-reference alleles from
// an indexed BAM file.  Each candidate SNV, insertion or deletion found by
// walking a read's CIGAR against the reference is submitted, together with
// the read sequence around it, to the readcontext.Accumulator of its anchor
// position; the finalized buckets are written as TSV or recordio.
package altread

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/evidence/encoding/fasta"
	"github.com/grailbio/evidence/interval"
	"github.com/grailbio/evidence/pileup"
	"github.com/grailbio/evidence/readcontext"
	"github.com/grailbio/evidence/regionmatch"
	"github.com/grailbio/hts/sam"
)

// PosType is the integer type used to represent genomic positions.
type PosType = pileup.PosType

func init() {
	recordiozstd.Init()
}

type collectStats struct {
	reads      int
	filtered   int
	candidates int
	lowQual    int
	excluded   int
	unanchored int
	// positions whose every candidate read was excluded; no row is written.
	excludedOnly int
	rows         int
}

func (s *collectStats) add(o collectStats) {
	s.reads += o.reads
	s.filtered += o.filtered
	s.candidates += o.candidates
	s.lowQual += o.lowQual
	s.excluded += o.excluded
	s.unanchored += o.unanchored
	s.excludedOnly += o.excludedOnly
	s.rows += o.rows
}

// shardWorker processes a contiguous run of shards.  Nothing in it is shared
// with other workers, except the read-only feature set.
type shardWorker struct {
	opts     *collectOpts
	src      *bamSource
	targets  interval.BEDUnion
	features *interval.BEDUnion
	ref      refWindow
	walker   readWalker
	pending  pendingStore
	w        recordio.Writer
	bases    []byte
	stats    collectStats
}

func newShardWorker(opts *collectOpts, src *bamSource, targets, features *interval.BEDUnion, fa fasta.Fasta, tmpFile *os.File) *shardWorker {
	return &shardWorker{
		opts:     opts,
		src:      src,
		targets:  targets.Clone(),
		features: features,
		ref:      refWindow{fa: fa},
		walker: readWalker{eventWindow: opts.eventWindow},
		w: recordio.NewWriter(tmpFile, recordio.WriterOpts{
			Marshal:      marshalEvidenceRow,
			Transformers: []string{"zstd 1"},
		}),
	}
}

// flushBefore finalizes the accumulators at positions < limit and writes
// their rows.  A position whose reads were all excluded has no allele to
// report, so it gets no row; it is logged at debug level and counted.
func (sw *shardWorker) flushBefore(refID int, limit PosType) error {
	return sw.pending.popBefore(limit, func(acc *readcontext.Accumulator) error {
		buckets, err := acc.Finalize()
		if err != nil {
			return err
		}
		if len(buckets) == 0 {
			log.Debug.Printf("altread: %s:%d: all %d read(s) excluded", acc.RefName(), acc.Pos()+1, acc.Excluded())
			sw.stats.excludedOnly++
			return nil
		}
		rows := appendBucketRows(nil, refID, acc.Pos(), acc.Excluded(), buckets)
		for i := range rows {
			sw.w.Append(&rows[i])
		}
		sw.stats.rows += len(rows)
		return nil
	})
}

// keepRead applies the -flag-exclude, -mapq and blank-read filters.
func (sw *shardWorker) keepRead(samr *sam.Record) bool {
	return sw.opts.flagExclude&int(samr.Flags) == 0 &&
		sw.opts.mapq <= int(samr.MapQ) &&
		len(samr.Cigar) != 0 &&
		len(samr.Seq.Seq) != 0
}

func (sw *shardWorker) processShard(ctx context.Context, sh shard) (err error) {
	refID := sh.ref.ID()
	refName := sh.ref.Name()
	sw.ref.reset(refName, PosType(sh.ref.Len()))
	iter := sw.src.newIterator(ctx, sh.ref, int(sh.start), int(sh.end))
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	for iter.Scan() {
		samr := iter.Record()
		sw.stats.reads++
		if !sw.keepRead(samr) {
			sw.stats.filtered++
			continue
		}
		// Every candidate of this read, and of all later reads, is anchored at
		// or after its start.
		if err = sw.flushBefore(refID, PosType(samr.Pos)); err != nil {
			return
		}
		if err = sw.addRead(samr, sh, refID, refName); err != nil {
			return
		}
	}
	if err = iter.Err(); err != nil {
		return
	}
	return sw.flushBefore(refID, pileup.PosTypeMax)
}

func (sw *shardWorker) addRead(samr *sam.Record, sh shard, refID int, refName string) error {
	span, readLen := samr.Cigar.Lengths()
	if span > sw.opts.maxReadSpan {
		return fmt.Errorf("altread: read %s spans %d bases, more than max-read-span=%d", samr.Name, span, sw.opts.maxReadSpan)
	}
	if readLen != samr.Seq.Length {
		return fmt.Errorf("altread: read %s has %d bases but CIGAR %v consumes %d", samr.Name, samr.Seq.Length, samr.Cigar, readLen)
	}
	pos := PosType(samr.Pos)
	refSeq, err := sw.ref.get(pos, pos+PosType(span))
	if err != nil {
		return err
	}
	sw.bases = pileup.ReadBases(sw.bases, samr)
	sw.walker.walk(samr, sw.bases, refSeq)
	for _, pos := range sw.walker.unanchored {
		if pos >= sh.start && pos < sh.end && sw.targets.ContainsByID(refID, pos) {
			log.Debug.Printf("altread: read %s: indel at %s:%d has no aligned anchor", samr.Name, refName, pos+1)
			sw.stats.unanchored++
		}
	}
	if len(sw.walker.cands) == 0 {
		return nil
	}
	region := regionmatch.None
	if sw.features != nil {
		region = regionmatch.ClassifyRead(sw.walker.blocks, sw.features.EndpointsByID(refID))
	}
	for _, c := range sw.walker.cands {
		if c.pos < sh.start || c.pos >= sh.end || !sw.targets.ContainsByID(refID, c.pos) {
			continue
		}
		if c.qual < sw.opts.minBaseQual {
			sw.stats.lowQual++
			continue
		}
		sw.stats.candidates++
		acc := sw.pending.get(refName, c.pos)
		rctx, err := readcontext.New(sw.bases, c.readIdx, len(c.ref), len(c.alt), sw.opts.flank)
		if err != nil {
			if !errors.Is(errors.Invalid, err) {
				return err
			}
			log.Debug.Printf("altread: excluding read %s at %s:%d: %v", samr.Name, refName, c.pos+1, err)
			sw.stats.excluded++
			if err = acc.Exclude(); err != nil {
				return err
			}
			continue
		}
		octx := readcontext.Absent()
		if rctx.Complete() {
			octx = readcontext.Present(rctx)
		}
		ev := readcontext.NewEvidence(c.ref, c.alt, c.qual, sw.walker.countEvents(c.readIdx), octx)
		ev.Region = region
		if err = acc.Submit(ev); err != nil {
			return err
		}
	}
	return nil
}

// Collect writes the evidence for every non-reference allele observed in the
// BAM file at xampath, restricted to the -bed or -region targets, to
// outPrefix.evidence.{tsv,tsv.gz,rio}.
func Collect(ctx context.Context, xampath, fapath, outPrefix string, rawOpts *Opts) (err error) {
	opts, err := validateOpts(rawOpts)
	if err != nil {
		return
	}
	if opts.parallelism <= 0 {
		opts.parallelism = runtime.NumCPU()
	}

	src, err := openBAM(ctx, xampath, rawOpts.BamIndexPath)
	if err != nil {
		return
	}
	header := src.header
	headerRefs := header.Refs()

	var targets interval.BEDUnion
	switch {
	case rawOpts.Region != "" && rawOpts.BedPath != "":
		return fmt.Errorf("Collect: -region and -bed flags can't be used together")
	case rawOpts.Region != "":
		var entry interval.Entry
		if entry, err = interval.ParseRegionString(rawOpts.Region); err != nil {
			return
		}
		if !hasRef(headerRefs, entry.RefName) {
			return fmt.Errorf("Collect: region contig %s not in BAM header", entry.RefName)
		}
		if targets, err = interval.NewBEDUnionFromEntries([]interval.Entry{entry}, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
	case rawOpts.BedPath != "":
		if targets, err = interval.NewBEDUnionFromPath(rawOpts.BedPath, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
	default:
		return fmt.Errorf("Collect: either -bed or -region is required")
	}

	var features *interval.BEDUnion
	if rawOpts.FeaturesPath != "" {
		var f interval.BEDUnion
		if f, err = interval.NewBEDUnionFromPath(rawOpts.FeaturesPath, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return
		}
		features = &f
	}

	fa, err := pileup.LoadFa(ctx, fapath)
	if err != nil {
		return
	}
	if err = pileup.CheckRefLengths(fa, headerRefs); err != nil {
		return
	}

	shards := generateShards(header, &targets, opts.shardSize)
	nShard := len(shards)
	parallelism := opts.parallelism
	if parallelism > nShard {
		parallelism = nShard
	}

	if opts.tempDir != "" {
		if err = os.MkdirAll(opts.tempDir, 0755); err != nil {
			return
		}
	}
	tmpFiles := make([]*os.File, parallelism)
	defer func() {
		for _, f := range tmpFiles {
			if f != nil {
				if e := f.Close(); e != nil && err == nil {
					err = e
				}
				_ = os.Remove(f.Name())
			}
		}
	}()
	for jobIdx := range tmpFiles {
		if tmpFiles[jobIdx], err = ioutil.TempFile(opts.tempDir, "altread_tmp"+strconv.Itoa(jobIdx)+"_*.rio"); err != nil {
			return
		}
	}

	log.Printf("Collect: starting main loop (%d shards, %d jobs)", nShard, parallelism)
	jobStats := make([]collectStats, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nShard) / parallelism
		endIdx := ((jobIdx + 1) * nShard) / parallelism
		sw := newShardWorker(&opts, src, &targets, features, fa, tmpFiles[jobIdx])
		for _, sh := range shards[startIdx:endIdx] {
			if e := sw.processShard(ctx, sh); e != nil {
				return e
			}
		}
		jobStats[jobIdx] = sw.stats
		log.Debug.Printf("Collect: job %d done: %+v", jobIdx, sw.stats)
		return sw.w.Finish()
	})
	if err != nil {
		return
	}
	var total collectStats
	for _, s := range jobStats {
		total.add(s)
	}
	log.Printf("Collect: main loop complete; %d reads (%d filtered), %d candidates (%d below min-base-qual), %d excluded, %d unanchored indels, %d rows",
		total.reads, total.filtered, total.candidates, total.lowQual, total.excluded, total.unanchored, total.rows)
	if total.excludedOnly != 0 {
		log.Printf("Collect: %d position(s) had no usable read context and were dropped", total.excludedOnly)
	}

	refNames := make([]string, len(headerRefs))
	for i, ref := range headerRefs {
		refNames[i] = ref.Name()
	}
	switch opts.format {
	case formatTSV:
		err = convertEvidenceRowsToTSV(ctx, tmpFiles, outPrefix, opts.colBitset, false, opts.parallelism, refNames)
	case formatTSVBgz:
		err = convertEvidenceRowsToTSV(ctx, tmpFiles, outPrefix, opts.colBitset, true, opts.parallelism, refNames)
	case formatRio:
		err = convertEvidenceRowsToRio(ctx, tmpFiles, outPrefix, refNames)
	}
	return
}

func hasRef(refs []*sam.Reference, name string) bool {
	for _, ref := range refs {
		if ref.Name() == name {
			return true
		}
	}
	return false
}
