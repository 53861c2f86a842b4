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
package readcontext

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/evidence/interval"
	"github.com/grailbio/evidence/regionmatch"
)

// Bucket is the aggregated evidence for one interpretation of a (Ref, Alt)
// allele.
type Bucket struct {
	Ref string
	Alt string
	// Context is the union of the contexts of all reads folded in.  Absent
	// if none of them had one.
	Context OptionalContext
	// Digest identifies a secondary bucket: it is the Digest() of the context
	// that created it.  Zero for primary buckets.
	Digest  uint64
	Reads   int
	Quality int
	Events  int
	// Region is the best MatchType among the reads folded in.
	Region regionmatch.MatchType
	// Secondary holds the conflicting interpretations of this allele, in the
	// order returned by Accumulator.Finalize.  Only set on primary buckets.
	Secondary []Bucket
}

func newBucket(ev Evidence) *Bucket {
	b := &Bucket{Ref: ev.Ref, Alt: ev.Alt, Context: ev.Context}
	b.fold(ev)
	return b
}

func (b *Bucket) fold(ev Evidence) {
	b.Reads++
	b.Quality += ev.Quality
	b.Events += ev.Events
	b.Region = regionmatch.BestOf(b.Region, ev.Region)
}

// absorb folds ev into b if their contexts are compatible, extending b's
// context.  It returns false, leaving b untouched, on a conflict.
func (b *Bucket) absorb(ev Evidence) bool {
	evCtx, evOK := ev.Context.Get()
	if !evOK {
		b.fold(ev)
		return true
	}
	ctx, ok := b.Context.Get()
	if !ok {
		b.Context = ev.Context
		b.fold(ev)
		return true
	}
	merged, err := ctx.Extend(evCtx)
	if err != nil {
		return false
	}
	b.Context = Present(merged)
	b.fold(ev)
	return true
}

type alleleKey struct {
	ref, alt string
}

// Accumulator collects the evidence observed at one reference position.  It
// is safe for concurrent use.
type Accumulator struct {
	refName string
	pos     interval.PosType

	mu        sync.Mutex
	primary   map[alleleKey]*Bucket
	secondary map[alleleKey][]*Bucket
	excluded  int
	finalized bool
	result    []Bucket
}

// NewAccumulator returns an empty accumulator for the given 0-based
// position.
func NewAccumulator(refName string, pos interval.PosType) *Accumulator {
	return &Accumulator{
		refName:   refName,
		pos:       pos,
		primary:   make(map[alleleKey]*Bucket),
		secondary: make(map[alleleKey][]*Bucket),
	}
}

// RefName returns the reference sequence name.
func (a *Accumulator) RefName() string { return a.refName }

// Pos returns the 0-based position.
func (a *Accumulator) Pos() interval.PosType { return a.pos }

func (a *Accumulator) errFinalized(op string) error {
	return errors.E(errors.Precondition,
		fmt.Sprintf("readcontext: %s after finalize at %s:%d", op, a.refName, a.pos+1))
}

// Submit records one read's evidence.
//
// The first evidence for an allele creates its primary bucket.  Later
// evidence is folded into the primary bucket if its context is absent or
// compatible; otherwise into the first compatible secondary bucket, or into a
// new secondary bucket.  Submit fails with errors.Precondition once the
// accumulator is finalized.
func (a *Accumulator) Submit(ev Evidence) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return a.errFinalized("submit")
	}
	key := alleleKey{ev.Ref, ev.Alt}
	p, ok := a.primary[key]
	if !ok {
		a.primary[key] = newBucket(ev)
		return nil
	}
	if p.absorb(ev) {
		return nil
	}
	for _, s := range a.secondary[key] {
		if s.absorb(ev) {
			return nil
		}
	}
	// Absent contexts always land in the primary, so ev has one here.
	ctx, _ := ev.Context.Get()
	s := newBucket(ev)
	s.Digest = a.freeDigest(key, ctx.Digest())
	a.secondary[key] = append(a.secondary[key], s)
	log.Debug.Printf("readcontext: %s:%d %s>%s: context %v conflicts with %v, secondary %016x",
		a.refName, a.pos+1, ev.Ref, ev.Alt, ctx, p.Context, s.Digest)
	return nil
}

// freeDigest returns d, or the next value after it not already used by a
// secondary bucket of the allele.  Digests only repeat here on a fingerprint
// collision between incompatible contexts.
func (a *Accumulator) freeDigest(key alleleKey, d uint64) uint64 {
	for {
		used := false
		for _, s := range a.secondary[key] {
			if s.Digest == d {
				used = true
				break
			}
		}
		if !used {
			return d
		}
		d++
	}
}

// Exclude records a read that showed a variant here but whose context could
// not be built.  Such reads are counted but do not vote.
func (a *Accumulator) Exclude() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return a.errFinalized("exclude")
	}
	a.excluded++
	return nil
}

// Excluded returns the number of reads recorded by Exclude.
func (a *Accumulator) Excluded() int {
	a.mu.Lock()
	n := a.excluded
	a.mu.Unlock()
	return n
}

// Len returns the number of distinct (ref, alt) alleles seen.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	n := len(a.primary)
	a.mu.Unlock()
	return n
}

// Finalized returns true once Finalize has been called.
func (a *Accumulator) Finalized() bool {
	a.mu.Lock()
	f := a.finalized
	a.mu.Unlock()
	return f
}

// Finalize closes the accumulator and returns its primary buckets, by
// descending read count, then Ref, then Alt.  Each bucket's secondaries are
// sorted by descending read count, then Digest.  Later calls return the same
// result.
//
// The returned slice is shared between calls; callers must not modify it.
func (a *Accumulator) Finalize() ([]Bucket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return a.result, nil
	}
	a.finalized = true
	result := make([]Bucket, 0, len(a.primary))
	for key, p := range a.primary {
		b := *p
		if secs := a.secondary[key]; len(secs) > 0 {
			b.Secondary = make([]Bucket, len(secs))
			for i, s := range secs {
				b.Secondary[i] = *s
			}
			sort.SliceStable(b.Secondary, func(i, j int) bool {
				si, sj := &b.Secondary[i], &b.Secondary[j]
				if si.Reads != sj.Reads {
					return si.Reads > sj.Reads
				}
				return si.Digest < sj.Digest
			})
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := &result[i], &result[j]
		if ri.Reads != rj.Reads {
			return ri.Reads > rj.Reads
		}
		if ri.Ref != rj.Ref {
			return ri.Ref < rj.Ref
		}
		return ri.Alt < rj.Alt
	})
	a.result = result
	return result, nil
}
