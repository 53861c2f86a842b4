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
	"encoding/binary"
	"fmt"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
)

// Context is an immutable window of read bases around a candidate variant.
//
// bases[coreStart..coreEnd] (inclusive) is the core: the minimal span that
// must match exactly for two reads to be reporting the same allele.  Up to
// flank bases on each side of the core are retained for weaker confirmation.
// index is the anchor, i.e. the offset of the variant's first ref-aligned
// base; all comparisons between contexts are made relative to it.
//
// Invariant: 0 <= coreStart <= index <= coreEnd < len(bases).
type Context struct {
	bases      []byte
	index      int
	coreStart  int
	coreEnd    int
	leftFlank  int
	rightFlank int
	flank      int
}

func invalidContext(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("readcontext: "+format, args...))
}

// New builds the context for a (ref, alt) allele whose anchor base sits at
// bases[index].
//
// For a substitution (len(ref) == len(alt)) the core is the substituted
// bases.  For an insertion or deletion the core is the anchor base, the
// inserted bases (none for a deletion), and the first base after the event,
// so that the event is pinned on both sides.
//
// An errors.Invalid error is returned if the core does not fit in bases.
// The bases are copied; the caller may reuse its buffer.
func New(bases []byte, index, refLen, altLen, flank int) (Context, error) {
	if refLen <= 0 || altLen <= 0 {
		return Context{}, invalidContext("empty allele (ref length %d, alt length %d)", refLen, altLen)
	}
	coreEnd := index + altLen - 1
	if refLen != altLen {
		coreEnd++
	}
	return NewFromCore(bases, index, index, coreEnd, flank)
}

// NewFromCore builds a context with an explicit core window.
func NewFromCore(bases []byte, index, coreStart, coreEnd, flank int) (Context, error) {
	if flank < 0 {
		return Context{}, invalidContext("negative flank length %d", flank)
	}
	if coreStart < 0 || coreStart > index || index > coreEnd || coreEnd >= len(bases) {
		return Context{}, invalidContext("core [%d, %d] with anchor %d does not fit in %d read bases",
			coreStart, coreEnd, index, len(bases))
	}
	leftFlank := minInt(flank, coreStart)
	rightFlank := minInt(flank, len(bases)-1-coreEnd)
	winStart := coreStart - leftFlank
	winEnd := coreEnd + rightFlank + 1
	return Context{
		bases:      append([]byte(nil), bases[winStart:winEnd]...),
		index:      index - winStart,
		coreStart:  coreStart - winStart,
		coreEnd:    coreEnd - winStart,
		leftFlank:  leftFlank,
		rightFlank: rightFlank,
		flank:      flank,
	}, nil
}

// Len returns the number of bases retained.
func (c Context) Len() int { return len(c.bases) }

// Bases returns a copy of the retained bases (left flank, core, right flank).
func (c Context) Bases() []byte { return append([]byte(nil), c.bases...) }

// Core returns a copy of the core bases.
func (c Context) Core() []byte { return append([]byte(nil), c.bases[c.coreStart:c.coreEnd+1]...) }

// Index returns the offset of the anchor within Bases().
func (c Context) Index() int { return c.index }

// CoreStart returns the offset of the first core base within Bases().
func (c Context) CoreStart() int { return c.coreStart }

// CoreEnd returns the offset of the last core base within Bases().
func (c Context) CoreEnd() int { return c.coreEnd }

// LeftFlank returns the number of bases retained before the core.
func (c Context) LeftFlank() int { return c.leftFlank }

// RightFlank returns the number of bases retained after the core.
func (c Context) RightFlank() int { return c.rightFlank }

// Complete returns true if the read provided the full requested flank on
// both sides of the core.
func (c Context) Complete() bool {
	return c.leftFlank == c.flank && c.rightFlank == c.flank
}

// at returns the base at anchor-relative offset rel, if the context covers
// it.
func (c Context) at(rel int) (byte, bool) {
	i := rel + c.index
	if i < 0 || i >= len(c.bases) {
		return 0, false
	}
	return c.bases[i], true
}

// coreUnion returns the anchor-relative union of the two core ranges.
func (c Context) coreUnion(other Context) (lo, hi int) {
	lo = minInt(c.coreStart-c.index, other.coreStart-other.index)
	hi = maxInt(c.coreEnd-c.index, other.coreEnd-other.index)
	return
}

// firstConflict returns the anchor-relative offset of the first position in
// the union of the core ranges where both contexts have a base and the bases
// differ.  ok is false if there is no such position.
func (c Context) firstConflict(other Context) (rel int, ok bool) {
	lo, hi := c.coreUnion(other)
	for rel = lo; rel <= hi; rel++ {
		a, aOK := c.at(rel)
		b, bOK := other.at(rel)
		if aOK && bOK && a != b {
			return rel, true
		}
	}
	return 0, false
}

// CompatibleWith returns true iff every position in the union of the two
// core windows that both contexts cover holds the same base in both.  It is
// reflexive and symmetric, and Extend succeeds exactly when it returns true.
func (c Context) CompatibleWith(other Context) bool {
	_, conflict := c.firstConflict(other)
	return !conflict
}

// Extend returns a new context whose core is the union of both cores, and
// whose bases cover the union of both contexts' bases, up to the larger of
// the two flank lengths on each side of the new core.  Outside the core,
// bases are taken from the receiver where it has them.
//
// If the contexts disagree anywhere in the core union, an errors.Integrity
// error is returned and neither side is picked.
func (c Context) Extend(other Context) (Context, error) {
	if rel, conflict := c.firstConflict(other); conflict {
		a, _ := c.at(rel)
		b, _ := other.at(rel)
		return Context{}, errors.E(errors.Integrity,
			fmt.Sprintf("readcontext: merge conflict at anchor offset %d (%c vs %c)", rel, a, b))
	}
	lo, hi := c.coreUnion(other)
	extLo := minInt(-c.index, -other.index)
	extHi := maxInt(len(c.bases)-1-c.index, len(other.bases)-1-other.index)
	bases := make([]byte, extHi-extLo+1)
	for rel := extLo; rel <= extHi; rel++ {
		b, ok := c.at(rel)
		if !ok {
			b, _ = other.at(rel)
		}
		bases[rel-extLo] = b
	}
	flank := maxInt(c.flank, other.flank)
	coreStart := lo - extLo
	coreEnd := hi - extLo
	// Trim to the requested flank, so repeated extension cannot grow the
	// window without bound.
	winStart := maxInt(0, coreStart-flank)
	winEnd := minInt(len(bases), coreEnd+flank+1)
	return Context{
		bases:      bases[winStart:winEnd],
		index:      -extLo - winStart,
		coreStart:  coreStart - winStart,
		coreEnd:    coreEnd - winStart,
		leftFlank:  coreStart - winStart,
		rightFlank: winEnd - 1 - coreEnd,
		flank:      flank,
	}, nil
}

// Digest returns a stable fingerprint of the core bases and the anchor's
// position within the core.  Contexts with equal digests are compatible
// (barring hash collisions).
func (c Context) Digest() uint64 {
	core := c.bases[c.coreStart : c.coreEnd+1]
	buf := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(core))
	n := binary.PutUvarint(buf, uint64(c.index-c.coreStart))
	buf = append(buf[:n], core...)
	return farm.Fingerprint64(buf)
}

// String renders the context as left flank, bracketed core, right flank,
// e.g. "GAT[AGC]TTA".
func (c Context) String() string {
	var sb strings.Builder
	sb.Write(c.bases[:c.coreStart])
	sb.WriteByte('[')
	sb.Write(c.bases[c.coreStart : c.coreEnd+1])
	sb.WriteByte(']')
	sb.Write(c.bases[c.coreEnd+1:])
	return sb.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
