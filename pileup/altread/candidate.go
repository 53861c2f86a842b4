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
	"fmt"

	"github.com/grailbio/evidence/encoding/fasta"
	"github.com/grailbio/evidence/regionmatch"
	"github.com/grailbio/hts/sam"
)

// refWindowSize is the minimum number of reference bases fetched at a time.
const refWindowSize = 1 << 16

// refWindow caches a window of one reference sequence.  Reads arrive in
// position order, so a forward-sliding window serves nearly all lookups.
type refWindow struct {
	fa      fasta.Fasta
	refName string
	refLen  PosType
	start   PosType
	seq     string
}

func (w *refWindow) reset(refName string, refLen PosType) {
	w.refName = refName
	w.refLen = refLen
	w.start = 0
	w.seq = ""
}

// get returns the reference bases in [start, end).
func (w *refWindow) get(start, end PosType) (string, error) {
	if start < 0 || end > w.refLen || start > end {
		return "", fmt.Errorf("refWindow.get: [%d, %d) outside %s (length %d)", start, end, w.refName, w.refLen)
	}
	if start < w.start || end > w.start+PosType(len(w.seq)) {
		winEnd := end
		if winEnd-start < refWindowSize {
			winEnd = start + refWindowSize
		}
		if winEnd > w.refLen {
			winEnd = w.refLen
		}
		seq, err := w.fa.Get(w.refName, uint64(start), uint64(winEnd))
		if err != nil {
			return "", err
		}
		w.start = start
		w.seq = seq
	}
	return w.seq[start-w.start : end-w.start], nil
}

// candidate is a non-reference allele observed in one read.
type candidate struct {
	// pos is the reference position of the anchor base, and readIdx its offset
	// in the read.  For indels the anchor is the aligned base before the
	// event.
	pos     PosType
	readIdx int
	ref     string
	alt     string
	qual    int
}

// readWalker extracts candidates from aligned reads.  Its slices are reused
// between reads.
type readWalker struct {
	eventWindow int

	cands []candidate
	// events holds the read offsets of all mismatch and indel events, in
	// increasing order.
	events []int
	// unanchored holds the reference positions of indels with no aligned base
	// before them on the same side of a splice or clip.
	unanchored []PosType
	blocks     []regionmatch.Block
}

func isAligned(t sam.CigarOpType) bool {
	return t == sam.CigarMatch || t == sam.CigarEqual || t == sam.CigarMismatch
}

// minQual returns the lowest quality in qual[lo:hi+1], or 0xff if the range
// is empty.
func minQual(qual []byte, lo, hi int) int {
	q := 0xff
	for i := lo; i <= hi && i < len(qual); i++ {
		if int(qual[i]) < q {
			q = int(qual[i])
		}
	}
	return q
}

// walk finds the candidates of samr.  bases are the decoded read bases, and
// refSeq the reference bases covered by the alignment, starting at samr.Pos.
// It also records the read's aligned blocks, split at skipped regions.
//
// An indel is anchored at the last aligned base before it.  Consecutive
// indels share that anchor and are reported as one candidate spanning all of
// them, so that a read contributes at most one allele per anchor.
func (rw *readWalker) walk(samr *sam.Record, bases []byte, refSeq string) {
	rw.cands = rw.cands[:0]
	rw.events = rw.events[:0]
	rw.unanchored = rw.unanchored[:0]
	rw.blocks = rw.blocks[:0]
	qual := samr.Qual
	refPos := PosType(samr.Pos)
	refOff := 0
	readPos := 0
	blockStart := refPos

	// Last aligned base, valid while anchored is set.
	anchored := false
	anchorRead, anchorRefOff := 0, 0
	// Index in rw.cands of the candidate for the current run of indels, or -1.
	openCand := -1

	for _, co := range samr.Cigar {
		n := co.Len()
		switch t := co.Type(); {
		case isAligned(t):
			for i := 0; i < n; i++ {
				rb := refSeq[refOff+i]
				b := bases[readPos+i]
				if b == rb || b == 'N' || rb == 'N' {
					continue
				}
				rw.events = append(rw.events, readPos+i)
				rw.cands = append(rw.cands, candidate{
					pos:     refPos + PosType(i),
					readIdx: readPos + i,
					ref:     string(rb),
					alt:     string(b),
					qual:    minQual(qual, readPos+i, readPos+i),
				})
			}
			refPos += PosType(n)
			refOff += n
			readPos += n
			if n > 0 {
				anchored = true
				anchorRead, anchorRefOff = readPos-1, refOff-1
			}
			openCand = -1
		case t == sam.CigarInsertion || t == sam.CigarDeletion:
			if anchored {
				rw.events = append(rw.events, anchorRead)
			} else {
				rw.events = append(rw.events, readPos)
				rw.unanchored = append(rw.unanchored, refPos)
			}
			if t == sam.CigarInsertion {
				readPos += n
			} else {
				refPos += PosType(n)
				refOff += n
			}
			if !anchored {
				continue
			}
			// Insertions cover the anchor and the inserted bases; deletions the
			// anchor and the base after the deleted span.
			q := minQual(qual, anchorRead, readPos-1)
			if t == sam.CigarDeletion {
				if q2 := minQual(qual, readPos, readPos); q2 < q {
					q = q2
				}
			}
			c := candidate{
				pos:     PosType(samr.Pos) + PosType(anchorRefOff),
				readIdx: anchorRead,
				ref:     refSeq[anchorRefOff:refOff],
				alt:     string(bases[anchorRead:readPos]),
				qual:    q,
			}
			switch {
			case c.ref == c.alt:
				// The run so far cancels out, e.g. 1D1I with the same base.
				if openCand >= 0 {
					rw.cands = rw.cands[:openCand]
					openCand = -1
				}
			case openCand >= 0:
				rw.cands[openCand] = c
			default:
				openCand = len(rw.cands)
				rw.cands = append(rw.cands, c)
			}
		case t == sam.CigarSkipped:
			if refPos > blockStart {
				rw.blocks = append(rw.blocks, regionmatch.Block{Start: blockStart, End: refPos})
			}
			refPos += PosType(n)
			refOff += n
			blockStart = refPos
			anchored = false
			openCand = -1
		case t == sam.CigarSoftClipped:
			readPos += n
			anchored = false
			openCand = -1
		}
	}
	if refPos > blockStart {
		rw.blocks = append(rw.blocks, regionmatch.Block{Start: blockStart, End: refPos})
	}
}

// countEvents returns the number of events within eventWindow read bases of
// readIdx.  A zero window counts every event in the read.
func (rw *readWalker) countEvents(readIdx int) int {
	if rw.eventWindow == 0 {
		return len(rw.events)
	}
	n := 0
	for _, e := range rw.events {
		d := e - readIdx
		if d < 0 {
			d = -d
		}
		if d <= rw.eventWindow {
			n++
		}
	}
	return n
}
