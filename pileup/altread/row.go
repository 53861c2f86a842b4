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
	"encoding/binary"
	"fmt"

	"github.com/grailbio/evidence/readcontext"
	"github.com/grailbio/evidence/regionmatch"
)

const (
	// RowSecondary marks a row for a context which conflicts with the primary
	// context of the same allele.
	RowSecondary = 1 << iota
	// RowHasContext is set iff Index, CoreStart, CoreEnd and Bases are valid.
	RowHasContext
)

// EvidenceRow is the aggregated evidence for one allele (or, for secondary
// rows, one conflicting context of an allele) at one position.
//
// The main loop writes EvidenceRows to lightly compressed per-shard recordio
// files, which are then concatenated and converted to the requested output
// format.
type EvidenceRow struct {
	Flags    uint32
	RefID    uint32
	Pos      uint32
	Reads    uint32
	Quality  uint32
	Events   uint32
	Excluded uint32
	Digest   uint64
	Region   regionmatch.MatchType

	// Index is the offset of the anchor base in Bases; CoreStart and CoreEnd
	// are the inclusive core bounds, also as offsets in Bases.
	Index     uint32
	CoreStart uint32
	CoreEnd   uint32

	Ref   string
	Alt   string
	Bases []byte
}

// Secondary returns true for a conflicting-context row.
func (r *EvidenceRow) Secondary() bool { return r.Flags&RowSecondary != 0 }

// HasContext returns true if the row carries a merged read context.
func (r *EvidenceRow) HasContext() bool { return r.Flags&RowHasContext != 0 }

// Core returns the core bases of the row's context, or nil if there is none.
func (r *EvidenceRow) Core() []byte {
	if !r.HasContext() {
		return nil
	}
	return r.Bases[r.CoreStart : r.CoreEnd+1]
}

// newEvidenceRow converts a finalized bucket.  excluded is the position-level
// excluded-read count; it is only reported on primary rows.
func newEvidenceRow(refID int, pos PosType, excluded int, b *readcontext.Bucket, secondary bool) EvidenceRow {
	row := EvidenceRow{
		RefID:   uint32(refID),
		Pos:     uint32(pos),
		Reads:   uint32(b.Reads),
		Quality: uint32(b.Quality),
		Events:  uint32(b.Events),
		Digest:  b.Digest,
		Region:  b.Region,
		Ref:     b.Ref,
		Alt:     b.Alt,
	}
	if secondary {
		row.Flags |= RowSecondary
	} else {
		row.Excluded = uint32(excluded)
	}
	if c, ok := b.Context.Get(); ok {
		row.Flags |= RowHasContext
		row.Index = uint32(c.Index())
		row.CoreStart = uint32(c.CoreStart())
		row.CoreEnd = uint32(c.CoreEnd())
		row.Bases = c.Bases()
	}
	return row
}

// appendBucketRows appends the rows for the finalized buckets of one
// position: each primary bucket is followed by its secondaries.
func appendBucketRows(dst []EvidenceRow, refID int, pos PosType, excluded int, buckets []readcontext.Bucket) []EvidenceRow {
	for i := range buckets {
		b := &buckets[i]
		dst = append(dst, newEvidenceRow(refID, pos, excluded, b, false))
		for j := range b.Secondary {
			dst = append(dst, newEvidenceRow(refID, pos, excluded, &b.Secondary[j], true))
		}
	}
	return dst
}

// cutAndAdvance returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

const rowFixedLen = 60

// Serialized format:
//   [0..4): flags
//   [4..8): refID
//   [8..12): pos
//   [12..16): reads
//   [16..20): quality
//   [20..24): events
//   [24..28): excluded
//   [28..36): digest
//   [36..40): region (low byte)
//   [40..44): index
//   [44..48): coreStart
//   [48..52): coreEnd
//   [52..54): len(ref)
//   [54..56): len(alt)
//   [56..60): len(bases)
//   then ref, alt and bases.
// All uses are bundled with the "zstd 1" transformer, so the fixed-width
// fields are not worth packing further.
func marshalEvidenceRow(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*EvidenceRow)
	if len(r.Ref) > 0xffff || len(r.Alt) > 0xffff {
		return nil, fmt.Errorf("marshalEvidenceRow: allele too long (%d, %d)", len(r.Ref), len(r.Alt))
	}
	bytesReq := rowFixedLen + len(r.Ref) + len(r.Alt) + len(r.Bases)
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]

	offset := 0
	tStart := cutAndAdvance(&offset, t, rowFixedLen)
	binary.LittleEndian.PutUint32(tStart[0:4], r.Flags)
	binary.LittleEndian.PutUint32(tStart[4:8], r.RefID)
	binary.LittleEndian.PutUint32(tStart[8:12], r.Pos)
	binary.LittleEndian.PutUint32(tStart[12:16], r.Reads)
	binary.LittleEndian.PutUint32(tStart[16:20], r.Quality)
	binary.LittleEndian.PutUint32(tStart[20:24], r.Events)
	binary.LittleEndian.PutUint32(tStart[24:28], r.Excluded)
	binary.LittleEndian.PutUint64(tStart[28:36], r.Digest)
	binary.LittleEndian.PutUint32(tStart[36:40], uint32(r.Region))
	binary.LittleEndian.PutUint32(tStart[40:44], r.Index)
	binary.LittleEndian.PutUint32(tStart[44:48], r.CoreStart)
	binary.LittleEndian.PutUint32(tStart[48:52], r.CoreEnd)
	binary.LittleEndian.PutUint16(tStart[52:54], uint16(len(r.Ref)))
	binary.LittleEndian.PutUint16(tStart[54:56], uint16(len(r.Alt)))
	binary.LittleEndian.PutUint32(tStart[56:60], uint32(len(r.Bases)))
	copy(cutAndAdvance(&offset, t, len(r.Ref)), r.Ref)
	copy(cutAndAdvance(&offset, t, len(r.Alt)), r.Alt)
	copy(cutAndAdvance(&offset, t, len(r.Bases)), r.Bases)
	return t, nil
}

func unmarshalEvidenceRow(in []byte) (out interface{}, err error) {
	if len(in) < rowFixedLen {
		return nil, fmt.Errorf("unmarshalEvidenceRow: truncated record (%d bytes)", len(in))
	}
	offset := 0
	inStart := cutAndAdvance(&offset, in, rowFixedLen)
	r := &EvidenceRow{
		Flags:     binary.LittleEndian.Uint32(inStart[0:4]),
		RefID:     binary.LittleEndian.Uint32(inStart[4:8]),
		Pos:       binary.LittleEndian.Uint32(inStart[8:12]),
		Reads:     binary.LittleEndian.Uint32(inStart[12:16]),
		Quality:   binary.LittleEndian.Uint32(inStart[16:20]),
		Events:    binary.LittleEndian.Uint32(inStart[20:24]),
		Excluded:  binary.LittleEndian.Uint32(inStart[24:28]),
		Digest:    binary.LittleEndian.Uint64(inStart[28:36]),
		Region:    regionmatch.MatchType(binary.LittleEndian.Uint32(inStart[36:40])),
		Index:     binary.LittleEndian.Uint32(inStart[40:44]),
		CoreStart: binary.LittleEndian.Uint32(inStart[44:48]),
		CoreEnd:   binary.LittleEndian.Uint32(inStart[48:52]),
	}
	refLen := int(binary.LittleEndian.Uint16(inStart[52:54]))
	altLen := int(binary.LittleEndian.Uint16(inStart[54:56]))
	basesLen := int(binary.LittleEndian.Uint32(inStart[56:60]))
	if len(in) != rowFixedLen+refLen+altLen+basesLen {
		return nil, fmt.Errorf("unmarshalEvidenceRow: record length %d inconsistent with field lengths", len(in))
	}
	r.Ref = string(cutAndAdvance(&offset, in, refLen))
	r.Alt = string(cutAndAdvance(&offset, in, altLen))
	if basesLen > 0 {
		r.Bases = append([]byte(nil), cutAndAdvance(&offset, in, basesLen)...)
	}
	if r.HasContext() && (r.CoreEnd < r.CoreStart || int(r.CoreEnd) >= basesLen) {
		return nil, fmt.Errorf("unmarshalEvidenceRow: core [%d, %d] outside %d-base context", r.CoreStart, r.CoreEnd, basesLen)
	}
	return r, nil
}
