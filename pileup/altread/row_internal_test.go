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
	"errors"
	"testing"

	"github.com/grailbio/evidence/readcontext"
	"github.com/grailbio/evidence/regionmatch"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func mustContext(t *testing.T, bases string, index, refLen, altLen, flank int) readcontext.OptionalContext {
	c, err := readcontext.New([]byte(bases), index, refLen, altLen, flank)
	assert.NoError(t, err)
	return readcontext.Present(c)
}

func TestBucketRows(t *testing.T) {
	acc := readcontext.NewAccumulator("chr1", 34)
	ev := func(bases string, index int) readcontext.Evidence {
		e := readcontext.NewEvidence("G", "GTT", 30, 1, mustContext(t, bases, index, 1, 3, 2))
		e.Region = regionmatch.WithinExon
		return e
	}
	assert.NoError(t, acc.Submit(ev("ATCGGTTTACCT", 4)))
	assert.NoError(t, acc.Submit(ev("TCGGTTTACCT", 3)))
	assert.NoError(t, acc.Submit(ev("ATCGGTTAACCT", 4)))
	assert.NoError(t, acc.Submit(readcontext.NewEvidence("G", "A", 20, 3, readcontext.Absent())))
	assert.NoError(t, acc.Exclude())
	buckets, err := acc.Finalize()
	assert.NoError(t, err)

	rows := appendBucketRows(nil, 0, acc.Pos(), acc.Excluded(), buckets)
	assert.EQ(t, len(rows), 3)

	expect.EQ(t, rows[0].Alt, "GTT")
	expect.EQ(t, rows[0].Reads, uint32(2))
	expect.EQ(t, rows[0].Quality, uint32(60))
	expect.EQ(t, rows[0].Excluded, uint32(1))
	expect.EQ(t, rows[0].Region, regionmatch.WithinExon)
	expect.False(t, rows[0].Secondary())
	expect.True(t, rows[0].HasContext())
	expect.EQ(t, string(rows[0].Bases), "CGGTTTAC")
	expect.EQ(t, string(rows[0].Core()), "GTTT")

	// The conflicting read follows its primary.
	expect.EQ(t, rows[1].Alt, "GTT")
	expect.True(t, rows[1].Secondary())
	expect.EQ(t, rows[1].Reads, uint32(1))
	expect.EQ(t, rows[1].Excluded, uint32(0))
	expect.EQ(t, string(rows[1].Core()), "GTTA")
	expect.True(t, rows[1].Digest != 0)

	expect.EQ(t, rows[2].Alt, "A")
	expect.EQ(t, rows[2].Events, uint32(3))
	expect.False(t, rows[2].HasContext())
	expect.EQ(t, len(rows[2].Core()), 0)
}

func TestEvidenceRowMarshal(t *testing.T) {
	rows := []EvidenceRow{
		{
			Flags:     RowHasContext | RowSecondary,
			RefID:     3,
			Pos:       123456,
			Reads:     7,
			Quality:   210,
			Events:    9,
			Digest:    0xfedcba9876543210,
			Region:    regionmatch.ExonBoundary,
			Index:     2,
			CoreStart: 2,
			CoreEnd:   5,
			Ref:       "G",
			Alt:       "GTT",
			Bases:     []byte("CGGTTTAC"),
		},
		{
			RefID:    1,
			Pos:      9,
			Reads:    1,
			Quality:  30,
			Excluded: 4,
			Ref:      "AGT",
			Alt:      "A",
		},
	}
	for _, r := range rows {
		r := r
		b, err := marshalEvidenceRow(nil, &r)
		assert.NoError(t, err)
		expect.EQ(t, len(b), rowFixedLen+len(r.Ref)+len(r.Alt)+len(r.Bases))
		got, err := unmarshalEvidenceRow(b)
		assert.NoError(t, err)
		expect.EQ(t, *got.(*EvidenceRow), r)

		// Scratch space is reused when large enough.
		scratch := make([]byte, 256)
		b2, err := marshalEvidenceRow(scratch, &r)
		assert.NoError(t, err)
		expect.EQ(t, b2, b)
		expect.True(t, &b2[0] == &scratch[0])

		_, err = unmarshalEvidenceRow(b[:len(b)-1])
		expect.True(t, err != nil)
	}
	_, err := unmarshalEvidenceRow(make([]byte, 10))
	expect.True(t, err != nil)
}

func TestPendingStore(t *testing.T) {
	var s pendingStore
	a := s.get("chr1", 20)
	expect.True(t, s.get("chr1", 20) == a)
	s.get("chr1", 5)
	s.get("chr1", 12)
	s.get("chr1", 30)
	expect.EQ(t, s.len(), 4)

	var popped []PosType
	collect := func(acc *readcontext.Accumulator) error {
		popped = append(popped, acc.Pos())
		return nil
	}
	assert.NoError(t, s.popBefore(20, collect))
	expect.EQ(t, popped, []PosType{5, 12})
	expect.EQ(t, s.len(), 2)

	errStop := errors.New("stop")
	err := s.popBefore(100, func(acc *readcontext.Accumulator) error { return errStop })
	expect.EQ(t, err, errStop)
	// The failing accumulator has already been removed.
	expect.EQ(t, s.len(), 1)

	assert.NoError(t, s.popBefore(100, collect))
	expect.EQ(t, popped, []PosType{5, 12, 30})
	expect.EQ(t, s.len(), 0)
}
