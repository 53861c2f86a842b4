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
	"math/rand"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/evidence/regionmatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// insEvidence returns A>AT evidence from a read in which the insertion's
// anchor is at offset 3, followed by the inserted T and then next.
func insEvidence(t *testing.T, next byte, qual int) Evidence {
	read := []byte("CCGATGGC")
	read[5] = next
	ctx, err := New(read, 3, 1, 2, 2)
	require.NoError(t, err)
	return NewEvidence("A", "AT", qual, 1, Present(ctx))
}

func TestAccumulatorMergesIdenticalReads(t *testing.T) {
	acc := NewAccumulator("chr1", 999)
	require.NoError(t, acc.Submit(insEvidence(t, 'G', 30)))
	require.NoError(t, acc.Submit(insEvidence(t, 'G', 25)))

	buckets, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, "A", b.Ref)
	assert.Equal(t, "AT", b.Alt)
	assert.Equal(t, 2, b.Reads)
	assert.Equal(t, 55, b.Quality)
	assert.Equal(t, 2, b.Events)
	assert.Empty(t, b.Secondary)
	ctx, ok := b.Context.Get()
	require.True(t, ok)
	assert.Equal(t, "ATG", string(ctx.Core()))
}

func TestAccumulatorSecondary(t *testing.T) {
	acc := NewAccumulator("chr1", 999)
	require.NoError(t, acc.Submit(insEvidence(t, 'G', 30)))
	require.NoError(t, acc.Submit(insEvidence(t, 'G', 25)))
	conflict := insEvidence(t, 'C', 20)
	require.NoError(t, acc.Submit(conflict))
	// Joins the secondary rather than starting another one.
	require.NoError(t, acc.Submit(insEvidence(t, 'C', 10)))
	// Confirms without voting on the context.
	require.NoError(t, acc.Submit(NewEvidence("A", "AT", 5, 3, Absent())))
	assert.Equal(t, 1, acc.Len())

	buckets, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	p := buckets[0]
	assert.Equal(t, 3, p.Reads)
	assert.Equal(t, 60, p.Quality)
	assert.Equal(t, 5, p.Events)
	pctx, _ := p.Context.Get()
	assert.Equal(t, "ATG", string(pctx.Core()))

	require.Len(t, p.Secondary, 1)
	s := p.Secondary[0]
	assert.Equal(t, 2, s.Reads)
	assert.Equal(t, 30, s.Quality)
	sctx, ok := s.Context.Get()
	require.True(t, ok)
	assert.Equal(t, "ATC", string(sctx.Core()))
	cctx, _ := conflict.Context.Get()
	assert.Equal(t, cctx.Digest(), s.Digest)
}

func TestAccumulatorAdoptsContext(t *testing.T) {
	acc := NewAccumulator("chr1", 999)
	require.NoError(t, acc.Submit(NewEvidence("A", "AT", 5, 1, Absent())))
	require.NoError(t, acc.Submit(insEvidence(t, 'G', 30)))
	require.NoError(t, acc.Submit(insEvidence(t, 'C', 30)))
	buckets, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].Reads)
	ctx, ok := buckets[0].Context.Get()
	require.True(t, ok)
	assert.Equal(t, "ATG", string(ctx.Core()))
	assert.Len(t, buckets[0].Secondary, 1)
}

func TestAccumulatorFinalize(t *testing.T) {
	acc := NewAccumulator("chr2", 41)
	submit := func(ref, alt string, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, acc.Submit(NewEvidence(ref, alt, 30, 1, Absent())))
		}
	}
	submit("A", "G", 3)
	submit("A", "C", 5)
	submit("A", "AT", 3)
	require.NoError(t, acc.Exclude())
	assert.False(t, acc.Finalized())

	buckets, err := acc.Finalize()
	require.NoError(t, err)
	var got []string
	for _, b := range buckets {
		got = append(got, b.Ref+">"+b.Alt)
	}
	assert.Equal(t, []string{"A>C", "A>AT", "A>G"}, got)
	assert.True(t, acc.Finalized())
	assert.Equal(t, 1, acc.Excluded())

	err = acc.Submit(NewEvidence("A", "G", 30, 1, Absent()))
	assert.True(t, errors.Is(errors.Precondition, err), "%v", err)
	err = acc.Exclude()
	assert.True(t, errors.Is(errors.Precondition, err), "%v", err)
	assert.Equal(t, 1, acc.Excluded())

	again, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, buckets, again)
	assert.Equal(t, 3, again[2].Reads)
}

func TestAccumulatorRegion(t *testing.T) {
	acc := NewAccumulator("chr1", 10)
	ev := NewEvidence("A", "G", 30, 1, Absent())
	ev.Region = regionmatch.Intron
	require.NoError(t, acc.Submit(ev))
	ev.Region = regionmatch.ExonBoundary
	require.NoError(t, acc.Submit(ev))
	ev.Region = regionmatch.WithinExon
	require.NoError(t, acc.Submit(ev))
	buckets, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, regionmatch.ExonBoundary, buckets[0].Region)
}

func TestAccumulatorOrderIndependence(t *testing.T) {
	// Substitution evidence from overlapping reads of one fragment, each
	// anchored at a different read offset.
	const fragment = "TTAGCCGTAGGCAT"
	const pos = 7
	var evs []Evidence
	for start := 0; start <= pos; start++ {
		for end := pos + 1; end <= len(fragment); end += 2 {
			read := []byte(fragment[start:end])
			index := pos - start
			read[index] = 'A'
			ctx, err := New(read, index, 1, 1, 3)
			require.NoError(t, err)
			evs = append(evs, NewEvidence("T", "A", start+end, 1, Present(ctx)))
		}
	}
	var want []Bucket
	r := rand.New(rand.NewSource(0))
	for trial := 0; trial < 10; trial++ {
		r.Shuffle(len(evs), func(i, j int) { evs[i], evs[j] = evs[j], evs[i] })
		acc := NewAccumulator("chr1", 100)
		for _, ev := range evs {
			require.NoError(t, acc.Submit(ev))
		}
		got, err := acc.Finalize()
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0].Secondary)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want[0].Reads, got[0].Reads)
		assert.Equal(t, want[0].Quality, got[0].Quality)
		assert.Equal(t, want[0].Events, got[0].Events)
		wctx, _ := want[0].Context.Get()
		gctx, _ := got[0].Context.Get()
		assert.Equal(t, wctx.String(), gctx.String())
		assert.Equal(t, wctx.Digest(), gctx.Digest())
	}
}

func TestAccumulatorConcurrentSubmit(t *testing.T) {
	const n = 1000
	acc := NewAccumulator("chr1", 999)
	agree, conflict := insEvidence(t, 'G', 1), insEvidence(t, 'C', 1)
	err := traverse.Each(n, func(i int) error {
		if i%4 == 0 {
			return acc.Submit(conflict)
		}
		return acc.Submit(agree)
	})
	require.NoError(t, err)
	buckets, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	total := buckets[0].Reads
	for _, s := range buckets[0].Secondary {
		total += s.Reads
	}
	assert.Equal(t, n, total)
	assert.Len(t, buckets[0].Secondary, 1)
	// Whichever context arrived first is primary.
	assert.Contains(t, []int{n / 4, 3 * n / 4}, buckets[0].Reads)
}
