package fasta_test

import (
	"strings"
	"testing"

	"github.com/grailbio/evidence/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const (
	fastaData  = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"
	fastaIndex = "seq1\t12\t6\t5\t6\n" + "seq2\t8\t44\t4\t5\n"
)

// bothFastas returns the in-memory and the indexed Fasta for data.
func bothFastas(t *testing.T, data, index string, opts ...fasta.Opt) map[string]fasta.Fasta {
	unindexed, err := fasta.New(strings.NewReader(data), opts...)
	assert.NoError(t, err)
	indexed, err := fasta.NewIndexed(strings.NewReader(data), strings.NewReader(index), opts...)
	assert.NoError(t, err)
	return map[string]fasta.Fasta{"unindexed": unindexed, "indexed": indexed}
}

func TestGet(t *testing.T) {
	tests := []struct {
		seq        string
		start, end uint64
		want       string
		ok         bool
	}{
		{"seq1", 1, 2, "C", true},
		{"seq1", 1, 6, "CGTAC", true},
		{"seq1", 3, 10, "TACGTAC", true},
		{"seq1", 0, 12, "ACGTACGTACGT", true},
		{"seq1", 10, 12, "GT", true},
		{"seq2", 0, 8, "ACGTACGT", true},
		{"seq2", 2, 5, "GTA", true},
		{"seq0", 0, 1, "", false},
		{"seq1", 10, 13, "", false},
		{"seq1", 4, 3, "", false},
	}
	for name, fa := range bothFastas(t, fastaData, fastaIndex) {
		for _, tt := range tests {
			got, err := fa.Get(tt.seq, tt.start, tt.end)
			if !tt.ok {
				expect.True(t, err != nil, "%s: %+v", name, tt)
				continue
			}
			expect.NoError(t, err, "%s: %+v", name, tt)
			expect.EQ(t, got, tt.want, "%s: %+v", name, tt)
		}
	}
}

func TestLenAndSeqNames(t *testing.T) {
	for name, fa := range bothFastas(t, fastaData, fastaIndex) {
		n, err := fa.Len("seq1")
		expect.NoError(t, err)
		expect.EQ(t, n, uint64(12), name)
		n, err = fa.Len("seq2")
		expect.NoError(t, err)
		expect.EQ(t, n, uint64(8), name)
		_, err = fa.Len("seq0")
		expect.True(t, err != nil, name)
		expect.EQ(t, fa.SeqNames(), []string{"seq1", "seq2"}, name)
	}
}

func TestUnterminatedLastLine(t *testing.T) {
	const (
		data  = ">E0\nGGGG\n>E1\nCCCCC\nAAAAA"
		index = "E0\t4\t4\t4\t5\nE1\t10\t13\t5\t6\n"
	)
	for name, fa := range bothFastas(t, data, index) {
		got, err := fa.Get("E1", 3, 10)
		expect.NoError(t, err, name)
		expect.EQ(t, got, "CCAAAAA", name)
	}
}

func TestClean(t *testing.T) {
	const (
		data  = ">chrM\nacgtNNRY\nGGccaa\n"
		index = "chrM\t14\t6\t8\t9\n"
	)
	for name, fa := range bothFastas(t, data, index, fasta.OptClean) {
		got, err := fa.Get("chrM", 0, 14)
		expect.NoError(t, err, name)
		expect.EQ(t, got, "ACGTNNNNGGCCAA", name)
	}
	raw, err := fasta.New(strings.NewReader(data))
	assert.NoError(t, err)
	got, err := raw.Get("chrM", 0, 4)
	expect.NoError(t, err)
	expect.EQ(t, got, "acgt")
}

func TestMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"ACGT\n",
		">a\nAC\n>a\nGT\n",
	} {
		_, err := fasta.New(strings.NewReader(data))
		expect.True(t, err != nil, "%q", data)
	}
	for _, index := range []string{
		"seq1\t12\n",
		"seq1\t12\t6\t0\t6\n",
		"seq1\t12\t6\t6\t5\n",
	} {
		_, err := fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader(index))
		expect.True(t, err != nil, "%q", index)
	}
}
