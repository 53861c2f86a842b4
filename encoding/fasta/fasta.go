// Package fasta contains code for parsing (optionally indexed) FASTA files.
// See http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of a
// number of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>chr1 A viral sequence' becomes 'chr1'.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB
)

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type opts struct {
	clean bool
}

// Opt is an option for the in-memory constructors.
type Opt func(*opts)

// OptClean causes bases to be upper-cased, with everything other than A, C,
// G and T replaced by N.  Soft-masked (lowercase) reference sequence then
// compares equal to read bases.
func OptClean(o *opts) { o.clean = true }

func parseOpts(optList []Opt) opts {
	var o opts
	for _, opt := range optList {
		opt(&o)
	}
	return o
}

var cleanTable = func() (t [256]byte) {
	for i := range t {
		t[i] = 'N'
	}
	for _, b := range []byte("ACGT") {
		t[b] = b
		t[b+'a'-'A'] = b
	}
	return
}()

// cleanInplace applies OptClean's transformation to seq.
func cleanInplace(seq []byte) {
	for i, b := range seq {
		seq[i] = cleanTable[b]
	}
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.
func New(r io.Reader, optList ...Opt) (Fasta, error) {
	o := parseOpts(optList)
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var seqName string
	var seq []byte
	add := func() error {
		if seqName == "" {
			return errors.Errorf("malformed FASTA file")
		}
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("duplicate FASTA sequence name: %s", seqName)
		}
		if o.clean {
			cleanInplace(seq)
		}
		f.seqs[seqName] = string(seq)
		f.seqNames = append(f.seqNames, seqName)
		seq = seq[:0]
		return nil
	}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if seqName != "" || len(seq) != 0 {
				if err := add(); err != nil {
					return nil, err
				}
			}
			seqName = strings.Split(string(line[1:]), " ")[0]
		} else {
			seq = append(seq, line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if seqName == "" && len(seq) == 0 {
		return nil, errors.Errorf("empty FASTA file")
	}
	if err := add(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seqName)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}
