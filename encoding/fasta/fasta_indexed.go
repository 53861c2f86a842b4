package fasta

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Index files consist of one tab-separated line per sequence in the associated
// FASTA file.  The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

type indexEntry struct {
	length    uint64
	offset    uint64
	lineBase  uint64
	lineWidth uint64
}

func parseIndex(index io.Reader) (map[string]indexEntry, []string, error) {
	seqs := make(map[string]indexEntry)
	var seqNames []string
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		matches := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(matches) != 6 {
			return nil, nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		var (
			ent  indexEntry
			vals = []*uint64{&ent.length, &ent.offset, &ent.lineBase, &ent.lineWidth}
		)
		for i, v := range vals {
			var err error
			if *v, err = strconv.ParseUint(matches[i+2], 10, 64); err != nil {
				return nil, nil, errors.Wrapf(err, "invalid index line: %s", scanner.Text())
			}
		}
		if ent.lineBase == 0 || ent.lineWidth < ent.lineBase {
			return nil, nil, errors.Errorf("invalid line geometry in index line: %s", scanner.Text())
		}
		seqs[matches[1]] = ent
		seqNames = append(seqNames, matches[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	sort.SliceStable(seqNames, func(i, j int) bool {
		return seqs[seqNames[i]].offset < seqs[seqNames[j]].offset
	})
	return seqs, seqNames, nil
}

type indexedFasta struct {
	seqs      map[string]indexEntry
	seqNames  []string // returned by SeqNames()
	opts      opts
	reader    io.ReadSeeker
	mu        sync.Mutex
	bufOff    int64
	buf       []byte // caches file contents starting at bufOff.
	resultBuf []byte // temp for concatenating multi-line sequences.
}

// NewIndexed creates a new Fasta that can perform efficient random lookups
// using the provided .fai index, without reading the data into memory.
func NewIndexed(fasta io.ReadSeeker, index io.Reader, optList ...Opt) (Fasta, error) {
	seqs, seqNames, err := parseIndex(index)
	if err != nil {
		return nil, err
	}
	return &indexedFasta{
		seqs:     seqs,
		seqNames: seqNames,
		opts:     parseOpts(optList),
		reader:   fasta,
	}, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

// read returns range [off, off+n) of the underlying fasta file.  REQUIRES:
// f.mu is held.
func (f *indexedFasta) read(off int64, n int) ([]byte, error) {
	limit := off + int64(n)
	if off >= f.bufOff && limit <= f.bufOff+int64(len(f.buf)) {
		return f.buf[off-f.bufOff : limit-f.bufOff], nil
	}
	if newOffset, err := f.reader.Seek(off, io.SeekStart); err != nil || newOffset != off {
		return nil, errors.Errorf("failed to seek to offset %d: %d, %v", off, newOffset, err)
	}
	bufSize := 8192
	if bufSize < n {
		bufSize = n
	}
	resizeBuf(&f.buf, bufSize)
	bytesRead, err := io.ReadAtLeast(f.reader, f.buf, n)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if bytesRead < n {
		return nil, errors.Errorf("unexpected end of file at offset %d (bad index? file doesn't end in newline?)", off)
	}
	f.bufOff = off
	f.buf = f.buf[:bytesRead]
	return f.buf[:n], nil
}

func resizeBuf(buf *[]byte, n int) {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	} else {
		*buf = (*buf)[0:n]
	}
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start uint64, end uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", seqName)
	}
	if end > ent.length {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, ent.length)
	}

	// Start the read at a byte offset allowing for the presence of newline
	// characters.
	charsPerNewline := ent.lineWidth - ent.lineBase
	offset := ent.offset + start + charsPerNewline*(start/ent.lineBase)

	// Figure out how many characters (including newlines) we should read,
	// and read them.
	firstLineBases := ent.lineBase - (start % ent.lineBase)
	newlinesToRead := uint64(0)
	if end-start > firstLineBases {
		newlinesToRead = 1 + (end-start-firstLineBases)/ent.lineBase
	}
	// The last line need not be terminated.
	capacity := end - start + newlinesToRead*charsPerNewline
	if newlinesToRead > 0 && (end-start-firstLineBases)%ent.lineBase == 0 {
		capacity -= charsPerNewline
	}

	buffer, err := f.read(int64(offset), int(capacity))
	if err != nil {
		return "", err
	}

	// Copy the non-newline characters to the result.
	resizeBuf(&f.resultBuf, int(end-start))
	linePos := start % ent.lineBase
	resultPos := 0
	for _, b := range buffer {
		if linePos < ent.lineBase {
			f.resultBuf[resultPos] = b
			resultPos++
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	if f.opts.clean {
		cleanInplace(f.resultBuf)
	}
	return string(f.resultBuf), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}
