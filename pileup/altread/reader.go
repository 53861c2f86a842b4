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
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// bamSource is an indexed BAM file.  The header and index are read once and
// shared by all iterators; each iterator opens its own file handle.
type bamSource struct {
	path   string
	header *sam.Header
	index  *bam.Index
}

func openBAM(ctx context.Context, path, indexPath string) (src *bamSource, err error) {
	if indexPath == "" {
		indexPath = path + ".bai"
	}
	src = &bamSource{path: path}

	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	bamReader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.Wrapf(err, "altread: reading BAM header from %s", path)
	}
	src.header = bamReader.Header()
	if err = bamReader.Close(); err != nil {
		return nil, err
	}

	var indexIn file.File
	if indexIn, err = file.Open(ctx, indexPath); err != nil {
		return nil, err
	}
	defer func() {
		if e := indexIn.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if src.index, err = bam.ReadIndex(indexIn.Reader(ctx)); err != nil {
		return nil, errors.Wrapf(err, "altread: reading BAM index %s", indexPath)
	}
	return src, nil
}

// regionIterator yields the records of one reference that overlap the
// half-open interval [start, end), in file order.
type regionIterator struct {
	ctx        context.Context
	in         file.File
	reader     *bam.Reader
	refID      int
	start, end int

	active bool
	err    error
	next   *sam.Record
}

// newIterator returns an iterator over the records of ref overlapping
// [start, end).  Errors are reported through Err after Scan returns false.
func (s *bamSource) newIterator(ctx context.Context, ref *sam.Reference, start, end int) *regionIterator {
	iter := &regionIterator{ctx: ctx, refID: ref.ID(), start: start, end: end, active: true}
	chunks, err := s.index.Chunks(ref, start, end)
	if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
		// No reads for this interval.
		iter.err = io.EOF
		return iter
	}
	if err != nil {
		iter.err = err
		return iter
	}
	if iter.in, iter.err = file.Open(ctx, s.path); iter.err != nil {
		return iter
	}
	if iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1); iter.err != nil {
		return iter
	}
	iter.err = iter.reader.Seek(chunks[0].Begin)
	return iter
}

// Scan advances to the next overlapping record.
func (i *regionIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	if i.err != nil {
		return false
	}
	for {
		if i.next != nil {
			sam.PutInFreePool(i.next)
		}
		i.next, i.err = i.reader.Read()
		if i.err != nil {
			i.next = nil
			return false
		}
		rec := i.next
		if rec.Ref.ID() != i.refID || rec.Pos >= i.end {
			i.err = io.EOF
			return false
		}
		span, _ := rec.Cigar.Lengths()
		if rec.Pos+span <= i.start {
			continue
		}
		return true
	}
}

// Record returns the current record.  It is recycled by the next call to
// Scan; callers that keep it must Clone() it.
func (i *regionIterator) Record() *sam.Record {
	return i.next
}

// Err returns the first error encountered, other than end of iteration.
func (i *regionIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close releases the file handle and returns Err().
func (i *regionIterator) Close() error {
	if !i.active {
		vlog.Fatal(i)
	}
	i.active = false
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.Err() == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(i.ctx); err != nil && i.Err() == nil {
			i.err = err
		}
		i.in = nil
	}
	return i.Err()
}
