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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

const (
	refNamesHeader = "RefNames"
	trailerVersion = 1
)

// evidenceRowWriter renders EvidenceRows as TSV lines.
type evidenceRowWriter struct {
	tsvw      *tsv.Writer
	colBitset int
	refNames  []string
}

func newEvidenceRowWriter(w io.Writer, colBitset int, refNames []string) *evidenceRowWriter {
	return &evidenceRowWriter{
		tsvw:      tsv.NewWriter(w),
		colBitset: colBitset,
		refNames:  refNames,
	}
}

func (ew *evidenceRowWriter) writeHeader() error {
	ew.tsvw.WriteString("#CHROM\tPOS\tREF\tALT\tREADS\tQUAL\tEVENTS")
	if ew.colBitset&colBitContext != 0 {
		ew.tsvw.WriteString("CORE_START\tCORE_END\tCORE")
	}
	if ew.colBitset&colBitRegion != 0 {
		ew.tsvw.WriteString("REGION")
	}
	if ew.colBitset&colBitSecondary != 0 {
		ew.tsvw.WriteString("DIGEST")
	}
	if ew.colBitset&colBitExcluded != 0 {
		ew.tsvw.WriteString("EXCLUDED")
	}
	return ew.tsvw.EndLine()
}

// writeRow writes one row.  Secondary rows are dropped unless the secondary
// column-set is enabled.  POS is 1-based; CORE_START and CORE_END are
// relative to the anchor base.
func (ew *evidenceRowWriter) writeRow(r *EvidenceRow) error {
	if r.Secondary() && ew.colBitset&colBitSecondary == 0 {
		return nil
	}
	if int(r.RefID) >= len(ew.refNames) {
		return fmt.Errorf("evidenceRowWriter: reference ID %d out of range", r.RefID)
	}
	tsvw := ew.tsvw
	tsvw.WriteString(ew.refNames[r.RefID]) // CHROM
	tsvw.WriteUint32(r.Pos + 1)            // POS
	tsvw.WriteString(r.Ref)
	tsvw.WriteString(r.Alt)
	tsvw.WriteUint32(r.Reads)
	tsvw.WriteUint32(r.Quality)
	tsvw.WriteUint32(r.Events)
	if ew.colBitset&colBitContext != 0 {
		if r.HasContext() {
			tsvw.WriteString(strconv.FormatInt(int64(r.CoreStart)-int64(r.Index), 10))
			tsvw.WriteString(strconv.FormatInt(int64(r.CoreEnd)-int64(r.Index), 10))
			tsvw.WriteString(string(r.Core()))
		} else {
			tsvw.WriteString(".\t.\t.")
		}
	}
	if ew.colBitset&colBitRegion != 0 {
		tsvw.WriteString(r.Region.String())
	}
	if ew.colBitset&colBitSecondary != 0 {
		if r.Secondary() {
			tsvw.WriteString(strconv.FormatUint(r.Digest, 16))
		} else {
			tsvw.WriteByte('.')
		}
	}
	if ew.colBitset&colBitExcluded != 0 {
		tsvw.WriteUint32(r.Excluded)
	}
	return tsvw.EndLine()
}

func (ew *evidenceRowWriter) flush() error {
	return ew.tsvw.Flush()
}

// forEachTmpRow scans the per-shard temporary files in order, calling fn on
// each row.  Each file is closed and removed once consumed.
func forEachTmpRow(tmpFiles []*os.File, fn func(r *EvidenceRow) error) (err error) {
	for i, f := range tmpFiles {
		if _, err = f.Seek(0, 0); err != nil {
			return
		}
		scanner := recordio.NewScanner(f, recordio.ScannerOpts{
			Unmarshal: unmarshalEvidenceRow,
		})
		for scanner.Scan() {
			if err = fn(scanner.Get().(*EvidenceRow)); err != nil {
				return
			}
		}
		if err = scanner.Err(); err != nil {
			return
		}
		curPath := f.Name()
		if err = f.Close(); err != nil {
			return
		}
		tmpFiles[i] = nil
		// os.Remove returns an error if we try to remove a file that isn't there.
		_ = os.Remove(curPath)
	}
	return
}

func convertEvidenceRowsToTSV(ctx context.Context, tmpFiles []*os.File, mainPath string, colBitset int, bgzip bool, parallelism int, refNames []string) (err error) {
	path := mainPath + ".evidence.tsv"
	if bgzip {
		path = path + ".gz"
	}
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)

	var out io.Writer = dst.Writer(ctx)
	if bgzip {
		bgzfWriter := bgzf.NewWriter(out, parallelism)
		defer func() {
			if e := bgzfWriter.Close(); e != nil && err == nil {
				err = e
			}
		}()
		out = bgzfWriter
	}
	ew := newEvidenceRowWriter(out, colBitset, refNames)
	if err = ew.writeHeader(); err != nil {
		return
	}
	if err = forEachTmpRow(tmpFiles, ew.writeRow); err != nil {
		return
	}
	if err = ew.flush(); err != nil {
		return
	}
	log.Printf("convertEvidenceRowsToTSV: done, final results written to %s", path)
	return
}

func evidenceRioTrailer(numRows int) []byte {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int64(numRows)); err != nil {
		panic("couldn't write numRows to trailer")
	}
	return buffer.Bytes()
}

func parseEvidenceRioTrailer(trailer []byte) (int64, error) {
	r := bytes.NewReader(trailer)
	var version, numRows int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trailerVersion {
		return 0, fmt.Errorf("unrecognized trailer version: got %d, want %d", version, trailerVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &numRows); err != nil {
		return 0, err
	}
	return numRows, nil
}

// The .evidence.rio format carries every row, secondaries included; column
// selection happens when it is viewed.
func convertEvidenceRowsToRio(ctx context.Context, tmpFiles []*os.File, mainPath string, refNames []string) (err error) {
	path := mainPath + ".evidence.rio"
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)

	recordWriter := recordio.NewWriter(dst.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalEvidenceRow,
		Transformers: []string{recordiozstd.Name},
	})
	recordWriter.AddHeader(refNamesHeader, strings.Join(refNames, "\000"))
	recordWriter.AddHeader(recordio.KeyTrailer, true)
	numRows := 0
	if err = forEachTmpRow(tmpFiles, func(r *EvidenceRow) error {
		recordWriter.Append(r)
		numRows++
		return nil
	}); err != nil {
		return
	}
	recordWriter.SetTrailer(evidenceRioTrailer(numRows))
	if err = recordWriter.Finish(); err != nil {
		return
	}
	log.Printf("convertEvidenceRowsToRio: done, %d rows written to %s", numRows, path)
	return
}

// ReadEvidenceRio reads the rows of an .evidence.rio file, along with the
// reference names their RefIDs index.
func ReadEvidenceRio(rs io.ReadSeeker) (rows []EvidenceRow, refNames []string, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalEvidenceRow,
	})
	if len(scanner.Trailer()) != 0 {
		var numRows int64
		if numRows, err = parseEvidenceRioTrailer(scanner.Trailer()); err != nil {
			return
		}
		rows = make([]EvidenceRow, 0, numRows)
	}
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case refNamesHeader:
			refNames = strings.Split(kv.Value.(string), "\000")
			// Cannot return an error on unrecognized key since recordio can write its own.
		}
	}
	for scanner.Scan() {
		rows = append(rows, *scanner.Get().(*EvidenceRow))
	}
	err = scanner.Err()
	return
}

// View renders the .evidence.rio file at rioPath as TSV, restricted to the
// given column-set descriptor (see ParseCols).
func View(ctx context.Context, rioPath string, w io.Writer, cols string) (err error) {
	colBitset, err := ParseCols(cols)
	if err != nil {
		return
	}
	var in file.File
	if in, err = file.Open(ctx, rioPath); err != nil {
		return
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	rows, refNames, err := ReadEvidenceRio(in.Reader(ctx))
	if err != nil {
		return
	}
	ew := newEvidenceRowWriter(w, colBitset, refNames)
	if err = ew.writeHeader(); err != nil {
		return
	}
	for i := range rows {
		if err = ew.writeRow(&rows[i]); err != nil {
			return
		}
	}
	return ew.flush()
}
