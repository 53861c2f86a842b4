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
package pileup

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/evidence/encoding/fasta"
	"github.com/grailbio/evidence/interval"
	"github.com/grailbio/hts/sam"
)

// Components shared by the evidence collectors.

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// Seq8ToASCIITable is the .bam seq nibble -> ASCII mapping.
var Seq8ToASCIITable = [...]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// ReadBases decodes the .bam seq[] field of samr into dst (which is resized
// as necessary) and returns it.
func ReadBases(dst []byte, samr *sam.Record) []byte {
	n := samr.Seq.Length
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		b := samr.Seq.Seq[i>>1]
		if i&1 == 0 {
			b >>= 4
		}
		dst[i] = Seq8ToASCIITable[b&15]
	}
	return dst
}

// ParseCols parses a column-set-descriptor string given on the command line
// (colsParam) into an integer bitset for internal use.
//
// Two forms are accepted:
// 1. Each part has a '+' or a '-' in front.  These are patches to the
//    default column set.
// 2. No part has a '+' or a '-' in front.  The default is ignored and this is
//    the full set.
func ParseCols(colsParam string, colNameMap map[string]int, defaultColBitset int) (colBitset int, err error) {
	if colsParam == "" {
		return defaultColBitset, nil
	}
	colsParamParts := strings.Split(colsParam, ",")
	patch := isPatch(colsParamParts[0])
	if patch {
		colBitset = defaultColBitset
	}
	for _, part := range colsParamParts {
		if isPatch(part) != patch {
			return 0, errors.E(errors.Invalid, "parseCols: either all terms in column set descriptor must be preceded by +/-, or none can be")
		}
		name := part
		if patch {
			name = part[1:]
		}
		v := colNameMap[name]
		if v == 0 {
			return 0, errors.E(errors.Invalid, fmt.Sprintf("parseCols: %v not found", name))
		}
		if patch && part[0] == '-' {
			colBitset &= ^v
		} else {
			colBitset |= v
		}
	}
	return colBitset, nil
}

func isPatch(part string) bool {
	return part != "" && (part[0] == '+' || part[0] == '-')
}

// LoadFa opens the reference at fapath, with bases cleaned per
// fasta.OptClean.  If an uncompressed reference has a .fai index next to it,
// sequence is read on demand; otherwise the whole reference is loaded into
// memory.
func LoadFa(ctx context.Context, fapath string) (fa fasta.Fasta, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	if !strings.HasSuffix(fapath, ".gz") {
		if faiFile, e := file.Open(ctx, fapath+".fai"); e == nil {
			defer func() {
				if e := faiFile.Close(ctx); e != nil && err == nil {
					err = e
				}
			}()
			log.Debug.Printf("pileup.LoadFa: reading %s on demand", fapath)
			// infile stays open for the lifetime of the returned Fasta.
			return fasta.NewIndexed(infile.Reader(ctx), faiFile.Reader(ctx), fasta.OptClean)
		}
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fasta.New(reader, fasta.OptClean)
}

// CheckRefLengths verifies that every reference in headerRefs which also
// appears in fa has the same length in both.  References missing from either
// side are logged, not treated as errors.
func CheckRefLengths(fa fasta.Fasta, headerRefs []*sam.Reference) error {
	nMissingFromFa := 0
	for _, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, e := fa.Len(refName)
		if e != nil {
			nMissingFromFa++
			continue
		}
		if refLen != uint64(curRef.Len()) {
			return errors.E(errors.Invalid, fmt.Sprintf("pileup.CheckRefLengths: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen))
		}
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.CheckRefLengths: warning: %d reference(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	nMissingFromXam := len(fa.SeqNames()) + nMissingFromFa - len(headerRefs)
	if nMissingFromXam != 0 {
		log.Printf("pileup.CheckRefLengths: warning: %d reference(s) present in .fa but missing from BAM header", nMissingFromXam)
	}
	return nil
}
