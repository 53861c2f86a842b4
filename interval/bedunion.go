package interval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// PosType is BEDUnion's coordinate type.
type PosType int32

// PosTypeMax is the largest representable PosType.  It is never a valid
// interval endpoint.
const PosTypeMax = math.MaxInt32

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// SAMHeader enables ID-based lookup.
	SAMHeader *sam.Header
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// BEDUnion stores, for each chromosome, a length-2N sequence of endpoints
// where the (0-based) start of interval #k is in element [2k] and its end is
// in element [2k+1], in increasing order.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	// Always initialized.
	nameMap map[string][]PosType
	// idMap is indexed by sam.Header reference ID.  Only initialized when a
	// SAMHeader was provided.
	idMap [][]PosType
	// RefNames[i] is the name of reference ID i.  Only initialized when a
	// SAMHeader was provided.
	RefNames []string

	// Sequential-query cache; see ContainsByID.
	lastRefID    int
	lastPosPlus1 PosType
	lastIdx      int
}

func initBEDUnion() BEDUnion {
	return BEDUnion{
		nameMap:   make(map[string][]PosType),
		lastRefID: -1,
	}
}

// unionBuilder merges a sorted stream of intervals into a BEDUnion.
type unionBuilder struct {
	u          BEDUnion
	prevChr    string
	prevStart  PosType
	prevEnd    PosType
	cur        []PosType
	totalBases int
}

func newUnionBuilder() *unionBuilder {
	return &unionBuilder{u: initBEDUnion(), prevEnd: -1}
}

func (b *unionBuilder) finishChr() {
	if b.prevChr == "" {
		return
	}
	if b.prevEnd != -1 {
		b.cur = append(b.cur, b.prevStart, b.prevEnd)
	}
	b.u.nameMap[b.prevChr] = b.cur
}

// add appends [start, end) on chr.  Empty intervals still "mention" the
// chromosome.
func (b *unionBuilder) add(chr string, start, end PosType) error {
	if start < 0 {
		return fmt.Errorf("interval: negative start coordinate %d", start)
	}
	if end < start || end >= PosTypeMax {
		return fmt.Errorf("interval: invalid coordinate pair [%d, %d)", start, end)
	}
	if chr != b.prevChr {
		b.finishChr()
		if _, found := b.u.nameMap[chr]; found {
			return fmt.Errorf("interval: unsorted input (split chromosome %v)", chr)
		}
		b.prevChr = chr
		b.cur = []PosType{}
		b.prevStart, b.prevEnd = -1, -1
	}
	if end == start {
		return nil
	}
	if b.prevEnd == -1 {
		b.prevStart, b.prevEnd = start, end
		b.totalBases += int(end - start)
		return nil
	}
	if start < b.prevStart {
		return fmt.Errorf("interval: unsorted input on %v at %d", chr, start)
	}
	if start > b.prevEnd {
		b.cur = append(b.cur, b.prevStart, b.prevEnd)
		b.prevStart, b.prevEnd = start, end
		b.totalBases += int(end - start)
		return nil
	}
	if end > b.prevEnd {
		b.totalBases += int(end - b.prevEnd)
		b.prevEnd = end
	}
	return nil
}

func (b *unionBuilder) build(header *sam.Header) BEDUnion {
	b.finishChr()
	if header != nil {
		b.u.initIDs(header)
	}
	return b.u
}

func (u *BEDUnion) initIDs(header *sam.Header) {
	refs := header.Refs()
	u.idMap = make([][]PosType, len(refs))
	u.RefNames = make([]string, len(refs))
	for refID, ref := range refs {
		u.RefNames[refID] = ref.Name()
		u.idMap[refID] = u.nameMap[ref.Name()]
	}
}

// NewBEDUnion loads the intervals from a sorted (by first coordinate)
// interval-BED, merging touching/overlapping intervals and eliminating empty
// ones in the process.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (BEDUnion, error) {
	var startSubtract PosType
	if opts.OneBasedInput {
		startSubtract = 1
	}
	b := newUnionBuilder()
	scanner := bufio.NewScanner(reader)
	var tokens [3][]byte
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || curLine[0] == '#' {
			continue
		}
		if nToken != 3 {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return BEDUnion{}, err
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return BEDUnion{}, err
		}
		if end >= PosTypeMax {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnion: end coordinate out of range on line %d", lineIdx)
		}
		// string() copies: tokens point into the scanner's buffer.
		if err = b.add(string(tokens[0]), PosType(start)-startSubtract, PosType(end)); err != nil {
			return BEDUnion{}, fmt.Errorf("%v (line %d)", err, lineIdx)
		}
	}
	if err := scanner.Err(); err != nil {
		return BEDUnion{}, err
	}
	log.Printf("BED loaded, %d base(s) covered.", b.totalBases)
	return b.build(opts.SAMHeader), nil
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped input is detected by extension.
func NewBEDUnionFromPath(path string, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer func() {
			if cerr := gz.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		reader = gz
	}
	return NewBEDUnion(reader, opts)
}

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	RefName string
	Start0  PosType
	End     PosType
}

// NewBEDUnionFromEntries initializes a BEDUnion from a sorted []Entry.
// This ignores opts.OneBasedInput, since Start0 is defined to be zero-based.
func NewBEDUnionFromEntries(entries []Entry, opts NewBEDOpts) (BEDUnion, error) {
	b := newUnionBuilder()
	for _, e := range entries {
		if err := b.add(e.RefName, e.Start0, e.End); err != nil {
			return BEDUnion{}, err
		}
	}
	return b.build(opts.SAMHeader), nil
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return
		}
		if pos1 <= 0 || pos1 >= PosTypeMax {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}

// EndpointsByID returns the flattened interval endpoints for the given
// reference ID, or nil if there are none.
func (u *BEDUnion) EndpointsByID(refID int) []PosType {
	if refID < 0 || refID >= len(u.idMap) {
		return nil
	}
	return u.idMap[refID]
}

// EndpointsByName returns the flattened interval endpoints for the named
// chromosome, or nil if there are none.
func (u *BEDUnion) EndpointsByName(refName string) []PosType {
	return u.nameMap[refName]
}

// OverlapByID returns the subslice of EndpointsByID(refID) covering the
// intervals which intersect [start, end).  It always has even length.
func (u *BEDUnion) OverlapByID(refID int, start, end PosType) []PosType {
	endpoints := u.EndpointsByID(refID)
	// First interval with end > start.
	startIdx := searchPosType(endpoints, start+1) &^ 1
	// First interval with start >= end.
	endIdx := (searchPosType(endpoints, end) + 1) &^ 1
	if startIdx >= endIdx {
		return nil
	}
	return endpoints[startIdx:endIdx]
}

// IntersectsByID checks whether [start, end) on the given reference
// intersects the interval set.
func (u *BEDUnion) IntersectsByID(refID int, start, end PosType) bool {
	return len(u.OverlapByID(refID, start, end)) != 0
}

// ContainsByID checks whether the (0-based) interval [pos, pos+1) is contained
// within the BEDUnion.  It is optimized for nondecreasing sequences of
// queries on the same reference.
func (u *BEDUnion) ContainsByID(refID int, pos PosType) bool {
	endpoints := u.EndpointsByID(refID)
	if endpoints == nil {
		return false
	}
	posPlus1 := pos + 1
	if refID != u.lastRefID || posPlus1 < u.lastPosPlus1 {
		u.lastRefID = refID
		u.lastIdx = searchPosType(endpoints, posPlus1)
	} else {
		for u.lastIdx < len(endpoints) && endpoints[u.lastIdx] < posPlus1 {
			u.lastIdx++
		}
	}
	u.lastPosPlus1 = posPlus1
	return u.lastIdx&1 == 1
}

// ContainsByName checks whether the (0-based) interval [pos, pos+1) is
// contained within the BEDUnion, where chromosome is specified by name.
func (u *BEDUnion) ContainsByName(refName string, pos PosType) bool {
	return searchPosType(u.nameMap[refName], pos+1)&1 == 1
}

// Clone returns a new BEDUnion which shares the interval set, but has its own
// search state.  Each worker thread should own a clone.
func (u *BEDUnion) Clone() BEDUnion {
	return BEDUnion{
		nameMap:   u.nameMap,
		idMap:     u.idMap,
		RefNames:  u.RefNames,
		lastRefID: -1,
	}
}
