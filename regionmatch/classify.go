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
package regionmatch

import (
	"sort"

	"github.com/grailbio/evidence/interval"
)

// Block is a half-open 0-based reference interval covered by one ungapped
// piece of a read's alignment.
type Block struct {
	Start interval.PosType
	End   interval.PosType
}

// Classify returns how block [start, end) matches feature [featStart,
// featEnd).
func Classify(start, end, featStart, featEnd interval.PosType) MatchType {
	if end <= featStart || start >= featEnd {
		return None
	}
	if start < featStart || end > featEnd {
		return ExonIntron
	}
	startOn := start == featStart
	endOn := end == featEnd
	if startOn && endOn {
		return ExonMatch
	}
	if startOn || endOn {
		return ExonBoundary
	}
	return WithinExon
}

// ClassifyRead classifies a read, given as sorted aligned blocks, against a
// sorted set of disjoint features in the flattened [start0, end0, start1,
// end1, ...] layout returned by interval.BEDUnion.EndpointsByID.
//
// Each block is classified against every feature it overlaps.  A block
// overlapping no feature is Intron if there is a feature on both sides of it,
// and None otherwise.  All per-block verdicts are collapsed with Best.
func ClassifyRead(blocks []Block, features []interval.PosType) MatchType {
	if len(features) == 0 {
		return None
	}
	var verdicts Set
	featIdx := 0
	nFeat := len(features) / 2
	for _, b := range blocks {
		// Skip features ending at or before this block.  Blocks are sorted, so
		// featIdx never moves backward.
		base := featIdx
		featIdx += sort.Search(nFeat-base, func(i int) bool {
			return features[2*(base+i)+1] > b.Start
		})
		overlapped := false
		for i := featIdx; i < nFeat; i++ {
			featStart := features[2*i]
			if featStart >= b.End {
				break
			}
			verdicts = verdicts.Add(Classify(b.Start, b.End, featStart, features[2*i+1]))
			overlapped = true
		}
		if !overlapped {
			if featIdx > 0 && featIdx < nFeat {
				verdicts = verdicts.Add(Intron)
			} else {
				verdicts = verdicts.Add(None)
			}
		}
	}
	return Best(verdicts)
}
