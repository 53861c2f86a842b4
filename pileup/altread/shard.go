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
	"github.com/grailbio/evidence/interval"
	"github.com/grailbio/hts/sam"
)

// shard is a [start, end) range of one reference.  Shards never overlap, so
// each position is attributed to exactly one of them.
type shard struct {
	ref        *sam.Reference
	start, end PosType
}

// generateShards splits the part of each reference covered by targets into
// shards of at most shardSize bases, in header order.  Windows containing no
// target position are skipped.
func generateShards(header *sam.Header, targets *interval.BEDUnion, shardSize int) []shard {
	var shards []shard
	size := PosType(shardSize)
	for _, ref := range header.Refs() {
		refID := ref.ID()
		endpoints := targets.EndpointsByID(refID)
		if len(endpoints) == 0 {
			continue
		}
		refLen := PosType(ref.Len())
		lo := endpoints[0]
		hi := endpoints[len(endpoints)-1]
		if hi > refLen {
			hi = refLen
		}
		for start := lo; start < hi; start += size {
			end := start + size
			if end > hi || end < start {
				end = hi
			}
			if !targets.IntersectsByID(refID, start, end) {
				continue
			}
			shards = append(shards, shard{ref: ref, start: start, end: end})
		}
	}
	return shards
}
