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
	"github.com/biogo/store/llrb"
	"github.com/grailbio/evidence/readcontext"
)

// pendingPos is a position whose evidence is still being collected.
type pendingPos struct {
	pos PosType
	acc *readcontext.Accumulator
}

func (p *pendingPos) Compare(c llrb.Comparable) int {
	return int(p.pos) - int(c.(*pendingPos).pos)
}

// pendingStore holds the open accumulators of one worker, ordered by
// position.  Reads arrive in position order, so every accumulator before the
// current read's start can be finalized.
type pendingStore struct {
	tree llrb.Tree
}

// get returns the accumulator for pos, creating it if necessary.
func (s *pendingStore) get(refName string, pos PosType) *readcontext.Accumulator {
	key := pendingPos{pos: pos}
	if c := s.tree.Get(&key); c != nil {
		return c.(*pendingPos).acc
	}
	p := &pendingPos{pos: pos, acc: readcontext.NewAccumulator(refName, pos)}
	s.tree.Insert(p)
	return p.acc
}

func (s *pendingStore) len() int {
	return s.tree.Len()
}

// popBefore removes the accumulators at positions < limit and calls fn on
// them in position order.  It stops at the first error.
func (s *pendingStore) popBefore(limit PosType, fn func(acc *readcontext.Accumulator) error) error {
	for s.tree.Len() > 0 {
		min := s.tree.Min().(*pendingPos)
		if min.pos >= limit {
			return nil
		}
		s.tree.DeleteMin()
		if err := fn(min.acc); err != nil {
			return err
		}
	}
	return nil
}
