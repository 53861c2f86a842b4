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

// Package regionmatch classifies how well a read's aligned blocks match an
// annotated feature window (usually an exon), and ranks those
// classifications so that several attempts can be collapsed to a single
// best-supported verdict.
package regionmatch

// MatchType describes how a read's local alignment matches a feature window.
type MatchType uint8

const (
	// None means the read does not touch any feature.
	None MatchType = iota
	// Intron means the read lies between two features without overlapping
	// either of them.
	Intron
	// ExonIntron means the read overlaps a feature but spans past one of its
	// boundaries into an adjacent unannotated region.
	ExonIntron
	// WithinExon means the read is fully contained in a feature, touching
	// neither boundary.
	WithinExon
	// ExonBoundary means the read is contained in a feature and ends exactly
	// on one of its boundaries.
	ExonBoundary
	// ExonMatch means the read starts and ends exactly on the feature's
	// boundaries.
	ExonMatch

	nMatchType = iota
)

// rankTable is the single source of truth for the MatchType ordering.  Higher
// is better.
var rankTable = [nMatchType]int{
	None:         0,
	Intron:       1,
	ExonIntron:   2,
	WithinExon:   3,
	ExonBoundary: 4,
	ExonMatch:    5,
}

var nameTable = [nMatchType]string{
	None:         "NONE",
	Intron:       "INTRON",
	ExonIntron:   "EXON_INTRON",
	WithinExon:   "WITHIN_EXON",
	ExonBoundary: "EXON_BOUNDARY",
	ExonMatch:    "EXON_MATCH",
}

// Rank returns the integer rank of t.  Unknown tags rank below None.
func Rank(t MatchType) int {
	if int(t) >= nMatchType {
		return -1
	}
	return rankTable[t]
}

// Less reports whether a ranks strictly below b.  It is intended for use as a
// tie-break comparator.
func Less(a, b MatchType) bool {
	return Rank(a) < Rank(b)
}

// String implements fmt.Stringer.
func (t MatchType) String() string {
	if int(t) >= nMatchType {
		return "UNKNOWN"
	}
	return nameTable[t]
}

// Parse converts the output of MatchType.String back to a MatchType.
func Parse(s string) (MatchType, bool) {
	for i, name := range nameTable {
		if name == s {
			return MatchType(i), true
		}
	}
	return None, false
}

// ValidExonMatch returns true for the types that place the read inside a
// feature.
func ValidExonMatch(t MatchType) bool {
	return t == ExonBoundary || t == WithinExon || t == ExonMatch
}

// IsExonBoundary returns true for the types where the read ends on a feature
// boundary.
func IsExonBoundary(t MatchType) bool {
	return t == ExonBoundary || t == ExonMatch
}

// Set is a set of MatchTypes.  The zero value is the empty set.
type Set uint8

// Add returns s with t added.
func (s Set) Add(t MatchType) Set {
	return s | (1 << t)
}

// Contains returns true if t is a member of s.
func (s Set) Contains(t MatchType) bool {
	return s&(1<<t) != 0
}

// Best returns the highest-ranked member of types, or None for the empty set.
func Best(types Set) MatchType {
	best := None
	for t := MatchType(0); t < nMatchType; t++ {
		if types.Contains(t) && Rank(t) > Rank(best) {
			best = t
		}
	}
	return best
}

// BestOf is a convenience wrapper around Best.
func BestOf(types ...MatchType) MatchType {
	var s Set
	for _, t := range types {
		s = s.Add(t)
	}
	return Best(s)
}
