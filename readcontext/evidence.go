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
package readcontext

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/evidence/regionmatch"
)

// Evidence is one read's vote for a (Ref, Alt) allele at a position.
type Evidence struct {
	Ref string
	Alt string
	// Quality is the base quality supporting the allele.
	Quality int
	// Events is the number of mismatch and indel events observed in the read
	// near the allele, this one included.
	Events int
	// Context is the read sequence around the allele, if it could be
	// extracted.
	Context OptionalContext
	// Region is how the read aligns relative to annotated features.  None if
	// no feature annotation was supplied.
	Region regionmatch.MatchType
}

// NewEvidence returns an Evidence with Region set to None.
func NewEvidence(ref, alt string, quality, events int, ctx OptionalContext) Evidence {
	return Evidence{
		Ref:     ref,
		Alt:     alt,
		Quality: quality,
		Events:  events,
		Context: ctx,
	}
}

// IsIndel returns true if ref and alt differ in length.
func (e Evidence) IsIndel() bool { return len(e.Ref) != len(e.Alt) }

// LengthDelta returns the number of inserted or deleted bases, i.e. the
// absolute difference between the allele lengths.
func (e Evidence) LengthDelta() int {
	d := len(e.Alt) - len(e.Ref)
	if d < 0 {
		return -d
	}
	return d
}

// MergeContextWith returns a copy of e whose context is extended by other's.
// Quality, Events and Region are e's own; they are never summed here.
//
// The alleles must match and both contexts must be present, else an
// errors.Invalid error is returned.  A context conflict yields the
// errors.Integrity error from Context.Extend.
func (e Evidence) MergeContextWith(other Evidence) (Evidence, error) {
	if e.Ref != other.Ref || e.Alt != other.Alt {
		return Evidence{}, errors.E(errors.Invalid,
			fmt.Sprintf("readcontext: cannot merge %s>%s with %s>%s", e.Ref, e.Alt, other.Ref, other.Alt))
	}
	c, ok := e.Context.Get()
	oc, ook := other.Context.Get()
	if !ok || !ook {
		return Evidence{}, errors.E(errors.Invalid,
			fmt.Sprintf("readcontext: cannot merge %s>%s evidence without a read context", e.Ref, e.Alt))
	}
	merged, err := c.Extend(oc)
	if err != nil {
		return Evidence{}, err
	}
	r := e
	r.Context = Present(merged)
	return r, nil
}

// String implements fmt.Stringer.
func (e Evidence) String() string {
	return fmt.Sprintf("%s>%s qual=%d events=%d ctx=%v region=%v",
		e.Ref, e.Alt, e.Quality, e.Events, e.Context, e.Region)
}
