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
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/evidence/regionmatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceShape(t *testing.T) {
	snv := NewEvidence("A", "G", 30, 1, Absent())
	assert.False(t, snv.IsIndel())
	assert.Equal(t, 0, snv.LengthDelta())
	assert.Equal(t, regionmatch.None, snv.Region)

	ins := NewEvidence("A", "ATT", 30, 1, Absent())
	assert.True(t, ins.IsIndel())
	assert.Equal(t, 2, ins.LengthDelta())

	del := NewEvidence("ATT", "A", 30, 1, Absent())
	assert.True(t, del.IsIndel())
	assert.Equal(t, 2, del.LengthDelta())
}

func TestMergeContextWith(t *testing.T) {
	a := NewEvidence("C", "CAG", 30, 2, Present(mustNew(t, "TTCAGGT", 2, 1, 3, 1)))
	b := NewEvidence("C", "CAG", 20, 1, Present(mustNew(t, "GGTCAGGTA", 3, 1, 3, 3)))

	m, err := a.MergeContextWith(b)
	require.NoError(t, err)
	assert.Equal(t, 30, m.Quality)
	assert.Equal(t, 2, m.Events)
	c, ok := m.Context.Get()
	require.True(t, ok)
	assert.Equal(t, "CAGG", string(c.Core()))
	assert.Equal(t, "GGT[CAGG]TA", c.String())

	// The receiver is unchanged.
	ac, _ := a.Context.Get()
	assert.Equal(t, "T[CAGG]T", ac.String())

	_, err = a.MergeContextWith(NewEvidence("C", "CA", 20, 1, b.Context))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
	_, err = a.MergeContextWith(NewEvidence("C", "CAG", 20, 1, Absent()))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	conflict := NewEvidence("C", "CAG", 20, 1, Present(mustNew(t, "TTCATGT", 2, 1, 3, 1)))
	_, err = a.MergeContextWith(conflict)
	assert.True(t, errors.Is(errors.Integrity, err), "%v", err)
}
