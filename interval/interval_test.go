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
package interval

import (
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestPaintPrecedence(t *testing.T) {
	hmm := Set{{Start: 2, Size: 6}}
	simple := Set{{Start: 5, Size: 4}}
	labels := Paint(12,
		Layer{Label: HMM, Intervals: hmm},
		Layer{Label: Simple, Intervals: simple})
	expect.EQ(t, labels, []uint8{0, 0, 2, 2, 2, 1, 1, 1, 1, 0, 0, 0})
}

func TestPaintClips(t *testing.T) {
	labels := Paint(4, Layer{Label: Simple, Intervals: Set{{Start: -2, Size: 3}, {Start: 3, Size: 10}}})
	expect.EQ(t, labels, []uint8{1, 0, 0, 1})
}

func TestComplement(t *testing.T) {
	tests := []struct {
		in     Set
		length int
		want   Set
	}{
		{Set{}, 5, Set{{0, 5}}},
		{Set{{0, 5}}, 5, Set{}},
		{Set{{0, 2}, {4, 2}}, 10, Set{{2, 2}, {6, 4}}},
		{Set{{3, 4}, {5, 3}}, 10, Set{{0, 3}, {8, 2}}},
	}
	for _, tt := range tests {
		expect.EQ(t, Complement(tt.in, tt.length), tt.want)
	}
}

func TestSetHelpers(t *testing.T) {
	s := FromStartsSizes([]int{30, 10, 10}, []int{5, 7, 3})
	s.Sort()
	assert.Equal(t, []int{10, 10, 30}, s.Starts())
	assert.Equal(t, []int{3, 7, 5}, s.Sizes())
	assert.Equal(t, []int{13, 17, 35}, s.Ends())
	assert.Equal(t, Set{{10, 7}, {30, 5}}, s.FilterMinSize(5))
	assert.Equal(t, Set{{1, 4}}, FromStartsEnds([]int{1}, []int{5}))
	assert.Panics(t, func() { FromStartsSizes([]int{1}, nil) })
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		region string
		want   Region
		ok     bool
	}{
		{"chr1:1,001-2,000", Region{"chr1", 1000, 2000}, true},
		{"chr2:5", Region{"chr2", 4, 5}, true},
		{"chrX", Region{"chrX", 0, math.MaxInt32}, true},
		{":5-6", Region{}, false},
		{"chr1:0-5", Region{}, false},
		{"chr1:10-5", Region{}, false},
		{"", Region{}, false},
	}
	for _, tt := range tests {
		got, err := ParseRegion(tt.region)
		if !tt.ok {
			assert.Error(t, err, tt.region)
			continue
		}
		assert.NoError(t, err, tt.region)
		assert.Equal(t, tt.want, got)
	}
	r := Region{"chr1", 100, 200}
	assert.True(t, r.Overlaps("chr1", 150, 400))
	assert.False(t, r.Overlaps("chr1", 200, 400))
	assert.False(t, r.Overlaps("chr2", 150, 160))
	assert.Equal(t, "chr1:101-200", r.String())
}
