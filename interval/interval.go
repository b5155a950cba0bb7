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
	"fmt"
	"sort"

	"github.com/grailbio/fiber/rle"
)

// Interval is a half-open [Start, Start+Size) range in some coordinate space
// (masked fiber, full fiber, or reference).
type Interval struct {
	Start int
	Size  int
}

// End returns the exclusive end of the interval.
func (iv Interval) End() int { return iv.Start + iv.Size }

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start, iv.End())
}

// Set is a list of intervals.  Caller outputs are ordered by start and
// non-overlapping, but sets from different callers may overlap each other.
type Set []Interval

// FromStartsSizes zips parallel start and size slices.  It panics if the
// slices have different lengths.
func FromStartsSizes(starts, sizes []int) Set {
	if len(starts) != len(sizes) {
		panic(fmt.Sprintf("interval.FromStartsSizes: %d starts, %d sizes", len(starts), len(sizes)))
	}
	s := make(Set, len(starts))
	for i := range starts {
		s[i] = Interval{Start: starts[i], Size: sizes[i]}
	}
	return s
}

// FromStartsEnds zips parallel start and exclusive-end slices.
func FromStartsEnds(starts, ends []int) Set {
	if len(starts) != len(ends) {
		panic(fmt.Sprintf("interval.FromStartsEnds: %d starts, %d ends", len(starts), len(ends)))
	}
	s := make(Set, len(starts))
	for i := range starts {
		s[i] = Interval{Start: starts[i], Size: ends[i] - starts[i]}
	}
	return s
}

// Starts returns the start of every interval.
func (s Set) Starts() []int {
	out := make([]int, len(s))
	for i, iv := range s {
		out[i] = iv.Start
	}
	return out
}

// Sizes returns the size of every interval.
func (s Set) Sizes() []int {
	out := make([]int, len(s))
	for i, iv := range s {
		out[i] = iv.Size
	}
	return out
}

// Ends returns the exclusive end of every interval.
func (s Set) Ends() []int {
	out := make([]int, len(s))
	for i, iv := range s {
		out[i] = iv.End()
	}
	return out
}

// Sort orders the set by start, then size.  The sort is stable so equal
// intervals keep their input order.
func (s Set) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Start != s[j].Start {
			return s[i].Start < s[j].Start
		}
		return s[i].Size < s[j].Size
	})
}

// FilterMinSize returns the intervals with Size >= minSize, preserving
// order.  The receiver is not modified.
func (s Set) FilterMinSize(minSize int) Set {
	out := make(Set, 0, len(s))
	for _, iv := range s {
		if iv.Size >= minSize {
			out = append(out, iv)
		}
	}
	return out
}

// Label values used when painting caller output onto a fiber.
const (
	// Accessible marks positions not covered by any nucleosome call.
	Accessible uint8 = iota
	// Simple marks positions covered by the deterministic gap caller.
	Simple
	// HMM marks positions covered only by the state-path caller.
	HMM
)

// Layer is a set of intervals painted with a single label.
type Layer struct {
	Label     uint8
	Intervals Set
}

// Paint rasterizes layers onto a zeroed label array of the given length.
// Layers are painted in argument order, so a later layer overwrites an
// earlier one wherever they overlap.  Intervals are clipped to
// [0, length).
func Paint(length int, layers ...Layer) []uint8 {
	labels := make([]uint8, length)
	for _, layer := range layers {
		for _, iv := range layer.Intervals {
			start, end := clip(iv.Start, length), clip(iv.End(), length)
			for i := start; i < end; i++ {
				labels[i] = layer.Label
			}
		}
	}
	return labels
}

func clip(x, length int) int {
	if x < 0 {
		return 0
	}
	if x > length {
		return length
	}
	return x
}

// Runs rasterizes layers and returns the run-length encoding of the result.
func Runs(length int, layers ...Layer) rle.Runs[uint8] {
	return rle.Encode(Paint(length, layers...))
}

// Complement returns the maximal runs of [0, length) not covered by s, in
// ascending order.
func Complement(s Set, length int) Set {
	runs := Runs(length, Layer{Label: Simple, Intervals: s})
	out := Set{}
	for i, v := range runs.Values {
		if v == Accessible {
			out = append(out, Interval{Start: runs.Starts[i], Size: runs.Lengths[i]})
		}
	}
	return out
}
