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
package nucleosome

import (
	"sort"

	"github.com/grailbio/fiber/interval"
)

// MeshStats counts what Mesh did with the runs of the label array.
type MeshStats struct {
	// Simple is the number of gap-caller runs accepted.
	Simple int
	// Refined is the number of interior state-path runs snapped onto
	// methylation marks.
	Refined int
	// RefinementFailures is the number of interior state-path runs dropped
	// for lack of a mark on one side.
	RefinementFailures int
	// Unflanked is the number of state-path runs dropped because they touch
	// the fiber ends or another call.
	Unflanked int
	// TooSmall is the number of calls removed by the size cutoff.
	TooSmall int
}

// Add accumulates o into s.
func (s *MeshStats) Add(o MeshStats) {
	s.Simple += o.Simple
	s.Refined += o.Refined
	s.RefinementFailures += o.RefinementFailures
	s.Unflanked += o.Unflanked
	s.TooSmall += o.TooSmall
}

// Mesh merges gap-caller and state-path calls into one consensus set.
//
// Both sets are painted onto a label array of the given length, state-path
// calls first, so gap-caller calls win wherever they overlap.  Every
// gap-caller run is kept.  A state-path run is kept only if it is neither
// the first nor the last run and both neighbors are accessible; its
// boundaries are then replaced by the methylation marks nearest to them, the
// lower one chosen among marks below the run midpoint and the upper one
// among marks above it.  The result is sorted and filtered by cutoff.
func Mesh(simple, hmm interval.Set, methylated []int, length, cutoff int) (interval.Set, MeshStats) {
	var stats MeshStats
	runs := interval.Runs(length,
		interval.Layer{Label: interval.HMM, Intervals: hmm},
		interval.Layer{Label: interval.Simple, Intervals: simple})
	calls := interval.Set{}
	last := runs.Len() - 1
	for r := 0; r <= last; r++ {
		start, size := runs.Starts[r], runs.Lengths[r]
		switch runs.Values[r] {
		case interval.Simple:
			calls = append(calls, interval.Interval{Start: start, Size: size})
			stats.Simple++
		case interval.HMM:
			if r == 0 || r == last ||
				runs.Values[r-1] != interval.Accessible || runs.Values[r+1] != interval.Accessible {
				stats.Unflanked++
				continue
			}
			lower, upper, ok := refine(methylated, start, start+size)
			if !ok {
				stats.RefinementFailures++
				continue
			}
			calls = append(calls, interval.Interval{Start: lower + 1, Size: upper - lower - 1})
			stats.Refined++
		}
	}
	calls.Sort()
	out := calls.FilterMinSize(cutoff)
	stats.TooSmall = len(calls) - len(out)
	return out, stats
}

// refine returns the mark below the midpoint of [start, end) closest to
// start and the mark above the midpoint closest to end.  Ties go to the
// smaller position.
func refine(methylated []int, start, end int) (lower, upper int, ok bool) {
	mid := start + (end-start)/2
	below := methylated[:sort.SearchInts(methylated, mid)]
	above := methylated[sort.SearchInts(methylated, mid+1):]
	if len(below) == 0 || len(above) == 0 {
		return 0, 0, false
	}
	return nearest(below, start), nearest(above, end), true
}

// nearest returns the element of the sorted, non-empty marks closest to x.
func nearest(marks []int, x int) int {
	i := sort.SearchInts(marks, x)
	switch {
	case i == 0:
		return marks[0]
	case i == len(marks):
		return marks[i-1]
	case x-marks[i-1] <= marks[i]-x:
		return marks[i-1]
	}
	return marks[i]
}
