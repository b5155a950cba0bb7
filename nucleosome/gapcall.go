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
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/fiber/rle"
)

// GapCall finds nucleosomes from the gaps between consecutive methylation
// positions of a fiber of the given length.
//
// Every gap of at least opts.Cutoff bases yields a call covering the
// unmethylated bases of the gap.  Runs of two or more consecutive gaps whose
// sizes lie in [opts.ShortGapMin, opts.ShortGapMax] are merged into a single
// call spanning the whole run, replacing the plain calls of those gaps.  A
// merged run ending at the last methylation position extends to the end of
// the fiber, and terminal is then true.
//
// The result is sorted by start.  Fewer than two positions yield no calls.
func GapCall(methylated []int, length int, opts Opts) (calls interval.Set, terminal bool) {
	calls = interval.Set{}
	n := len(methylated)
	if n < 2 {
		return calls, false
	}
	var short []int
	plainGap := make([]int, 0, n)
	for i := 0; i < n-1; i++ {
		d := methylated[i+1] - methylated[i]
		if d >= opts.Cutoff {
			calls = append(calls, interval.Interval{Start: methylated[i] + 1, Size: d - 1})
			plainGap = append(plainGap, i)
		}
		if d >= opts.ShortGapMin && d <= opts.ShortGapMax {
			short = append(short, i)
		}
	}
	if len(short) < 2 {
		return calls, false
	}

	consecutive := make([]bool, len(short)-1)
	for j := range consecutive {
		consecutive[j] = short[j+1]-short[j] == 1
	}
	runs := rle.Encode(consecutive)
	var merged interval.Set
	covered := make([]bool, n-1)
	for r := 0; r < runs.Len(); r++ {
		if !runs.Values[r] {
			continue
		}
		first := short[runs.Starts[r]]
		last := short[runs.Starts[r]+runs.Lengths[r]]
		start := methylated[first] + 1
		end := methylated[last+1]
		if last+1 == n-1 {
			end = length
			terminal = true
		}
		merged = append(merged, interval.Interval{Start: start, Size: end - start})
		for g := first; g <= last; g++ {
			covered[g] = true
		}
	}

	kept := calls[:0]
	for k, c := range calls {
		if !covered[plainGap[k]] {
			kept = append(kept, c)
		}
	}
	calls = append(kept, merged...)
	calls.Sort()
	return calls, terminal
}
