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
	"github.com/pkg/errors"
)

// StatePathCalls converts a decoded state path over the masked signal into
// nucleosome calls in fiber coordinates.  positions maps masked indexes to
// fiber offsets.  A run of nucState covering masked indexes [s, s+n) spans
// fiber [positions[s], positions[s+n-1]); calls smaller than cutoff are
// dropped.
func StatePathCalls(states []int, positions []int, nucState, cutoff int) (interval.Set, error) {
	if len(states) != len(positions) {
		return nil, errors.Errorf("nucleosome.StatePathCalls: %d states for %d positions", len(states), len(positions))
	}
	calls := interval.Set{}
	runs := rle.Encode(states)
	for r := 0; r < runs.Len(); r++ {
		if runs.Values[r] != nucState {
			continue
		}
		start := positions[runs.Starts[r]]
		end := positions[runs.End(r)-1]
		if end-start >= cutoff {
			calls = append(calls, interval.Interval{Start: start, Size: end - start})
		}
	}
	return calls, nil
}
