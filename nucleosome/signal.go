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

// Signal is the binary methylation signal of one fiber.
type Signal struct {
	// Masked has one entry per A/T base of the fiber, true where methylated.
	Masked []bool
	// Positions are the fiber offsets of the A/T bases; Masked[i] describes
	// Positions[i].
	Positions []int
	// Methylated are the methylation positions.
	Methylated []int
}

func informative(b byte) bool {
	switch b {
	case 'A', 'T', 'a', 't':
		return true
	}
	return false
}

// ExtractSignal builds the masked signal of a fiber from its sequence and
// its sorted, deduplicated methylation positions.  It returns
// ErrNoModifications if methylated is empty and a *ConsistencyError if a
// position is out of range, unsorted, or not on an A/T base.
func ExtractSignal(seq []byte, methylated []int) (Signal, error) {
	if len(methylated) == 0 {
		return Signal{}, ErrNoModifications
	}
	var sig Signal
	sig.Methylated = methylated
	for i, p := range methylated {
		if p < 0 || p >= len(seq) || (i > 0 && p <= methylated[i-1]) {
			ce := &ConsistencyError{Pos: p, Len: len(seq)}
			if p >= 0 && p < len(seq) {
				ce.Base = seq[p]
			}
			return Signal{}, ce
		}
		if !informative(seq[p]) {
			return Signal{}, &ConsistencyError{Pos: p, Base: seq[p], Len: len(seq)}
		}
	}
	j := 0
	for i, b := range seq {
		if !informative(b) {
			continue
		}
		sig.Positions = append(sig.Positions, i)
		m := j < len(methylated) && methylated[j] == i
		if m {
			j++
		}
		sig.Masked = append(sig.Masked, m)
	}
	return sig, nil
}
