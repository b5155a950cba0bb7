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

// Package rle run-length encodes label arrays.  Both nucleosome callers and
// the mesher describe their output as runs over a label array, so this is
// the shared primitive.
package rle

// Runs is the run-length encoding of a slice.  The three slices are parallel:
// run i covers [Starts[i], Starts[i]+Lengths[i]) and every element in it is
// equal to Values[i].  Runs cover the source slice exactly and adjacent runs
// always have different values.
type Runs[T comparable] struct {
	Lengths []int
	Starts  []int
	Values  []T
}

// Encode returns the runs of values.  A new run begins whenever an element
// differs from its predecessor.  Empty input yields empty (non-nil) runs.
func Encode[T comparable](values []T) Runs[T] {
	r := Runs[T]{
		Lengths: []int{},
		Starts:  []int{},
		Values:  []T{},
	}
	if len(values) == 0 {
		return r
	}
	start := 0
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			r.append(start, i-start, values[start])
			start = i
		}
	}
	r.append(start, len(values)-start, values[start])
	return r
}

func (r *Runs[T]) append(start, length int, v T) {
	r.Starts = append(r.Starts, start)
	r.Lengths = append(r.Lengths, length)
	r.Values = append(r.Values, v)
}

// Len returns the number of runs.
func (r Runs[T]) Len() int { return len(r.Values) }

// End returns the exclusive end offset of run i.
func (r Runs[T]) End(i int) int { return r.Starts[i] + r.Lengths[i] }

// Total returns the length of the encoded slice.
func (r Runs[T]) Total() int {
	if len(r.Values) == 0 {
		return 0
	}
	return r.End(len(r.Values) - 1)
}

// Decode expands the runs back into the original slice.
func (r Runs[T]) Decode() []T {
	out := make([]T, r.Total())
	for i, v := range r.Values {
		for j := r.Starts[i]; j < r.End(i); j++ {
			out[j] = v
		}
	}
	return out
}
