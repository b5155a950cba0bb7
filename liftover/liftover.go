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

// Package liftover maps fiber-local intervals onto reference coordinates
// through the matched positions of an alignment.
package liftover

import (
	"sort"

	"github.com/grailbio/hts/sam"
)

// Pair is one aligned (read, reference) position.  Read offsets are in SEQ
// orientation, i.e. reverse-complemented for reverse-strand alignments.
type Pair struct {
	Read int
	Ref  int
}

// AlignedPairs returns the matched positions of rec, ordered by read
// position.  Inserted, deleted and clipped bases are not reported.  An
// unmapped record yields nil.
func AlignedPairs(rec *sam.Record) []Pair {
	if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil || len(rec.Cigar) == 0 {
		return nil
	}
	var pairs []Pair
	posInRef := rec.Pos
	posInRead := 0
	for _, co := range rec.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < cLen; i++ {
				pairs = append(pairs, Pair{Read: posInRead + i, Ref: posInRef + i})
			}
			posInRead += cLen
			posInRef += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarSkipped:
			// Same handling as deletion.
			fallthrough
		case sam.CigarDeletion:
			posInRef += cLen
		}
		// Hard clips and padding consume neither coordinate.
	}
	return pairs
}

// Lift maps the fiber-local intervals [starts[i], ends[i]) to reference
// coordinates.  length is the read length.  If reverse is set, the
// intervals are given in forward orientation and are mirrored onto SEQ
// orientation first.
//
// Each endpoint maps to the reference position of the first aligned pair at
// or after it; endpoints past the last pair clamp to the last pair.
// Intervals whose lifted end is not after their lifted start are dropped and
// counted in the dropped return value.  The results are in ascending order
// of read position.  The inputs are not modified.
func Lift(pairs []Pair, starts, ends []int, length int, reverse bool) (refStarts, refEnds []int, dropped int) {
	if len(starts) != len(ends) {
		panic("liftover.Lift: starts and ends differ in length")
	}
	n := len(starts)
	if len(pairs) == 0 {
		return nil, nil, n
	}
	sts, ens := starts, ends
	if reverse {
		sts = make([]int, n)
		ens = make([]int, n)
		for i := 0; i < n; i++ {
			sts[i] = length - ends[n-1-i]
			ens[i] = length - starts[n-1-i]
		}
	}
	refStarts = make([]int, 0, n)
	refEnds = make([]int, 0, n)
	for i := 0; i < n; i++ {
		s := pairs[searchRead(pairs, sts[i])].Ref
		e := pairs[searchRead(pairs, ens[i])].Ref
		if e <= s {
			dropped++
			continue
		}
		refStarts = append(refStarts, s)
		refEnds = append(refEnds, e)
	}
	return refStarts, refEnds, dropped
}

// searchRead returns the index of the first pair whose read position is >=
// target, clamped to the last pair.
func searchRead(pairs []Pair, target int) int {
	idx := sort.Search(len(pairs), func(i int) bool { return pairs[i].Read >= target })
	if idx >= len(pairs) {
		idx = len(pairs) - 1
	}
	return idx
}
