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

// Package modbase reads and writes base-modification calls stored in the
// MM/ML aux tags of a SAM record.
//
// All positions are 0-based offsets into the read as it came off the
// sequencer (the "forward" orientation), which is the reverse complement of
// SEQ for reverse-strand alignments.  MM skip counts are defined in that
// orientation, so no flipping happens here.
package modbase

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Key identifies a modification subtype: the unmodified base in the forward
// read, the strand the modification was called on, and the modification code
// (a single letter or a ChEBI number).
type Key struct {
	Base   byte
	Strand byte
	Code   string
}

func (k Key) String() string {
	return string([]byte{k.Base, k.Strand}) + k.Code
}

var (
	// M6AKeys are the subtypes that represent m6A.  A on the forward strand
	// and T on the reverse strand are the same chemical modification seen
	// from the two sides of the molecule.
	M6AKeys = []Key{{'A', '+', "a"}, {'T', '-', "a"}}
	// CpGKeys are the 5mC subtypes.
	CpGKeys = []Key{{'C', '+', "m"}}
)

// Call is a single modification call.
type Call struct {
	Pos  int
	Prob uint8
}

// Mods holds the calls of one record, keyed by subtype.  Each slice is
// sorted by position.
type Mods map[Key][]Call

var (
	mmTags = []sam.Tag{sam.NewTag("MM"), sam.NewTag("Mm")}
	mlTags = []sam.Tag{sam.NewTag("ML"), sam.NewTag("Ml")}
)

// MismatchError reports an MM tag that cannot be applied to the read
// sequence, e.g. a skip count running past the last matching base.  It
// indicates a coordinate-system bug upstream, not a data quality issue.
type MismatchError struct {
	Key    Key
	Needed int
	Have   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("modbase: %v entry needs base occurrence %d but sequence has %d", e.Key, e.Needed, e.Have)
}

func findAux(rec *sam.Record, tags []sam.Tag) sam.Aux {
	for _, tag := range tags {
		if aux := rec.AuxFields.Get(tag); aux != nil {
			return aux
		}
	}
	return nil
}

// Parse extracts the modification calls of rec.  fwdSeq is the read sequence
// in forward orientation (see fiber.ForwardSeq).  A record without an MM tag
// yields empty Mods and no error.
func Parse(rec *sam.Record, fwdSeq []byte) (Mods, error) {
	mmAux := findAux(rec, mmTags)
	if mmAux == nil {
		return Mods{}, nil
	}
	mm, ok := mmAux.Value().(string)
	if !ok {
		return nil, errors.Errorf("modbase.Parse: %s: MM tag has type %T, want string", rec.Name, mmAux.Value())
	}
	var ml []uint8
	if mlAux := findAux(rec, mlTags); mlAux != nil {
		if ml, ok = mlAux.Value().([]uint8); !ok {
			return nil, errors.Errorf("modbase.Parse: %s: ML tag has type %T, want []uint8", rec.Name, mlAux.Value())
		}
	}
	mods, err := ParseTags(mm, ml, fwdSeq)
	if err != nil {
		if _, isMismatch := err.(*MismatchError); isMismatch {
			return nil, err
		}
		return nil, errors.Wrapf(err, "modbase.Parse: %s", rec.Name)
	}
	return mods, nil
}

// ParseTags decodes MM/ML tag values against fwdSeq.  ml may be nil, in
// which case every call gets probability 255.
func ParseTags(mm string, ml []uint8, fwdSeq []byte) (Mods, error) {
	mods := Mods{}
	occurrences := map[byte][]int{}
	mlIdx := 0
	for _, entry := range strings.Split(mm, ";") {
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		head := fields[0]
		if len(head) < 3 {
			return nil, errors.Errorf("malformed MM entry %q", entry)
		}
		base, strand := upper(head[0]), head[1]
		if strand != '+' && strand != '-' {
			return nil, errors.Errorf("malformed MM entry %q: strand %q", entry, strand)
		}
		codeStr := head[2:]
		if last := codeStr[len(codeStr)-1]; last == '.' || last == '?' {
			codeStr = codeStr[:len(codeStr)-1]
		}
		codes := splitCodes(codeStr)
		if len(codes) == 0 {
			return nil, errors.Errorf("malformed MM entry %q: no modification code", entry)
		}

		occ, ok := occurrences[base]
		if !ok {
			occ = baseOccurrences(fwdSeq, base)
			occurrences[base] = occ
		}
		positions := make([]int, 0, len(fields)-1)
		next := 0
		for _, f := range fields[1:] {
			skip, err := strconv.Atoi(f)
			if err != nil || skip < 0 {
				return nil, errors.Errorf("malformed MM entry %q: skip %q", entry, f)
			}
			next += skip
			if next >= len(occ) {
				return nil, &MismatchError{Key: Key{base, strand, codes[0]}, Needed: next + 1, Have: len(occ)}
			}
			positions = append(positions, occ[next])
			next++
		}
		if ml != nil && mlIdx+len(positions)*len(codes) > len(ml) {
			return nil, errors.Errorf("ML tag has %d values, MM needs at least %d", len(ml), mlIdx+len(positions)*len(codes))
		}
		for ci, code := range codes {
			key := Key{base, strand, code}
			calls := mods[key]
			for pi, pos := range positions {
				prob := uint8(255)
				if ml != nil {
					prob = ml[mlIdx+pi*len(codes)+ci]
				}
				calls = append(calls, Call{Pos: pos, Prob: prob})
			}
			mods[key] = calls
		}
		mlIdx += len(positions) * len(codes)
	}
	for key, calls := range mods {
		sort.SliceStable(calls, func(i, j int) bool { return calls[i].Pos < calls[j].Pos })
		mods[key] = calls
	}
	return mods, nil
}

// splitCodes splits the code part of an MM entry.  A numeric code is a single
// ChEBI identifier; otherwise each letter is its own code.
func splitCodes(s string) []string {
	if s == "" {
		return nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		return []string{s}
	}
	codes := make([]string, len(s))
	for i := range s {
		codes[i] = s[i : i+1]
	}
	return codes
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// baseOccurrences returns the offsets of base in seq.  'N' matches every
// position.
func baseOccurrences(seq []byte, base byte) []int {
	var occ []int
	for i, b := range seq {
		if base == 'N' || upper(b) == base {
			occ = append(occ, i)
		}
	}
	return occ
}

// Positions merges the calls of the given subtypes whose probability is at
// least minProb.  The result is sorted and deduplicated.
func (m Mods) Positions(keys []Key, minProb uint8) []int {
	var pos []int
	for _, key := range keys {
		for _, c := range m[key] {
			if c.Prob >= minProb {
				pos = append(pos, c.Pos)
			}
		}
	}
	if len(pos) == 0 {
		return nil
	}
	sort.Ints(pos)
	out := pos[:1]
	for _, p := range pos[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of calls over the given subtypes.
func (m Mods) Count(keys []Key) int {
	n := 0
	for _, key := range keys {
		n += len(m[key])
	}
	return n
}
