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
package modbase

import (
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/hts/sam"
)

// EncodeM6A converts m6A positions (forward orientation) into MM and ML tag
// values.  Calls on A are written as an "A+a" entry and calls on T as a
// "T-a" entry, each with probability 255.  A position that is out of range or
// not on an A/T base returns a *MismatchError.
func EncodeM6A(fwdSeq []byte, positions []int) (mm string, ml []uint8, err error) {
	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	var b strings.Builder
	for _, key := range M6AKeys {
		var skips []int
		occIdx := -1
		prev := -1
		for i, pos := 0, 0; i < len(sorted); i++ {
			p := sorted[i]
			if p < 0 || p >= len(fwdSeq) {
				return "", nil, &MismatchError{Key: key, Needed: p, Have: len(fwdSeq)}
			}
			base := upper(fwdSeq[p])
			if base != 'A' && base != 'T' {
				return "", nil, &MismatchError{Key: key, Needed: p, Have: len(fwdSeq)}
			}
			if base != key.Base {
				continue
			}
			// Count occurrences of key.Base in (prev, p].
			for ; pos <= p; pos++ {
				if upper(fwdSeq[pos]) == key.Base {
					occIdx++
				}
			}
			skips = append(skips, occIdx-prev-1)
			prev = occIdx
		}
		if len(skips) == 0 {
			continue
		}
		b.WriteString(key.String())
		for _, s := range skips {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(s))
		}
		b.WriteByte(';')
		for range skips {
			ml = append(ml, 255)
		}
	}
	return b.String(), ml, nil
}

// AppendTags adds MM/ML values to rec.  If rec already carries modification
// tags the new entries are appended to them, otherwise new tags are created.
func AppendTags(rec *sam.Record, mm string, ml []uint8) error {
	if mm == "" {
		return nil
	}
	var oldMM string
	var oldML []uint8
	kept := rec.AuxFields[:0]
	for _, aux := range rec.AuxFields {
		switch aux.Tag() {
		case mmTags[0], mmTags[1]:
			oldMM, _ = aux.Value().(string)
		case mlTags[0], mlTags[1]:
			oldML, _ = aux.Value().([]uint8)
		default:
			kept = append(kept, aux)
		}
	}
	rec.AuxFields = kept
	if oldMM != "" && !strings.HasSuffix(oldMM, ";") {
		oldMM += ";"
	}
	mmAux, err := sam.NewAux(mmTags[0], oldMM+mm)
	if err != nil {
		return err
	}
	mlAux, err := sam.NewAux(mlTags[0], append(append([]uint8(nil), oldML...), ml...))
	if err != nil {
		return err
	}
	rec.AuxFields = append(rec.AuxFields, mmAux, mlAux)
	return nil
}
