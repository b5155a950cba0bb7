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
package pipeline

import (
	"github.com/grailbio/fiber/interval"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Interval tags.  Starts and lengths are B:I arrays in forward fiber
// coordinates.
var (
	nucStartTag = sam.NewTag("ns")
	nucLenTag   = sam.NewTag("nl")
	mspStartTag = sam.NewTag("as")
	mspLenTag   = sam.NewTag("al")
)

// setIntervals replaces the startTag/lenTag pair of rec with s.
func setIntervals(rec *sam.Record, startTag, lenTag sam.Tag, s interval.Set) error {
	kept := rec.AuxFields[:0]
	for _, aux := range rec.AuxFields {
		if t := aux.Tag(); t != startTag && t != lenTag {
			kept = append(kept, aux)
		}
	}
	rec.AuxFields = kept
	starts := make([]uint32, len(s))
	sizes := make([]uint32, len(s))
	for i, iv := range s {
		starts[i] = uint32(iv.Start)
		sizes[i] = uint32(iv.Size)
	}
	startAux, err := sam.NewAux(startTag, starts)
	if err != nil {
		return err
	}
	lenAux, err := sam.NewAux(lenTag, sizes)
	if err != nil {
		return err
	}
	rec.AuxFields = append(rec.AuxFields, startAux, lenAux)
	return nil
}

// getIntervals reads the startTag/lenTag pair of rec.  ok is false if either
// tag is missing.
func getIntervals(rec *sam.Record, startTag, lenTag sam.Tag) (s interval.Set, ok bool, err error) {
	startAux, lenAux := rec.AuxFields.Get(startTag), rec.AuxFields.Get(lenTag)
	if startAux == nil || lenAux == nil {
		return nil, false, nil
	}
	starts, err := auxInts(startAux)
	if err != nil {
		return nil, false, err
	}
	sizes, err := auxInts(lenAux)
	if err != nil {
		return nil, false, err
	}
	if len(starts) != len(sizes) {
		return nil, false, errors.Errorf("%s: %d %s values but %d %s values", rec.Name, len(starts), startTag, len(sizes), lenTag)
	}
	return interval.FromStartsSizes(starts, sizes), true, nil
}

func auxInts(aux sam.Aux) ([]int, error) {
	var out []int
	switch v := aux.Value().(type) {
	case []uint32:
		for _, x := range v {
			out = append(out, int(x))
		}
	case []int32:
		for _, x := range v {
			out = append(out, int(x))
		}
	case []uint16:
		for _, x := range v {
			out = append(out, int(x))
		}
	case []int16:
		for _, x := range v {
			out = append(out, int(x))
		}
	case []uint8:
		for _, x := range v {
			out = append(out, int(x))
		}
	case []int8:
		for _, x := range v {
			out = append(out, int(x))
		}
	default:
		return nil, errors.Errorf("tag %s has type %T, want an integer array", aux.Tag(), v)
	}
	return out, nil
}
