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

// Package fiber wraps an alignment record of one sequenced molecule.
//
// Fiber-local coordinates are 0-based offsets into the molecule in the
// orientation it was sequenced in.  For reverse-strand alignments that is
// the reverse complement of the record's SEQ.
package fiber

import (
	"math"

	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/grailbio/fiber/liftover"
	"github.com/grailbio/hts/sam"
)

var ecTag = sam.NewTag("ec")

// Fiber is one molecule.  It must not be modified after New returns.
type Fiber struct {
	Rec *sam.Record
	// Seq is the molecule sequence in forward orientation.
	Seq []byte
	// Mods holds the modification calls, in forward orientation.
	Mods modbase.Mods
}

// New builds a Fiber from rec.  It returns a *modbase.MismatchError if the
// MM tag does not fit the sequence.
func New(rec *sam.Record) (*Fiber, error) {
	seq := ForwardSeq(rec)
	mods, err := modbase.Parse(rec, seq)
	if err != nil {
		return nil, err
	}
	return &Fiber{Rec: rec, Seq: seq, Mods: mods}, nil
}

var complement [256]byte

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	for _, p := range []string{"AT", "CG", "GC", "TA", "at", "cg", "gc", "ta", "NN", "nn"} {
		complement[p[0]] = p[1]
	}
}

// ForwardSeq returns the sequence of rec in the orientation it was
// sequenced in.
func ForwardSeq(rec *sam.Record) []byte {
	seq := rec.Seq.Expand()
	if rec.Flags&sam.Reverse == 0 {
		return seq
	}
	n := len(seq)
	for i := 0; i < (n+1)/2; i++ {
		j := n - 1 - i
		seq[i], seq[j] = complement[seq[j]], complement[seq[i]]
	}
	return seq
}

// Name returns the read name.
func (f *Fiber) Name() string { return f.Rec.Name }

// Len returns the molecule length.
func (f *Fiber) Len() int { return len(f.Seq) }

// IsReverse reports whether the record is aligned to the reverse strand.
func (f *Fiber) IsReverse() bool { return f.Rec.Flags&sam.Reverse != 0 }

// IsMapped reports whether the record has an alignment.
func (f *Fiber) IsMapped() bool {
	return f.Rec.Flags&sam.Unmapped == 0 && f.Rec.Ref != nil
}

// Strand returns '+' or '-'.
func (f *Fiber) Strand() byte {
	if f.IsReverse() {
		return '-'
	}
	return '+'
}

// RefName returns the reference name, or "" if unmapped.
func (f *Fiber) RefName() string {
	if !f.IsMapped() {
		return ""
	}
	return f.Rec.Ref.Name()
}

// RefSpan returns the 0-based half-open reference span of the alignment.
func (f *Fiber) RefSpan() (start, end int) {
	return f.Rec.Pos, f.Rec.End()
}

// AlignedPairs returns the matched read/reference positions.
func (f *Fiber) AlignedPairs() []liftover.Pair {
	return liftover.AlignedPairs(f.Rec)
}

// M6A returns the sorted m6A positions whose ML probability is at least
// minProb.
func (f *Fiber) M6A(minProb uint8) []int {
	return f.Mods.Positions(modbase.M6AKeys, minProb)
}

// CpG returns the sorted 5mC positions whose ML probability is at least
// minProb.
func (f *Fiber) CpG(minProb uint8) []int {
	return f.Mods.Positions(modbase.CpGKeys, minProb)
}

// EC returns the rounded ec (effective coverage) tag, or 0 if absent.
func (f *Fiber) EC() int {
	aux := f.Rec.AuxFields.Get(ecTag)
	if aux == nil {
		return 0
	}
	switch v := aux.Value().(type) {
	case float32:
		return int(math.Round(float64(v)))
	case float64:
		return int(math.Round(v))
	case int8:
		return int(v)
	case uint8:
		return int(v)
	case int16:
		return int(v)
	case uint16:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}
