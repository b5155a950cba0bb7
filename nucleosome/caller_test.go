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
	"bytes"
	"math/rand"
	"testing"

	"github.com/grailbio/fiber/encoding/modbase"
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/fiber/hmm"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaller(t *testing.T, opts Opts, model hmm.Model) *Caller {
	c, err := NewCaller(opts, model)
	require.NoError(t, err)
	return c
}

// fiberModel has an accessible state methylated at one base in four and a
// nucleosome state that is almost never methylated.
func fiberModel(t *testing.T) hmm.Model {
	m, err := hmm.NewDiscrete(
		[]float64{0.5, 0.5},
		[][]float64{{0.99, 0.01}, {0.01, 0.99}},
		[][2]float64{{0.75, 0.25}, {0.99, 0.01}})
	require.NoError(t, err)
	return m
}

func marksEvery(from, to, step int) []int {
	var m []int
	for p := from; p <= to; p += step {
		m = append(m, p)
	}
	return m
}

func TestCallPositionsEndToEnd(t *testing.T) {
	seq := bytes.Repeat([]byte("A"), 300)
	res, err := newCaller(t, DefaultOpts, nil).CallPositions(seq, []int{10, 12, 100, 103, 250})
	require.NoError(t, err)
	expect.EQ(t, res.Nucleosomes, ivs{{0, 10}, {13, 87}, {104, 146}, {250, 50}})
	expect.EQ(t, res.Accessible, ivs{{10, 3}, {100, 4}})
	assert.False(t, res.Terminal)
	assert.False(t, res.Degraded)

	opts := DefaultOpts
	opts.Bookends = false
	res, err = newCaller(t, opts, nil).CallPositions(seq, []int{10, 12, 100, 103, 250})
	require.NoError(t, err)
	expect.EQ(t, res.Nucleosomes, ivs{{13, 87}, {104, 146}})
}

func TestCallWithModel(t *testing.T) {
	seq := bytes.Repeat([]byte("A"), 500)
	var marks []int
	marks = append(marks, marksEvery(0, 100, 5)...)
	marks = append(marks, marksEvery(180, 300, 5)...)
	marks = append(marks, 345, 350)
	marks = append(marks, marksEvery(395, 495, 5)...)

	res, err := newCaller(t, DefaultOpts, nil).CallPositions(seq, marks)
	require.NoError(t, err)
	expect.EQ(t, res.Nucleosomes, ivs{{0, 0}, {101, 79}, {495, 5}})

	// The model bridges the two isolated marks at 345 and 350; the call is
	// snapped onto the marks at 300 and 395.
	res, err = newCaller(t, DefaultOpts, fiberModel(t)).CallPositions(seq, marks)
	require.NoError(t, err)
	expect.EQ(t, res.Nucleosomes, ivs{{0, 0}, {101, 79}, {301, 94}, {495, 5}})
	expect.EQ(t, res.Accessible, ivs{{0, 101}, {180, 121}, {395, 100}})
	expect.EQ(t, res.Mesh.Refined, 1)
	expect.EQ(t, res.Mesh.Simple, 1)
}

func TestCallInsufficientEvidence(t *testing.T) {
	c := newCaller(t, DefaultOpts, nil)
	seq := bytes.Repeat([]byte("A"), 10)
	res, err := c.CallPositions(seq, []int{3})
	assert.Equal(t, ErrInsufficientEvidence, err)
	assert.True(t, res.Degraded)
	expect.EQ(t, res.Nucleosomes, ivs{{0, 3}, {3, 7}})
	expect.EQ(t, res.Accessible, ivs{})

	_, err = c.CallPositions(seq, nil)
	assert.Equal(t, ErrNoModifications, err)
}

func TestCallFiber(t *testing.T) {
	// Forward orientation is the reverse complement of SEQ.
	fwd := bytes.Repeat([]byte("ACGT"), 100)
	rc := make([]byte, len(fwd))
	for i, b := range fwd {
		rc[len(fwd)-1-i] = map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A'}[b]
	}
	marks := []int{0, 3, 200, 203, 399}
	mm, ml, err := modbase.EncodeM6A(fwd, marks)
	require.NoError(t, err)
	rec := sam.GetFromFreePool()
	rec.Name = "fiber1"
	rec.Flags = sam.Reverse | sam.Unmapped
	rec.Seq = sam.NewSeq(rc)
	require.NoError(t, modbase.AppendTags(rec, mm, ml))

	f, err := fiber.New(rec)
	require.NoError(t, err)
	expect.EQ(t, f.M6A(0), marks)
	res, err := newCaller(t, DefaultOpts, nil).Call(f)
	require.NoError(t, err)
	expect.EQ(t, res.Nucleosomes, ivs{{0, 0}, {4, 196}, {204, 195}, {399, 1}})
}

func TestCallConsistencyError(t *testing.T) {
	rec := sam.GetFromFreePool()
	rec.Name = "bad"
	rec.Seq = sam.NewSeq([]byte("ACGT"))
	f := &fiber.Fiber{Rec: rec, Seq: []byte("ACGT"), Mods: modbase.Mods{
		{Base: 'A', Strand: '+', Code: "a"}: {{Pos: 1, Prob: 255}, {Pos: 3, Prob: 255}},
	}}
	_, err := newCaller(t, DefaultOpts, nil).Call(f)
	require.IsType(t, &ConsistencyError{}, err)
	expect.EQ(t, err.(*ConsistencyError).Name, "bad")
	assert.True(t, IsFatal(err))
}

func TestNewCallerValidates(t *testing.T) {
	for _, mod := range []func(*Opts){
		func(o *Opts) { o.Cutoff = 0 },
		func(o *Opts) { o.ShortGapMin = 200 },
		func(o *Opts) { o.MinModProb = 256 },
	} {
		opts := DefaultOpts
		mod(&opts)
		_, err := NewCaller(opts, nil)
		assert.Error(t, err)
	}
}

// chromatinMarks lays out linkers marked every few bases around unmethylated
// footprints.  Half of the footprints carry a pair of stray marks near their
// middle, which leaves both halves shorter than the default cutoff.
func chromatinMarks(r *rand.Rand, length int) []int {
	var marks []int
	for p := r.Intn(20); p < length; {
		linkerEnd := p + 40 + r.Intn(31)
		for ; p < linkerEnd && p < length; p += 3 + r.Intn(4) {
			marks = append(marks, p)
		}
		if p >= length {
			break
		}
		footprint := marks[len(marks)-1] + 1
		if r.Intn(2) == 0 {
			size := 90 + r.Intn(31)
			h := size/2 - 3
			marks = append(marks, footprint+h, footprint+h+5)
			p = footprint + size
		} else {
			p = footprint + 70 + r.Intn(91)
		}
	}
	for len(marks) > 0 && marks[len(marks)-1] >= length {
		marks = marks[:len(marks)-1]
	}
	return marks
}

func TestChromatinModelDecode(t *testing.T) {
	// A 94bp footprint with stray marks at +42 and +47 decodes as one
	// nucleosome.
	obs := make([]bool, 200)
	for p := 0; p < 200; p += 5 {
		if p <= 50 || p >= 145 {
			obs[p] = true
		}
	}
	obs[93], obs[98] = true, true
	states := fiberModel(t).Decode(obs)
	for p, s := range states {
		want := 0
		if p >= 51 && p < 145 {
			want = 1
		}
		require.Equal(t, want, s, "position %d", p)
	}
}

// Final calls are sorted, disjoint, start at 0, and together with the
// accessible stretches tile the fiber.  State-path calls inside footprints
// that the gap caller misses are snapped onto the flanking marks.
func TestCallInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	model := fiberModel(t)
	var stats MeshStats
	for iter := 0; iter < 100; iter++ {
		const length = 3000
		seq := bytes.Repeat([]byte("A"), length)
		marks := randomMarks(r, length)
		if iter%2 == 1 {
			marks = chromatinMarks(r, length)
		}
		res, err := newCaller(t, DefaultOpts, model).CallPositions(seq, marks)
		if len(marks) < 2 {
			continue
		}
		require.NoError(t, err)
		stats.Add(res.Mesh)
		nucs := res.Nucleosomes
		require.NotEmpty(t, nucs)
		expect.EQ(t, nucs[0].Start, 0)
		total := 0
		for i, iv := range nucs {
			if i > 0 {
				assert.True(t, nucs[i-1].End() <= iv.Start, "%v", nucs)
			}
			total += iv.Size
		}
		if !res.Terminal {
			expect.EQ(t, nucs[len(nucs)-1].End(), length)
		}
		for _, iv := range res.Accessible {
			total += iv.Size
		}
		expect.EQ(t, total, length)
	}
	assert.True(t, stats.Refined > 50, "%+v", stats)
	assert.True(t, stats.Simple > 0, "%+v", stats)
}
