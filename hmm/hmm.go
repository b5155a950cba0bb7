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

// Package hmm provides hidden Markov models over a binary methylation signal.
// Models are read-only after construction and may be shared across
// goroutines.
package hmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Model decodes a binary methylation signal into a state path.
type Model interface {
	// NumStates returns the number of hidden states.
	NumStates() int
	// Decode returns the most likely state for each observation.
	Decode(obs []bool) []int
	// MethylatedEmission returns P(methylated | state).
	MethylatedEmission(state int) float64
}

// NucleosomeState returns the state whose methylated emission probability
// is lowest.  Nucleosomes protect DNA from the methyltransferase.
func NucleosomeState(m Model) int {
	p := make([]float64, m.NumStates())
	for s := range p {
		p[s] = m.MethylatedEmission(s)
	}
	return floats.MinIdx(p)
}

// probTolerance is the allowed deviation of a probability row sum from 1.
const probTolerance = 1e-6

// Discrete is a hidden Markov model with a Bernoulli emission per state.
type Discrete struct {
	start []float64   // log P(state at t=0)
	trans [][]float64 // log P(j at t+1 | i at t)
	emit  [][2]float64
	pMeth []float64
}

// NewDiscrete creates a model.  emit[s] is {P(unmethylated|s),
// P(methylated|s)}.  Every distribution must sum to 1.
func NewDiscrete(start []float64, trans [][]float64, emit [][2]float64) (*Discrete, error) {
	n := len(start)
	if n == 0 {
		return nil, errors.Errorf("hmm.NewDiscrete: no states")
	}
	if len(trans) != n || len(emit) != n {
		return nil, errors.Errorf("hmm.NewDiscrete: %d start probabilities, %d transition rows, %d emission rows", n, len(trans), len(emit))
	}
	if err := checkDist("start", start); err != nil {
		return nil, err
	}
	m := &Discrete{
		start: logs(start),
		trans: make([][]float64, n),
		emit:  make([][2]float64, n),
		pMeth: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		if len(trans[i]) != n {
			return nil, errors.Errorf("hmm.NewDiscrete: transition row %d has %d entries, want %d", i, len(trans[i]), n)
		}
		if err := checkDist("transition", trans[i]); err != nil {
			return nil, err
		}
		if err := checkDist("emission", emit[i][:]); err != nil {
			return nil, err
		}
		m.trans[i] = logs(trans[i])
		m.emit[i] = [2]float64{math.Log(emit[i][0]), math.Log(emit[i][1])}
		m.pMeth[i] = emit[i][1]
	}
	return m, nil
}

func checkDist(what string, p []float64) error {
	for _, v := range p {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return errors.Errorf("hmm: %s probability %v out of range", what, v)
		}
	}
	if sum := floats.Sum(p); !scalar.EqualWithinAbs(sum, 1, probTolerance) {
		return errors.Errorf("hmm: %s probabilities %v sum to %v", what, p, sum)
	}
	return nil
}

func logs(p []float64) []float64 {
	l := make([]float64, len(p))
	for i, v := range p {
		l[i] = math.Log(v)
	}
	return l
}

// NumStates implements Model.
func (m *Discrete) NumStates() int { return len(m.start) }

// MethylatedEmission implements Model.
func (m *Discrete) MethylatedEmission(state int) float64 { return m.pMeth[state] }

func obsIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Decode implements Model with the Viterbi algorithm in log space.  Ties are
// broken toward the lower state index.
func (m *Discrete) Decode(obs []bool) []int {
	T, n := len(obs), len(m.start)
	path := make([]int, T)
	if T == 0 {
		return path
	}
	back := make([]int32, T*n)
	prev := make([]float64, n)
	cur := make([]float64, n)
	o := obsIndex(obs[0])
	for s := 0; s < n; s++ {
		prev[s] = m.start[s] + m.emit[s][o]
	}
	for t := 1; t < T; t++ {
		o = obsIndex(obs[t])
		for j := 0; j < n; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < n; i++ {
				if v := prev[i] + m.trans[i][j]; v > best {
					best, arg = v, i
				}
			}
			cur[j] = best + m.emit[j][o]
			back[t*n+j] = int32(arg)
		}
		prev, cur = cur, prev
	}
	path[T-1] = floats.MaxIdx(prev)
	for t := T - 1; t > 0; t-- {
		path[t-1] = int(back[t*n+path[t]])
	}
	return path
}
