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
package hmm

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Two JSON layouts are accepted.  The native one is
//
//   {"start": [p0, p1],
//    "transitions": [[p00, p01], [p10, p11]],
//    "emissions": [[P(unmethylated|0), P(methylated|0)], [...]]}
//
// The other is a pomegranate HiddenMarkovModel export: silent start and end
// states, emitting states with a DiscreteDistribution over {False, True}, and
// an edge list of [from, to, probability, pseudocount, group].  Edges into
// the end state are dropped and the remaining rows renormalized.

type jsonModel struct {
	Class       string          `json:"class"`
	Start       json.RawMessage `json:"start"`
	Transitions [][]float64     `json:"transitions"`
	Emissions   [][2]float64    `json:"emissions"`

	States     []pomState  `json:"states"`
	Edges      [][]float64 `json:"edges"`
	StartIndex int         `json:"start_index"`
}

type pomState struct {
	Name         string   `json:"name"`
	Distribution *pomDist `json:"distribution"`
}

type pomDist struct {
	Name       string               `json:"name"`
	Parameters []map[string]float64 `json:"parameters"`
}

var (
	trueKeys  = []string{"True", "true", "1", "1.0"}
	falseKeys = []string{"False", "false", "0", "0.0"}
)

// ReadJSON reads a Discrete model.
func ReadJSON(r io.Reader) (*Discrete, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var jm jsonModel
	if err := json.Unmarshal(data, &jm); err != nil {
		return nil, errors.Wrap(err, "hmm.ReadJSON")
	}
	if jm.Class == "HiddenMarkovModel" {
		return fromPomegranate(&jm)
	}
	var start []float64
	if err := json.Unmarshal(jm.Start, &start); err != nil {
		return nil, errors.Wrap(err, "hmm.ReadJSON: start")
	}
	return NewDiscrete(start, jm.Transitions, jm.Emissions)
}

func lookup(params map[string]float64, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			return v, true
		}
	}
	return 0, false
}

func fromPomegranate(jm *jsonModel) (*Discrete, error) {
	index := map[int]int{}
	var emit [][2]float64
	for i, st := range jm.States {
		if st.Distribution == nil {
			continue
		}
		if len(st.Distribution.Parameters) != 1 {
			return nil, errors.Errorf("hmm.ReadJSON: state %s: want one parameter map, got %d", st.Name, len(st.Distribution.Parameters))
		}
		params := st.Distribution.Parameters[0]
		pT, okT := lookup(params, trueKeys)
		pF, okF := lookup(params, falseKeys)
		if !okT && !okF {
			return nil, errors.Errorf("hmm.ReadJSON: state %s: %s has no boolean keys", st.Name, st.Distribution.Name)
		}
		if !okT {
			pT = 1 - pF
		} else if !okF {
			pF = 1 - pT
		}
		index[i] = len(emit)
		emit = append(emit, [2]float64{pF, pT})
	}
	n := len(emit)
	if n == 0 {
		return nil, errors.Errorf("hmm.ReadJSON: no emitting states")
	}
	start := make([]float64, n)
	trans := make([][]float64, n)
	for i := range trans {
		trans[i] = make([]float64, n)
	}
	for _, e := range jm.Edges {
		if len(e) < 3 {
			return nil, errors.Errorf("hmm.ReadJSON: malformed edge %v", e)
		}
		from, to, p := int(e[0]), int(e[1]), e[2]
		k, ok := index[to]
		if !ok {
			continue
		}
		if from == jm.StartIndex {
			start[k] += p
		} else if j, ok := index[from]; ok {
			trans[j][k] += p
		}
	}
	if err := normalize(start); err != nil {
		return nil, errors.Wrap(err, "hmm.ReadJSON: start edges")
	}
	for i := range trans {
		if err := normalize(trans[i]); err != nil {
			return nil, errors.Wrapf(err, "hmm.ReadJSON: edges of state %d", i)
		}
	}
	return NewDiscrete(start, trans, emit)
}

func normalize(p []float64) error {
	sum := floats.Sum(p)
	if sum <= 0 {
		return errors.New("no outgoing probability")
	}
	floats.Scale(1/sum, p)
	return nil
}

// Load reads a model from path.  Compressed files are detected and
// decompressed.
func Load(ctx context.Context, path string) (m *Discrete, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if m, err = ReadJSON(reader); err != nil {
		return nil, errors.Wrapf(err, "hmm.Load %s", path)
	}
	return m, nil
}
