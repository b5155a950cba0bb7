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

// Package nucleosome calls nucleosomes and accessible stretches on single
// m6A-labelled DNA fibers.
//
// Two callers run on each fiber: GapCall looks for long unmethylated gaps
// between m6A marks, and StatePathCalls reads the nucleosome runs of a
// decoded hidden Markov state path.  Mesh reconciles the two, giving the
// gap caller precedence, and Bookend closes the fiber ends.  All
// coordinates are fiber-local and in forward orientation.
package nucleosome

import (
	"github.com/grailbio/fiber/fiber"
	"github.com/grailbio/fiber/hmm"
	"github.com/grailbio/fiber/interval"
	"github.com/pkg/errors"
)

// Opts controls nucleosome calling.
type Opts struct {
	// Cutoff is the minimum nucleosome size.  It is also the minimum gap
	// between marks for a plain gap call.
	Cutoff int
	// ShortGapMin and ShortGapMax bound the gaps that are merged when two or
	// more occur back to back.
	ShortGapMin int
	ShortGapMax int
	// MinCalls is the number of m6A calls below which a fiber only gets
	// bookends.
	MinCalls int
	// MinModProb is the minimum ML probability (0-255) of an m6A call.
	MinModProb int
	// Bookends adds synthetic calls at the fiber ends.
	Bookends bool
}

// DefaultOpts is the default configuration.
var DefaultOpts = Opts{
	Cutoff:      65,
	ShortGapMin: 20,
	ShortGapMax: 100,
	MinCalls:    2,
	MinModProb:  0,
	Bookends:    true,
}

// Validate checks opts for consistency.
func (o Opts) Validate() error {
	if o.Cutoff < 1 {
		return errors.Errorf("nucleosome: cutoff %d must be positive", o.Cutoff)
	}
	if o.ShortGapMin > o.ShortGapMax {
		return errors.Errorf("nucleosome: short gap window [%d, %d] is empty", o.ShortGapMin, o.ShortGapMax)
	}
	if o.MinModProb < 0 || o.MinModProb > 255 {
		return errors.Errorf("nucleosome: min mod probability %d not in [0, 255]", o.MinModProb)
	}
	return nil
}

// Result is the outcome of calling one fiber.
type Result struct {
	// Nucleosomes is sorted by start.
	Nucleosomes interval.Set
	// Accessible is the complement of Nucleosomes within the fiber.
	Accessible interval.Set
	// Methylated are the m6A positions used.
	Methylated []int
	// Terminal is set if the gap caller's last call reaches the fiber end.
	Terminal bool
	// Degraded is set if the fiber had too few calls and only got bookends.
	Degraded bool
	Mesh     MeshStats
}

// Caller runs the full calling procedure.  It is safe for concurrent use.
type Caller struct {
	opts     Opts
	model    hmm.Model
	nucState int
}

// NewCaller creates a Caller.  model may be nil, in which case only the gap
// caller is used.
func NewCaller(opts Opts, model hmm.Model) (*Caller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Caller{opts: opts, model: model}
	if model != nil {
		c.nucState = hmm.NucleosomeState(model)
	}
	return c, nil
}

// Opts returns the options c was created with.
func (c *Caller) Opts() Opts { return c.opts }

// Call calls nucleosomes on f.  It returns ErrNoModifications for a fiber
// without m6A calls, and a degraded result together with
// ErrInsufficientEvidence for a fiber with fewer than Opts.MinCalls calls.
// A *ConsistencyError is fatal; see IsFatal.
func (c *Caller) Call(f *fiber.Fiber) (Result, error) {
	res, err := c.CallPositions(f.Seq, f.M6A(uint8(c.opts.MinModProb)))
	if ce, ok := err.(*ConsistencyError); ok {
		ce.Name = f.Name()
	}
	return res, err
}

// CallPositions calls nucleosomes on a fiber given its forward sequence and
// sorted m6A positions.
func (c *Caller) CallPositions(seq []byte, methylated []int) (Result, error) {
	sig, err := ExtractSignal(seq, methylated)
	if err != nil {
		return Result{}, err
	}
	length := len(seq)
	res := Result{Methylated: methylated}
	if len(methylated) < c.opts.MinCalls {
		res.Degraded = true
		res.Nucleosomes = interval.Set{}
		if c.opts.Bookends {
			res.Nucleosomes = Bookend(nil, methylated, length, false)
		}
		res.Accessible = interval.Complement(res.Nucleosomes, length)
		return res, ErrInsufficientEvidence
	}

	simple, terminal := GapCall(methylated, length, c.opts)
	var hmmCalls interval.Set
	if c.model != nil {
		states := c.model.Decode(sig.Masked)
		if hmmCalls, err = StatePathCalls(states, sig.Positions, c.nucState, c.opts.Cutoff); err != nil {
			return Result{}, err
		}
	}
	res.Nucleosomes, res.Mesh = Mesh(simple, hmmCalls, methylated, length, c.opts.Cutoff)
	res.Terminal = terminal
	if c.opts.Bookends {
		res.Nucleosomes = Bookend(res.Nucleosomes, methylated, length, terminal)
	}
	res.Accessible = interval.Complement(res.Nucleosomes, length)
	return res, nil
}
